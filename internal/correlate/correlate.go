// Package correlate partitions mailbox messages against CRM identities:
// replies from a contact, and messages the contact's CSM or EP sent to
// them.
package correlate

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/seanmck/mailcorr/internal/identity"
	"github.com/seanmck/mailcorr/internal/mailbox"
)

// Target is the set of identities correlated for one contact. CSM and EP
// fields are optional; absent identities yield empty subsets.
type Target struct {
	ContactEmail string
	ContactFirst string
	ContactLast  string
	CSMEmail     string
	CSMName      string
	EPEmail      string
	EPName       string
}

// MessageSummary is the caller-facing projection of a matched message.
type MessageSummary struct {
	Subject     string    `json:"subject"`
	Date        time.Time `json:"date"`
	Body        string    `json:"body"`
	SenderEmail string    `json:"sender_email"`
	SenderName  string    `json:"sender_name"`
}

// MatchResult is the outcome of correlating a message set with a contact.
type MatchResult struct {
	HasReplied       bool             `json:"has_replied"`
	ReplyCount       int              `json:"reply_count"`
	LastReplyDate    *time.Time       `json:"last_reply_date,omitempty"`
	FromContact      []MessageSummary `json:"from_contact"`
	FromCSMToContact []MessageSummary `json:"from_csm_to_contact"`
	FromEPToContact  []MessageSummary `json:"from_ep_to_contact"`
}

// autoReplyMarkers flag auto-generated subjects (bounces, out-of-office,
// auto-replies), matched case-insensitively as substrings. CSM/EP mail
// carrying these is machine traffic, not outreach.
var autoReplyMarkers = []string{
	"automatic reply",
	"auto-reply",
	"autoreply",
	"out of office",
	"out-of-office",
	"undeliverable",
	"delivery status notification",
	"delivery has failed",
	"mail delivery failed",
}

// isAutoGenerated reports whether a subject looks machine-generated.
func isAutoGenerated(subject string) bool {
	s := strings.ToLower(subject)
	for _, marker := range autoReplyMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// isPlaceholderSender reports whether the sender address is an obvious
// non-identity: empty, or one of the synthetic "unknown" forms the
// provider substitutes when the real sender cannot be resolved.
func isPlaceholderSender(addr string) bool {
	a := identity.NormalizeAddress(addr)
	return a == "" || strings.Contains(a, "unknown")
}

// CheckContactReplies partitions msgs into replies from the contact and
// messages from the CSM/EP to the contact. Total and idempotent: the same
// inputs always produce the same result, and malformed or empty data
// yields empty subsets rather than an error.
func CheckContactReplies(msgs []mailbox.MessageRecord, target Target) MatchResult {
	var result MatchResult

	for _, m := range msgs {
		if identity.IsSender(m, target.ContactEmail, "") && !isPlaceholderSender(m.SenderAddress) {
			result.FromContact = append(result.FromContact, summarize(m))
		}

		if isAutoGenerated(m.Subject) {
			continue
		}
		if target.CSMEmail != "" &&
			identity.IsSender(m, target.CSMEmail, target.CSMName) &&
			identity.IsRecipient(m.Recipients, target.ContactEmail, target.ContactFirst, target.ContactLast) {
			result.FromCSMToContact = append(result.FromCSMToContact, summarize(m))
		}
		if target.EPEmail != "" &&
			identity.IsSender(m, target.EPEmail, target.EPName) &&
			identity.IsRecipient(m.Recipients, target.ContactEmail, target.ContactFirst, target.ContactLast) {
			result.FromEPToContact = append(result.FromEPToContact, summarize(m))
		}
	}

	result.ReplyCount = len(result.FromContact)
	result.HasReplied = result.ReplyCount > 0
	for _, s := range result.FromContact {
		if result.LastReplyDate == nil || s.Date.After(*result.LastReplyDate) {
			d := s.Date
			result.LastReplyDate = &d
		}
	}
	return result
}

func summarize(m mailbox.MessageRecord) MessageSummary {
	return MessageSummary{
		Subject:     m.Subject,
		Date:        m.ReceivedAt,
		Body:        m.Body,
		SenderEmail: m.SenderAddress,
		SenderName:  m.SenderName,
	}
}

// NormalizeSubject strips leading re:/fw:/fwd: tokens (repeatedly, for
// stacked replies), keeps alphanumerics and spaces, lowercases, and
// collapses whitespace. Two subjects belong to the same thread when
// their normalized forms are equal.
func NormalizeSubject(subject string) string {
	s := strings.TrimSpace(strings.ToLower(subject))
	for {
		trimmed := s
		for _, prefix := range []string{"re:", "fw:", "fwd:"} {
			trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, prefix))
		}
		if trimmed == s {
			break
		}
		s = trimmed
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// FindLastSentEmail looks up the most recent outbound message to toEmail
// in the same thread as subject, so a later automated email can append to
// the thread instead of starting a new one. Provider failure is logged
// and reported as "no thread found", never an error.
func FindLastSentEmail(ctx context.Context, provider mailbox.Provider, logger *slog.Logger, toEmail, subject string, daysBack int) *mailbox.ThreadHandle {
	normalized := NormalizeSubject(subject)
	if normalized == "" || identity.NormalizeAddress(toEmail) == "" {
		return nil
	}

	handle, err := provider.FetchSentMatching(ctx, identity.NormalizeAddress(toEmail), normalized, daysBack)
	if err != nil {
		logger.Warn("sent-items lookup failed", "to", toEmail, "error", err)
		return nil
	}
	return handle
}
