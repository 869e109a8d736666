// Package mailbox defines the message model shared by the cache and
// correlation layers, and the provider interface that abstracts the
// external mailbox (desktop automation bridge or IMAP).
package mailbox

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Provider failure taxonomy. Providers wrap transport/timeout failures in
// ErrUnavailable and unparseable payloads in ErrMalformed so callers can
// classify with errors.Is and fall back instead of aborting.
var (
	ErrUnavailable = eris.New("mailbox provider unavailable")
	ErrMalformed   = eris.New("mailbox provider returned malformed data")
)

// Kind distinguishes regular mail items from system/non-deliverable
// reports, which carry a synthesized sender.
type Kind string

const (
	KindMail   Kind = "mail"
	KindReport Kind = "report"
)

// NamePrefix marks a recipient entry for which the provider could not
// resolve an address and returned a bare name instead.
const NamePrefix = "NAME:"

// MessageRecord is one mailbox item. ReceivedAt is normalized to UTC at
// ingestion so its RFC 3339 form sorts chronologically.
type MessageRecord struct {
	Subject       string    `json:"subject"`
	SenderName    string    `json:"sender_name"`
	SenderAddress string    `json:"sender_address"`
	Recipients    []string  `json:"recipients"`
	ReceivedAt    time.Time `json:"received_at"`
	Body          string    `json:"body"`
	Kind          Kind      `json:"kind"`
}

// Day returns the calendar day of the message in UTC.
func (m MessageRecord) Day() time.Time {
	t := m.ReceivedAt.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DedupKey identifies a message for merge deduplication. A structured key
// rather than a joined string, so separator characters in subjects cannot
// collide two distinct messages.
type DedupKey struct {
	Subject       string
	ReceivedAt    string
	SenderAddress string
}

// DedupKey returns the composite identity of the message.
func (m MessageRecord) DedupKey() DedupKey {
	return DedupKey{
		Subject:       m.Subject,
		ReceivedAt:    m.ReceivedAt.UTC().Format(time.RFC3339),
		SenderAddress: strings.ToLower(strings.TrimSpace(m.SenderAddress)),
	}
}

// Dedupe removes duplicate messages, keeping the first occurrence of each
// dedup key. The input order is preserved.
func Dedupe(msgs []MessageRecord) []MessageRecord {
	seen := make(map[DedupKey]bool, len(msgs))
	out := make([]MessageRecord, 0, len(msgs))
	for _, m := range msgs {
		key := m.DedupKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	return out
}

// Merge concatenates two message collections and deduplicates, first
// collection winning on key collisions.
func Merge(a, b []MessageRecord) []MessageRecord {
	merged := make([]MessageRecord, 0, len(a)+len(b))
	merged = append(merged, a...)
	merged = append(merged, b...)
	return Dedupe(merged)
}

// ThreadHandle is a provider-specific reference to an existing sent
// message, used to append a follow-up to its thread instead of starting a
// new one.
type ThreadHandle struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	ReceivedAt time.Time `json:"received_at"`
}

// Provider is the external mailbox. Both operations are expensive and can
// fail or hang; implementations must honor ctx deadlines and classify
// failures with ErrUnavailable / ErrMalformed.
type Provider interface {
	// FetchInbox returns inbox messages received within the last daysBack
	// days, time-ordered by the provider.
	FetchInbox(ctx context.Context, daysBack int) ([]MessageRecord, error)

	// FetchSentMatching returns the most recent sent message addressed to
	// toEmail whose normalized subject equals normalizedSubject, or nil if
	// none exists within the lookback window.
	FetchSentMatching(ctx context.Context, toEmail, normalizedSubject string, daysBack int) (*ThreadHandle, error)
}
