package correlate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/seanmck/mailcorr/internal/mailbox"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	day1 = time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	day2 = time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)
	day3 = time.Date(2025, 4, 3, 10, 0, 0, 0, time.UTC)
)

func testTarget() Target {
	return Target{
		ContactEmail: "jane.doe@acme.com",
		ContactFirst: "Jane",
		ContactLast:  "Doe",
		CSMEmail:     "sam.hill@vendor.com",
		CSMName:      "Sam Hill",
		EPEmail:      "kim.park@vendor.com",
		EPName:       "Kim Park",
	}
}

func testMessages() []mailbox.MessageRecord {
	return []mailbox.MessageRecord{
		{
			Subject:       "Re: Proposal",
			SenderAddress: "jane.doe@acme.com",
			SenderName:    "Jane Doe",
			Recipients:    []string{"sam.hill@vendor.com"},
			ReceivedAt:    day2,
			Body:          "Looks good",
		},
		{
			Subject:       "Re: Proposal",
			SenderAddress: "jane.doe@acme.com",
			SenderName:    "Jane Doe",
			Recipients:    []string{"sam.hill@vendor.com"},
			ReceivedAt:    day3,
			Body:          "One more question",
		},
		{
			Subject:       "Checking in",
			SenderAddress: "sam.hill@vendor.com",
			SenderName:    "Sam Hill",
			Recipients:    []string{"jane.doe@acme.com"},
			ReceivedAt:    day1,
		},
		{
			Subject:       "Automatic reply: Checking in",
			SenderAddress: "sam.hill@vendor.com",
			SenderName:    "Sam Hill",
			Recipients:    []string{"jane.doe@acme.com"},
			ReceivedAt:    day1,
		},
		{
			Subject:       "Intro call",
			SenderAddress: "kim.park@vendor.com",
			SenderName:    "Kim Park",
			Recipients:    []string{"NAME:doe.jane"},
			ReceivedAt:    day1,
		},
		{
			Subject:       "Spam",
			SenderAddress: "unknown@unknown.invalid",
			SenderName:    "Jane Doe",
			Recipients:    []string{"sam.hill@vendor.com"},
			ReceivedAt:    day1,
		},
		{
			Subject:       "Unrelated",
			SenderAddress: "bob@elsewhere.com",
			SenderName:    "Bob",
			Recipients:    []string{"other@vendor.com"},
			ReceivedAt:    day1,
		},
	}
}

func TestCheckContactReplies(t *testing.T) {
	got := CheckContactReplies(testMessages(), testTarget())

	if !got.HasReplied {
		t.Error("HasReplied = false, want true")
	}
	if got.ReplyCount != 2 {
		t.Errorf("ReplyCount = %d, want 2", got.ReplyCount)
	}
	if got.LastReplyDate == nil || !got.LastReplyDate.Equal(day3) {
		t.Errorf("LastReplyDate = %v, want %v", got.LastReplyDate, day3)
	}
	if len(got.FromCSMToContact) != 1 {
		t.Fatalf("FromCSMToContact = %d messages, want 1 (auto-reply excluded)", len(got.FromCSMToContact))
	}
	if got.FromCSMToContact[0].Subject != "Checking in" {
		t.Errorf("CSM subject = %q", got.FromCSMToContact[0].Subject)
	}
	if len(got.FromEPToContact) != 1 {
		t.Fatalf("FromEPToContact = %d messages, want 1 (via NAME token)", len(got.FromEPToContact))
	}
}

func TestCheckContactRepliesExcludesPlaceholderSenders(t *testing.T) {
	got := CheckContactReplies(testMessages(), testTarget())
	for _, s := range got.FromContact {
		if s.SenderEmail == "unknown@unknown.invalid" || s.SenderEmail == "" {
			t.Errorf("placeholder sender leaked into FromContact: %q", s.SenderEmail)
		}
	}
}

func TestCheckContactRepliesIdempotent(t *testing.T) {
	msgs := testMessages()
	first := CheckContactReplies(msgs, testTarget())
	second := CheckContactReplies(msgs, testTarget())
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("results differ between calls (-first +second):\n%s", diff)
	}
}

func TestCheckContactRepliesWithoutCSMOrEP(t *testing.T) {
	target := testTarget()
	target.CSMEmail = ""
	target.EPEmail = ""

	got := CheckContactReplies(testMessages(), target)
	if len(got.FromCSMToContact) != 0 || len(got.FromEPToContact) != 0 {
		t.Error("absent CSM/EP identities must yield empty subsets")
	}
	if got.ReplyCount != 2 {
		t.Errorf("ReplyCount = %d, want 2", got.ReplyCount)
	}
}

func TestCheckContactRepliesEmptyInput(t *testing.T) {
	got := CheckContactReplies(nil, Target{})
	if got.HasReplied || got.ReplyCount != 0 || got.LastReplyDate != nil {
		t.Errorf("empty input produced non-empty result: %+v", got)
	}
}

func TestNormalizeSubject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Re: Quarterly Review", "quarterly review"},
		{"RE: FW: Re: Quarterly Review!", "quarterly review"},
		{"Fwd: [EXT] budget 2025", "ext budget 2025"},
		{"  plain  subject  ", "plain subject"},
		{"", ""},
		{"Re:", ""},
	}
	for _, tt := range tests {
		if got := NormalizeSubject(tt.in); got != tt.want {
			t.Errorf("NormalizeSubject(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

type sentProvider struct {
	handle  *mailbox.ThreadHandle
	err     error
	gotTo   string
	gotSubj string
}

func (p *sentProvider) FetchInbox(ctx context.Context, daysBack int) ([]mailbox.MessageRecord, error) {
	return nil, nil
}

func (p *sentProvider) FetchSentMatching(ctx context.Context, toEmail, normalizedSubject string, daysBack int) (*mailbox.ThreadHandle, error) {
	p.gotTo = toEmail
	p.gotSubj = normalizedSubject
	return p.handle, p.err
}

func TestFindLastSentEmail(t *testing.T) {
	want := &mailbox.ThreadHandle{ID: "thread-1", Subject: "Proposal", ReceivedAt: day1}
	p := &sentProvider{handle: want}

	got := FindLastSentEmail(context.Background(), p, discardLogger(), "Jane.Doe@acme.com", "Re: Re: Proposal!", 30)
	if got == nil || got.ID != "thread-1" {
		t.Fatalf("got %+v, want thread-1", got)
	}
	if p.gotTo != "jane.doe@acme.com" {
		t.Errorf("provider received to = %q", p.gotTo)
	}
	if p.gotSubj != "proposal" {
		t.Errorf("provider received subject = %q, want normalized form", p.gotSubj)
	}
}

func TestFindLastSentEmailProviderFailure(t *testing.T) {
	p := &sentProvider{err: errors.New("bridge timeout")}
	got := FindLastSentEmail(context.Background(), p, discardLogger(), "jane.doe@acme.com", "Proposal", 30)
	if got != nil {
		t.Errorf("provider failure must yield nil, got %+v", got)
	}
}

func TestFindLastSentEmailEmptySubject(t *testing.T) {
	p := &sentProvider{handle: &mailbox.ThreadHandle{ID: "x"}}
	if got := FindLastSentEmail(context.Background(), p, discardLogger(), "jane.doe@acme.com", "Re:", 30); got != nil {
		t.Errorf("empty normalized subject must yield nil, got %+v", got)
	}
}
