package cache

import (
	"context"
	"testing"
	"time"

	"github.com/seanmck/mailcorr/internal/mailbox"
)

func newTestService(t *testing.T, p mailbox.Provider) (*Service, *Store) {
	t.Helper()
	s := newTestStore(t)
	clock := func() time.Time { return fixedNow }
	r := NewRefresher(s, p, discardLogger(), WithClock(clock))
	svc := NewService(s, p, r, discardLogger(),
		WithServiceClock(clock),
		WithSynchronousTopUp(),
	)
	return svc, s
}

func TestMessagesBootstrapsOnEmptyCache(t *testing.T) {
	p := &fakeProvider{fetch: func(daysBack int) ([]mailbox.MessageRecord, error) {
		return messagesOverDays(daysBack, 1, fixedNow), nil
	}}
	svc, s := newTestService(t, p)

	got, err := svc.Messages(context.Background(), 30)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}

	// Exactly one bootstrap fetch of the full window.
	if p.callCount() != 1 || p.lastCall() != DefaultBootstrapDays {
		t.Errorf("provider calls = %v, want one %d-day bootstrap", p.calls, DefaultBootstrapDays)
	}

	// One chunk on disk covering the full window.
	ix, err := s.Scan(fixedNow)
	if err != nil {
		t.Fatal(err)
	}
	if len(ix.Chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(ix.Chunks))
	}

	// Returned set restricted to the requested 30 days: 31 calendar days
	// inclusive of today.
	if len(got) != 31 {
		t.Errorf("got %d messages, want 31 (one per day in window)", len(got))
	}
	start := Day(fixedNow).AddDate(0, 0, -30)
	for _, m := range got {
		if m.Day().Before(start) {
			t.Errorf("message from %v leaked outside the window", m.Day())
		}
	}
}

func TestMessagesBootstrapFailurePropagates(t *testing.T) {
	p := &fakeProvider{fetch: func(daysBack int) ([]mailbox.MessageRecord, error) {
		return nil, mailbox.ErrUnavailable
	}}
	svc, _ := newTestService(t, p)

	if _, err := svc.Messages(context.Background(), 30); err == nil {
		t.Fatal("bootstrap failure must surface as an error")
	}
}

func TestMessagesMergesCacheAndGapFetch(t *testing.T) {
	gapMsg := testMsg("fresh", Day(fixedNow))
	cachedMsg := testMsg("cached", Day(fixedNow).AddDate(0, 0, -10))

	p := &fakeProvider{fetch: func(daysBack int) ([]mailbox.MessageRecord, error) {
		// Both the gap fetch and the background top-up see the same
		// fresh message plus a duplicate of the cached one.
		return []mailbox.MessageRecord{gapMsg, cachedMsg}, nil
	}}
	svc, s := newTestService(t, p)

	stale := fixedNow.AddDate(0, 0, -3)
	if _, err := s.WriteChunk([]mailbox.MessageRecord{cachedMsg}, fixedNow.AddDate(0, 0, -40), stale); err != nil {
		t.Fatal(err)
	}

	got, err := svc.Messages(context.Background(), 30)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}

	subjects := map[string]int{}
	for _, m := range got {
		subjects[m.Subject]++
	}
	if subjects["fresh"] != 1 || subjects["cached"] != 1 {
		t.Errorf("merged set = %v, want one of each", subjects)
	}

	// The synchronous top-up folded the gap into the active chunk.
	last, ok := lastCovered(t, s)
	if !ok || !last.Equal(Day(fixedNow)) {
		t.Errorf("top-up did not extend coverage to today: %v", last)
	}
}

func TestMessagesFallsBackOnGapFetchFailure(t *testing.T) {
	fail := true
	p := &fakeProvider{}
	p.fetch = func(daysBack int) ([]mailbox.MessageRecord, error) {
		if fail {
			fail = false // gap fetch fails, fallback succeeds
			return nil, mailbox.ErrUnavailable
		}
		return []mailbox.MessageRecord{testMsg("direct", Day(fixedNow))}, nil
	}
	svc, s := newTestService(t, p)

	if _, err := s.WriteChunk(nil, fixedNow.AddDate(0, 0, -40), fixedNow.AddDate(0, 0, -3)); err != nil {
		t.Fatal(err)
	}

	got, err := svc.Messages(context.Background(), 200)
	if err != nil {
		t.Fatalf("Messages must not fail when the fallback works: %v", err)
	}
	if len(got) != 1 || got[0].Subject != "direct" {
		t.Errorf("got %v, want the direct-fetch result", got)
	}
	// Fallback is capped at min(daysBack, 90).
	if p.lastCall() != DefaultFallbackCapDays {
		t.Errorf("fallback fetched %d days, want %d", p.lastCall(), DefaultFallbackCapDays)
	}
}

func TestMessagesServesCacheWhenProviderFullyDown(t *testing.T) {
	p := &fakeProvider{fetch: func(daysBack int) ([]mailbox.MessageRecord, error) {
		return nil, mailbox.ErrUnavailable
	}}
	svc, s := newTestService(t, p)

	cachedMsg := testMsg("cached", Day(fixedNow).AddDate(0, 0, -5))
	if _, err := s.WriteChunk([]mailbox.MessageRecord{cachedMsg}, fixedNow.AddDate(0, 0, -40), fixedNow.AddDate(0, 0, -3)); err != nil {
		t.Fatal(err)
	}

	got, err := svc.Messages(context.Background(), 30)
	if err != nil {
		t.Fatalf("cached data must still be served: %v", err)
	}
	if len(got) != 1 || got[0].Subject != "cached" {
		t.Errorf("got %v, want the cached message", got)
	}
}

func TestMessagesSortedAscending(t *testing.T) {
	p := &fakeProvider{fetch: func(daysBack int) ([]mailbox.MessageRecord, error) {
		return messagesOverDays(daysBack, 3, fixedNow), nil
	}}
	svc, _ := newTestService(t, p)

	got, err := svc.Messages(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(got); i++ {
		if got[i].ReceivedAt.Before(got[i-1].ReceivedAt) {
			t.Fatalf("messages not sorted at index %d", i)
		}
	}
}

func TestInfo(t *testing.T) {
	p := &fakeProvider{}
	svc, s := newTestService(t, p)

	if _, err := s.WriteChunk(messagesOverDays(3, 2, fixedNow), fixedNow.AddDate(0, 0, -10), fixedNow); err != nil {
		t.Fatal(err)
	}

	info, err := svc.Info()
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if len(info.Chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(info.Chunks))
	}
	if info.Chunks[0].Messages != 6 {
		t.Errorf("chunk message count = %d, want 6", info.Chunks[0].Messages)
	}
	if info.LastCacheDate != Day(fixedNow).Format(dayLayout) {
		t.Errorf("LastCacheDate = %q", info.LastCacheDate)
	}
}

func TestInfoEmptyCache(t *testing.T) {
	svc, _ := newTestService(t, &fakeProvider{})
	info, err := svc.Info()
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Chunks) != 0 || info.LastCacheDate != "" {
		t.Errorf("empty cache info = %+v", info)
	}
}
