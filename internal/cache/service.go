package cache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/singleflight"

	"github.com/seanmck/mailcorr/internal/mailbox"
)

// DefaultFallbackCapDays caps the direct, uncached fetch used when the
// cache layer fails: a degraded answer over a bounded window beats a
// provider call that runs for tens of minutes.
const DefaultFallbackCapDays = 90

// defaultTopUpTimeout bounds the background top-up's provider call.
const defaultTopUpTimeout = 30 * time.Minute

// Service is the retrieval facade: a single entry point that answers
// arbitrary lookback windows from cache plus a gap fetch, and keeps the
// cache topped up as a side effect.
//
// Cache-mutating operations are serialized by an internal mutex; two
// concurrent calls racing on a top-up cannot corrupt a chunk file.
type Service struct {
	store     *Store
	provider  mailbox.Provider
	refresher *Refresher
	logger    *slog.Logger
	now       func() time.Time

	fallbackCap  int
	topUpTimeout time.Duration
	syncTopUp    bool // run top-ups inline, for tests

	mu    sync.Mutex
	topup singleflight.Group
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceClock overrides the time source, for tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithFallbackCap overrides the uncached-fallback day cap.
func WithFallbackCap(days int) ServiceOption {
	return func(s *Service) {
		if days > 0 {
			s.fallbackCap = days
		}
	}
}

// WithTopUpTimeout overrides the background top-up timeout.
func WithTopUpTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.topUpTimeout = d
		}
	}
}

// WithSynchronousTopUp makes top-ups run inline instead of in a
// background goroutine. Tests use this to observe top-up effects
// deterministically.
func WithSynchronousTopUp() ServiceOption {
	return func(s *Service) { s.syncTopUp = true }
}

// NewService creates the retrieval facade.
func NewService(store *Store, provider mailbox.Provider, refresher *Refresher, logger *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:        store,
		provider:     provider,
		refresher:    refresher,
		logger:       logger,
		now:          time.Now,
		fallbackCap:  DefaultFallbackCapDays,
		topUpTimeout: defaultTopUpTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Messages returns a deduplicated, time-ordered message set covering the
// last daysBack days, transparently combining cached chunks with a fresh
// gap fetch. Cache failures degrade to a direct capped fetch; only a
// bootstrap failure (no cache exists and the provider is down) returns an
// error.
func (s *Service) Messages(ctx context.Context, daysBack int) ([]mailbox.MessageRecord, error) {
	if daysBack < 1 {
		daysBack = 1
	}
	today := Day(s.now())
	start := today.AddDate(0, 0, -daysBack)

	ix, err := s.store.Scan(s.now())
	if err != nil {
		s.logger.Warn("cache scan failed, falling back to direct fetch", "error", err)
		return s.fallbackFetch(ctx, daysBack)
	}

	last, ok := ix.LastCoveredDate()
	if !ok {
		return s.bootstrapAndRead(ctx, start, today)
	}

	cachedEnd := last
	if cachedEnd.After(today) {
		cachedEnd = today
	}
	merged := s.store.ReadRange(ix, start, cachedEnd)

	if last.Before(today) {
		gap := daysBetween(last, today)
		if gap > s.refresher.maxGapDays {
			gap = s.refresher.maxGapDays
		}
		fresh, err := s.provider.FetchInbox(ctx, gap)
		if err != nil {
			s.logger.Warn("gap fetch failed, falling back to direct fetch", "gap_days", gap, "error", err)
			if fb, fbErr := s.fallbackFetch(ctx, daysBack); fbErr == nil {
				return fb, nil
			}
			// Provider is fully down: serve what the cache has rather
			// than failing the sales workflow.
			s.logger.Warn("fallback fetch also failed, serving cached data only")
			return finalize(merged, start, today), nil
		}
		merged = mailbox.Merge(merged, fresh)
	}

	s.scheduleTopUp()
	return finalize(merged, start, today), nil
}

// bootstrapAndRead builds the first chunk synchronously, since downstream
// reads need the data immediately, then answers from it. This is the
// only path allowed to propagate a provider failure.
func (s *Service) bootstrapAndRead(ctx context.Context, start, today time.Time) ([]mailbox.MessageRecord, error) {
	s.mu.Lock()
	ix, err := s.store.Scan(s.now())
	if err == nil {
		if _, ok := ix.LastCoveredDate(); !ok {
			_, err = s.refresher.Refresh(ctx)
		}
	}
	if err == nil {
		ix, err = s.store.Scan(s.now())
	}
	s.mu.Unlock()
	if err != nil {
		return nil, eris.Wrap(err, "cache bootstrap")
	}

	return finalize(s.store.ReadRange(ix, start, today), start, today), nil
}

// fallbackFetch performs a direct, uncached provider fetch capped at
// min(daysBack, fallbackCap) days.
func (s *Service) fallbackFetch(ctx context.Context, daysBack int) ([]mailbox.MessageRecord, error) {
	capped := daysBack
	if capped > s.fallbackCap {
		capped = s.fallbackCap
	}
	msgs, err := s.provider.FetchInbox(ctx, capped)
	if err != nil {
		return nil, eris.Wrapf(err, "direct fetch (%d days)", capped)
	}
	today := Day(s.now())
	return finalize(msgs, today.AddDate(0, 0, -capped), today), nil
}

// scheduleTopUp runs a cache top-up without blocking the caller.
// Concurrent calls collapse into one refresh; failures are logged and the
// next call retries naturally via LastCoveredDate.
func (s *Service) scheduleTopUp() {
	run := func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("cache top-up panicked", "panic", r)
			}
		}()
		_, err, _ := s.topup.Do("top-up", func() (interface{}, error) {
			ctx, cancel := context.WithTimeout(context.Background(), s.topUpTimeout)
			defer cancel()
			s.mu.Lock()
			defer s.mu.Unlock()
			_, err := s.refresher.Refresh(ctx)
			return nil, err
		})
		if err != nil {
			s.logger.Warn("background cache top-up failed", "error", err)
		}
	}
	if s.syncTopUp {
		run()
		return
	}
	go run()
}

// Refresh runs one refresh pass synchronously under the service mutex.
// The create-cache endpoint and the cron scheduler use this.
func (s *Service) Refresh(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refresher.Refresh(ctx)
}

// finalize filters to the requested calendar window, dedupes, and sorts
// ascending by receive time.
func finalize(msgs []mailbox.MessageRecord, start, end time.Time) []mailbox.MessageRecord {
	startDay, endDay := Day(start), Day(end)
	filtered := make([]mailbox.MessageRecord, 0, len(msgs))
	for _, m := range msgs {
		day := m.Day()
		if day.Before(startDay) || day.After(endDay) {
			continue
		}
		filtered = append(filtered, m)
	}
	filtered = mailbox.Dedupe(filtered)
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].ReceivedAt.Before(filtered[j].ReceivedAt)
	})
	return filtered
}

// ChunkInfo describes one chunk for the cache-info endpoint.
type ChunkInfo struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Messages  int    `json:"messages"`
	File      string `json:"file"`
}

// CacheInfo summarizes the on-disk cache.
type CacheInfo struct {
	Chunks        []ChunkInfo `json:"chunks"`
	LastCacheDate string      `json:"lastCacheDate,omitempty"`
}

// Info lists chunk descriptors with per-chunk message counts. Corrupt
// chunks are reported with a count of -1 rather than hidden.
func (s *Service) Info() (CacheInfo, error) {
	ix, err := s.store.Scan(s.now())
	if err != nil {
		return CacheInfo{}, err
	}

	info := CacheInfo{Chunks: []ChunkInfo{}}
	for _, desc := range ix.Chunks {
		count := -1
		if msgs, err := s.store.ReadChunk(desc); err == nil {
			count = len(msgs)
		} else {
			s.logger.Warn("unreadable chunk in cache-info", "file", desc.Path, "error", err)
		}
		info.Chunks = append(info.Chunks, ChunkInfo{
			StartDate: desc.Start.Format(dayLayout),
			EndDate:   desc.End.Format(dayLayout),
			Messages:  count,
			File:      desc.Path,
		})
	}
	if last, ok := ix.LastCoveredDate(); ok {
		info.LastCacheDate = last.Format(dayLayout)
	}
	return info, nil
}
