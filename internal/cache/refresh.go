package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/rotisserie/eris"

	"github.com/seanmck/mailcorr/internal/mailbox"
)

// Default top-up policy. The fold thresholds bound individual chunk file
// size; the gap cap bounds a single provider call after a long idle
// period.
const (
	DefaultBootstrapDays   = 365
	DefaultMaxGapFetchDays = 30
	DefaultFoldMaxMessages = 500
)

// Result summarizes one refresh pass.
type Result struct {
	Success    bool   `json:"success"`
	StartDate  string `json:"startDate,omitempty"`
	EndDate    string `json:"endDate,omitempty"`
	EmailCount int    `json:"emailCount,omitempty"`
	DaysAdded  int    `json:"daysAdded"`
}

// Refresher drives the incremental cache state machine: bootstrap on
// first use, then top up the gap since the last covered date, either
// folding into the active chunk or starting a new one.
type Refresher struct {
	store    *Store
	provider mailbox.Provider
	logger   *slog.Logger
	now      func() time.Time

	bootstrapDays int
	maxGapDays    int
	foldMax       int
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) RefresherOption {
	return func(r *Refresher) { r.now = now }
}

// WithPolicy overrides the bootstrap window and fold thresholds. Zero
// values keep the defaults.
func WithPolicy(bootstrapDays, maxGapDays, foldMax int) RefresherOption {
	return func(r *Refresher) {
		if bootstrapDays > 0 {
			r.bootstrapDays = bootstrapDays
		}
		if maxGapDays > 0 {
			r.maxGapDays = maxGapDays
		}
		if foldMax > 0 {
			r.foldMax = foldMax
		}
	}
}

// NewRefresher creates a Refresher over the given store and provider.
func NewRefresher(store *Store, provider mailbox.Provider, logger *slog.Logger, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		store:         store,
		provider:      provider,
		logger:        logger,
		now:           time.Now,
		bootstrapDays: DefaultBootstrapDays,
		maxGapDays:    DefaultMaxGapFetchDays,
		foldMax:       DefaultFoldMaxMessages,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh runs one pass of the state machine. It is idempotent: a failed
// or skipped pass leaves the cache unchanged and the next call retries
// naturally from LastCoveredDate.
func (r *Refresher) Refresh(ctx context.Context) (Result, error) {
	today := Day(r.now())

	ix, err := r.store.Scan(r.now())
	if err != nil {
		return Result{}, err
	}

	last, ok := ix.LastCoveredDate()
	if !ok {
		return r.bootstrap(ctx, today)
	}

	gap := daysBetween(last, today)
	switch {
	case gap <= 0:
		r.logger.Debug("cache already covers today")
		return Result{
			Success:   true,
			StartDate: "",
			EndDate:   last.Format(dayLayout),
			DaysAdded: 0,
		}, nil
	case gap <= r.maxGapDays:
		return r.topUp(ctx, ix, last, today, gap)
	default:
		// The cache went stale beyond the fetch cap. Cover only the most
		// recent window; the older gap stays uncached rather than issuing
		// an unbounded provider call.
		r.logger.Warn("cache gap exceeds fetch cap, leaving older days uncached",
			"gap_days", gap, "cap_days", r.maxGapDays)
		return r.cappedCatchUp(ctx, today)
	}
}

// bootstrap fetches a full lookback window and writes the first chunk.
// This is the only path whose provider failure propagates upward: with no
// cache at all there is nothing to fall back to.
func (r *Refresher) bootstrap(ctx context.Context, today time.Time) (Result, error) {
	r.logger.Info("bootstrapping email cache", "days", r.bootstrapDays)

	msgs, err := r.provider.FetchInbox(ctx, r.bootstrapDays)
	if err != nil {
		return Result{}, eris.Wrap(err, "bootstrap fetch")
	}
	msgs = mailbox.Dedupe(msgs)

	start := today.AddDate(0, 0, -r.bootstrapDays)
	desc, err := r.store.WriteChunk(msgs, start, today)
	if err != nil {
		return Result{}, err
	}

	r.logger.Info("cache bootstrapped",
		"start", desc.Start.Format(dayLayout),
		"end", desc.End.Format(dayLayout),
		"messages", len(msgs))
	return Result{
		Success:    true,
		StartDate:  desc.Start.Format(dayLayout),
		EndDate:    desc.End.Format(dayLayout),
		EmailCount: len(msgs),
		DaysAdded:  r.bootstrapDays,
	}, nil
}

// topUp fetches the gap since the last covered date and either folds the
// new messages into the active chunk or starts a new chunk when the
// age/volume thresholds are exceeded.
func (r *Refresher) topUp(ctx context.Context, ix Index, last, today time.Time, gap int) (Result, error) {
	fresh, err := r.provider.FetchInbox(ctx, gap)
	if err != nil {
		return Result{}, eris.Wrapf(err, "top-up fetch (%d days)", gap)
	}
	fresh = mailbox.Dedupe(fresh)

	fold := gap < r.maxGapDays && len(fresh) <= r.foldMax
	latest, _ := ix.Latest()

	if fold {
		existing, err := r.store.ReadChunk(latest)
		if err != nil {
			// Active chunk unreadable: keep its file, start a new chunk
			// covering the gap instead of losing what it may hold.
			r.logger.Warn("active chunk unreadable, writing new chunk", "error", err)
			return r.newChunk(fresh, last.AddDate(0, 0, 1), today, gap)
		}
		merged := mailbox.Merge(existing, fresh)

		// Write the widened replacement before deleting the superseded
		// file, so a crash in between duplicates rather than loses data.
		desc, err := r.store.WriteChunk(merged, latest.Start, today)
		if err != nil {
			return Result{}, err
		}
		if desc.Path != latest.Path {
			if err := r.store.RemoveChunk(latest); err != nil {
				r.logger.Warn("failed to remove superseded chunk", "file", latest.Path, "error", err)
			}
		}

		r.logger.Info("folded new messages into active chunk",
			"new_messages", len(fresh), "chunk_messages", len(merged), "days_added", gap)
		return Result{
			Success:    true,
			StartDate:  desc.Start.Format(dayLayout),
			EndDate:    desc.End.Format(dayLayout),
			EmailCount: len(merged),
			DaysAdded:  gap,
		}, nil
	}

	return r.newChunk(fresh, last.AddDate(0, 0, 1), today, gap)
}

// cappedCatchUp covers only the most recent maxGapDays window with a new
// chunk, leaving the older gap permanently uncached.
func (r *Refresher) cappedCatchUp(ctx context.Context, today time.Time) (Result, error) {
	fresh, err := r.provider.FetchInbox(ctx, r.maxGapDays)
	if err != nil {
		return Result{}, eris.Wrapf(err, "catch-up fetch (%d days)", r.maxGapDays)
	}
	fresh = mailbox.Dedupe(fresh)
	return r.newChunk(fresh, today.AddDate(0, 0, -r.maxGapDays), today, r.maxGapDays)
}

func (r *Refresher) newChunk(msgs []mailbox.MessageRecord, start, end time.Time, daysAdded int) (Result, error) {
	desc, err := r.store.WriteChunk(msgs, start, end)
	if err != nil {
		return Result{}, err
	}
	r.logger.Info("wrote new cache chunk",
		"start", desc.Start.Format(dayLayout),
		"end", desc.End.Format(dayLayout),
		"messages", len(msgs))
	return Result{
		Success:    true,
		StartDate:  desc.Start.Format(dayLayout),
		EndDate:    desc.End.Format(dayLayout),
		EmailCount: len(msgs),
		DaysAdded:  daysAdded,
	}, nil
}
