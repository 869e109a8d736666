// Package scheduler provides cron-based scheduling for automated cache
// refresh.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/seanmck/mailcorr/internal/cache"
)

// Refresher is the cache operation the scheduler drives.
type Refresher interface {
	Refresh(ctx context.Context) (cache.Result, error)
}

// Status represents the state of the refresh job.
type Status struct {
	Scheduled bool      `json:"scheduled"`
	Running   bool      `json:"running"`
	Schedule  string    `json:"schedule,omitempty"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run,omitempty"`
	LastAdded int       `json:"last_days_added,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Scheduler runs the cache refresh on a cron schedule.
type Scheduler struct {
	cron      *cron.Cron
	refresher Refresher
	logger    *slog.Logger

	mu       sync.RWMutex
	entryID  cron.EntryID
	schedule string
	running  bool
	lastRun  time.Time
	lastAdd  int
	lastErr  error

	ctx     context.Context    // cancelled on Stop
	cancel  context.CancelFunc // cancels ctx
	wg      sync.WaitGroup     // tracks running refresh goroutines
	started bool
	stopped bool
}

// New creates a Scheduler that drives the given refresher.
func New(refresher Refresher) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
		))),
		refresher: refresher,
		logger:    slog.Default(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// WithLogger sets the logger for the scheduler.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// Schedule registers the refresh job with the given cron expression,
// replacing any previous schedule.
func (s *Scheduler) Schedule(cronExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule != "" {
		s.cron.Remove(s.entryID)
		s.schedule = ""
	}

	entryID, err := s.cron.AddFunc(cronExpr, func() {
		s.mu.Lock()
		if s.stopped || s.running {
			s.mu.Unlock()
			return
		}
		s.running = true
		s.wg.Add(1)
		s.mu.Unlock()
		s.runRefresh()
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	s.entryID = entryID
	s.schedule = cronExpr
	s.logger.Info("scheduled cache refresh",
		"schedule", cronExpr,
		"next_run", s.cron.Entry(entryID).Next)
	return nil
}

// Start begins executing the scheduled job.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.started = true
	s.stopped = false
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started")
}

// IsRunning returns true if the scheduler has been started and not yet stopped.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started && !s.stopped
}

// Stop gracefully stops the scheduler, cancels a running refresh, and waits
// for it to finish. Returns a context that is done when all work completes.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		close(done)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-done
		cancel()
	}()
	return ctx
}

// runRefresh executes one refresh pass (called by cron or TriggerRefresh).
// The caller must have already called wg.Add(1) and set running = true.
func (s *Scheduler) runRefresh() {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info("starting scheduled cache refresh")
	start := time.Now()

	result, err := s.refresher.Refresh(s.ctx)

	s.mu.Lock()
	if err != nil {
		s.lastErr = err
		s.logger.Error("scheduled cache refresh failed",
			"duration", time.Since(start),
			"error", err)
	} else {
		s.lastRun = time.Now()
		s.lastAdd = result.DaysAdded
		s.lastErr = nil
		s.logger.Info("scheduled cache refresh completed",
			"duration", time.Since(start),
			"days_added", result.DaysAdded,
			"emails", result.EmailCount)
	}
	s.mu.Unlock()
}

// TriggerRefresh manually triggers a refresh outside the schedule.
// Returns an error if a refresh is already running or the scheduler has
// been stopped.
func (s *Scheduler) TriggerRefresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler is stopped")
	}
	if s.running {
		return fmt.Errorf("refresh already running")
	}

	s.running = true
	s.wg.Add(1)
	go s.runRefresh()
	return nil
}

// Status returns the current state of the refresh job.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{
		Scheduled: s.schedule != "",
		Running:   s.running,
		Schedule:  s.schedule,
		LastRun:   s.lastRun,
		LastAdded: s.lastAdd,
	}
	if s.schedule != "" {
		status.NextRun = s.cron.Entry(s.entryID).Next
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	return status
}

// ValidateCronExpr validates a cron expression without scheduling anything.
func ValidateCronExpr(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
