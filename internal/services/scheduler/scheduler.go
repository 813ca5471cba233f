// Package scheduler runs the recurring jobs: the nightly reconciliation
// sweep, the weekly batch purge and the holiday calendar refresh. Each job
// takes a named distributed lock first so it runs at most once across any
// number of instances.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
)

const (
	lockRecon = "recon-sweep"
	lockPurge = "batch-purge"

	tickInterval = time.Minute
)

// Service owns the scheduled jobs.
type Service struct {
	positions interfaces.PositionStore
	refdata   interfaces.RefDataStore
	locks     interfaces.LockStore
	recon     interfaces.ReconService
	calendar  interfaces.CalendarService
	config    common.SchedulerConfig
	logger    *common.Logger

	mu      sync.Mutex
	lastRun map[string]string // job -> "date HH:MM" last fired
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewService wires the scheduler.
func NewService(
	storage interfaces.StorageManager,
	recon interfaces.ReconService,
	calendar interfaces.CalendarService,
	config common.SchedulerConfig,
	logger *common.Logger,
) *Service {
	return &Service{
		positions: storage.PositionStore(),
		refdata:   storage.RefDataStore(),
		locks:     storage.LockStore(),
		recon:     recon,
		calendar:  calendar,
		config:    config,
		logger:    logger,
		lastRun:   make(map[string]string),
	}
}

// Start launches the tick loop. Safe to call once.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().
					Interface("panic", r).
					Str("stack", string(debug.Stack())).
					Msg("Scheduler panic recovered, loop stopped")
			}
		}()

		s.logger.Info().
			Str("recon_time", s.config.ReconTime).
			Str("purge", s.config.PurgeDay+" "+s.config.PurgeTime).
			Msg("Scheduler started")

		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("Scheduler stopped")
				return
			case now := <-ticker.C:
				s.tick(ctx, now)
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// tick fires every due job exactly once per scheduled minute.
func (s *Service) tick(ctx context.Context, now time.Time) {
	hhmm := now.Format("15:04")

	if hhmm == s.config.ReconTime && s.claim("recon", now, hhmm) {
		s.runRecon(ctx, now)
	}
	if hhmm == s.config.PurgeTime && strings.EqualFold(now.Weekday().String(), s.config.PurgeDay) &&
		s.claim("purge", now, hhmm) {
		s.runPurge(ctx)
	}
	// Keep the in-memory holiday set current once an hour.
	if now.Minute() == 0 && s.claim("calendar", now, hhmm) {
		if err := s.calendar.Refresh(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Calendar refresh failed")
		}
	}
}

// claim records that a job fired for this minute, preventing a double fire
// within one process. Cross-process exclusion is the lock store's job.
func (s *Service) claim(job string, now time.Time, hhmm string) bool {
	stamp := common.FormatBusinessDate(now) + " " + hhmm
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun[job] == stamp {
		return false
	}
	s.lastRun[job] = stamp
	return true
}

// runRecon reconciles every account for the most recent business day.
func (s *Service) runRecon(ctx context.Context, now time.Time) {
	acquired, err := s.locks.Acquire(ctx, lockRecon, s.config.GetLockAtMostFor())
	if err != nil {
		s.logger.Error().Err(err).Msg("Recon lock acquire failed")
		return
	}
	if !acquired {
		s.logger.Info().Msg("Recon sweep held by another instance")
		return
	}
	defer s.release(lockRecon)

	date := common.FormatBusinessDate(now)
	if !s.calendar.IsBusinessDay(date) {
		date = s.calendar.PreviousBusinessDay(date)
	}
	if date == "" {
		return
	}

	reports, err := s.recon.ReconcileAll(ctx, date)
	if err != nil {
		s.logger.Error().Str("date", date).Err(err).Msg("Scheduled reconciliation failed")
		return
	}
	s.logger.Info().Str("date", date).Int("accounts", len(reports)).Msg("Scheduled reconciliation complete")
}

// runPurge deletes archived and rolled-back batches past retention.
func (s *Service) runPurge(ctx context.Context) {
	acquired, err := s.locks.Acquire(ctx, lockPurge, s.config.GetLockAtMostFor())
	if err != nil {
		s.logger.Error().Err(err).Msg("Purge lock acquire failed")
		return
	}
	if !acquired {
		s.logger.Info().Msg("Batch purge held by another instance")
		return
	}
	defer s.release(lockPurge)

	cutoff := time.Now().AddDate(0, 0, -s.config.PurgeAfterDays)
	purged, err := s.positions.PurgeBatchesBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("Batch purge failed")
		return
	}
	s.logger.Info().Int("batches", purged).Time("cutoff", cutoff).Msg("Batch purge complete")
}

func (s *Service) release(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.locks.Release(ctx, name); err != nil {
		s.logger.Warn().Str("lock", name).Err(err).Msg("Lock release failed")
	}
}

// RunReconNow runs the reconciliation sweep immediately under the lock.
// Used by operators.
func (s *Service) RunReconNow(ctx context.Context) error {
	acquired, err := s.locks.Acquire(ctx, lockRecon, s.config.GetLockAtMostFor())
	if err != nil {
		return fmt.Errorf("recon lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("recon sweep already running elsewhere")
	}
	defer s.release(lockRecon)

	date := common.Today()
	if !s.calendar.IsBusinessDay(date) {
		date = s.calendar.PreviousBusinessDay(date)
	}
	_, err = s.recon.ReconcileAll(ctx, date)
	return err
}
