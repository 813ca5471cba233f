// Package orchestrator fans the EOD pipeline out over many accounts under a
// semaphore concurrency bound, with per-account deadlines, a single retry
// pass for failures, and non-blocking progress tracking per business date.
package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

// Service implements interfaces.OrchestratorService.
type Service struct {
	engine interfaces.EodService
	config common.OrchestratorConfig
	logger *common.Logger

	mu   sync.Mutex
	runs map[string]*runState // by business date
}

type runState struct {
	businessDate string
	startedAt    time.Time
	finishedAt   time.Time
	accounts     map[string]*models.AccountRun
	order        []string
}

// NewService creates an orchestrator over the given EOD engine.
func NewService(engine interfaces.EodService, config common.OrchestratorConfig, logger *common.Logger) *Service {
	return &Service{
		engine: engine,
		config: config,
		logger: logger,
		runs:   make(map[string]*runState),
	}
}

// ProcessAll runs EOD for every account under the configured concurrency
// bound. One account's failure never affects another; completed accounts are
// never rolled back to align with failures. The whole run is bounded by the
// run timeout; accounts still pending at the deadline are reported as
// unprocessed with TimedOut set.
func (s *Service) ProcessAll(ctx context.Context, accountIDs []string, businessDate string) (*models.RunResult, error) {
	if len(accountIDs) == 0 {
		return nil, fmt.Errorf("no accounts to process: %w", models.ErrInvalidArgument)
	}
	if _, err := common.ParseBusinessDate(businessDate); err != nil {
		return nil, fmt.Errorf("%v: %w", err, models.ErrInvalidArgument)
	}

	maxConcurrency := s.config.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 50
	}

	run := s.startRun(businessDate, accountIDs)

	runCtx, cancel := context.WithTimeout(ctx, s.config.GetRunTimeout())
	defer cancel()

	s.logger.Info().
		Str("date", businessDate).
		Int("accounts", len(accountIDs)).
		Int("max_concurrency", maxConcurrency).
		Msg("EOD run started")

	sem := semaphore.NewWeighted(int64(maxConcurrency))
	s.dispatch(runCtx, sem, run, accountIDs)

	// Single retry pass over failures, after a short backoff.
	if s.config.RetryFailed && runCtx.Err() == nil {
		failed := s.failedAccounts(run)
		if len(failed) > 0 {
			s.logger.Info().Str("date", businessDate).Int("accounts", len(failed)).Msg("Retrying failed accounts")
			select {
			case <-time.After(s.config.GetRetryBackoff()):
			case <-runCtx.Done():
			}
			if runCtx.Err() == nil {
				s.resetToPending(run, failed)
				s.dispatch(runCtx, sem, run, failed)
			}
		}
	}

	result := s.finishRun(run, runCtx.Err() != nil && ctx.Err() == nil)

	s.logger.Info().
		Str("date", businessDate).
		Int("completed", result.Completed).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Int("unprocessed", result.Unprocessed).
		Bool("timed_out", result.TimedOut).
		Dur("elapsed", result.Elapsed).
		Msg("EOD run finished")

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("run cancelled: %w", models.ErrCancelled)
	}
	return result, nil
}

// dispatch fans the accounts out, at most the semaphore's weight in flight.
func (s *Service) dispatch(ctx context.Context, sem *semaphore.Weighted, run *runState, accountIDs []string) {
	var wg sync.WaitGroup
	for _, accountID := range accountIDs {
		if err := sem.Acquire(ctx, 1); err != nil {
			break // run deadline or cancel; remaining accounts stay PENDING
		}

		wg.Add(1)
		go func(accountID string) {
			defer wg.Done()
			defer sem.Release(1)
			s.processOne(ctx, run, accountID)
		}(accountID)
	}
	wg.Wait()
}

// processOne runs one account under its own deadline, absorbing panics so a
// poisoned account cannot take the run down.
func (s *Service) processOne(ctx context.Context, run *runState, accountID string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("account", accountID).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("EOD worker panic recovered")
			s.setState(run, accountID, models.RunFailed, fmt.Sprintf("panic: %v", r))
		}
	}()

	s.setState(run, accountID, models.RunInProgress, "")

	accountCtx, cancel := context.WithTimeout(ctx, s.config.GetPerAccountTimeout())
	defer cancel()

	status, err := s.engine.ProcessEod(accountCtx, accountID, run.businessDate)
	switch {
	case err != nil && accountCtx.Err() == context.DeadlineExceeded:
		s.setState(run, accountID, models.RunFailed, models.RunReasonTimeout)
	case err != nil:
		s.setState(run, accountID, models.RunFailed, err.Error())
	case status != nil && status.Status == models.EodSkipped:
		s.setState(run, accountID, models.RunSkipped, status.Reason)
	default:
		s.setState(run, accountID, models.RunCompleted, "")
	}
}

// Progress returns a snapshot of the run for a business date, or nil when
// none is known. Never blocks on in-flight workers.
func (s *Service) Progress(businessDate string) *models.RunProgress {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[businessDate]
	if !ok {
		return nil
	}

	progress := &models.RunProgress{
		BusinessDate: businessDate,
		Total:        len(run.order),
	}
	for _, id := range run.order {
		entry := run.accounts[id]
		progress.Accounts = append(progress.Accounts, *entry)
		switch entry.State {
		case models.RunPending:
			progress.Pending++
		case models.RunInProgress:
			progress.InProgress++
		case models.RunCompleted:
			progress.Completed++
		case models.RunFailed:
			progress.Failed++
		case models.RunSkipped:
			progress.Skipped++
		}
	}

	end := run.finishedAt
	if end.IsZero() {
		end = time.Now()
	}
	progress.Elapsed = end.Sub(run.startedAt)

	done := progress.Completed + progress.Failed + progress.Skipped
	remaining := progress.Total - done
	if done > 0 && remaining > 0 && progress.Elapsed > 0 {
		rate := float64(done) / progress.Elapsed.Seconds()
		progress.EstimatedETA = time.Duration(float64(remaining)/rate) * time.Second
	}
	return progress
}

func (s *Service) startRun(businessDate string, accountIDs []string) *runState {
	run := &runState{
		businessDate: businessDate,
		startedAt:    time.Now(),
		accounts:     make(map[string]*models.AccountRun, len(accountIDs)),
	}
	for _, id := range accountIDs {
		run.accounts[id] = &models.AccountRun{AccountID: id, State: models.RunPending}
		run.order = append(run.order, id)
	}

	s.mu.Lock()
	s.runs[businessDate] = run
	s.mu.Unlock()
	return run
}

func (s *Service) setState(run *runState, accountID string, state models.AccountRunState, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := run.accounts[accountID]
	entry.State = state
	entry.Error = errMsg
	switch state {
	case models.RunInProgress:
		entry.StartedAt = time.Now()
	case models.RunCompleted, models.RunFailed, models.RunSkipped:
		entry.FinishedAt = time.Now()
	}
}

func (s *Service) failedAccounts(run *runState) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var failed []string
	for _, id := range run.order {
		if run.accounts[id].State == models.RunFailed {
			failed = append(failed, id)
		}
	}
	return failed
}

func (s *Service) resetToPending(run *runState, accountIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range accountIDs {
		run.accounts[id].State = models.RunPending
		run.accounts[id].Error = ""
	}
}

func (s *Service) finishRun(run *runState, timedOut bool) *models.RunResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	run.finishedAt = time.Now()
	result := &models.RunResult{
		BusinessDate: run.businessDate,
		Total:        len(run.order),
		TimedOut:     timedOut,
		Elapsed:      run.finishedAt.Sub(run.startedAt),
		Errors:       make(map[string]string),
	}
	for _, id := range run.order {
		entry := run.accounts[id]
		switch entry.State {
		case models.RunCompleted:
			result.Completed++
		case models.RunFailed:
			result.Failed++
			result.Errors[id] = entry.Error
		case models.RunSkipped:
			result.Skipped++
		default:
			result.Unprocessed++
		}
	}
	return result
}

// Compile-time check
var _ interfaces.OrchestratorService = (*Service)(nil)
