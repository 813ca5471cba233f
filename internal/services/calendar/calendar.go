// Package calendar answers business-day questions from the holiday store.
// The holiday set is loaded into memory and refreshed by the scheduler, so
// the hot-path checks never touch storage.
package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
)

// Service implements interfaces.CalendarService.
type Service struct {
	store   interfaces.RefDataStore
	logger  *common.Logger
	country string

	mu       sync.RWMutex
	holidays map[string]bool
}

// NewService creates a calendar for one holiday country code. The holiday
// set is empty until Refresh is called.
func NewService(store interfaces.RefDataStore, country string, logger *common.Logger) *Service {
	return &Service{
		store:    store,
		logger:   logger,
		country:  country,
		holidays: make(map[string]bool),
	}
}

// Refresh reloads the holiday set from storage.
func (s *Service) Refresh(ctx context.Context) error {
	dates, err := s.store.ListHolidays(ctx, s.country)
	if err != nil {
		return fmt.Errorf("failed to refresh holiday calendar: %w", err)
	}

	loaded := make(map[string]bool, len(dates))
	for _, d := range dates {
		loaded[d] = true
	}

	s.mu.Lock()
	s.holidays = loaded
	s.mu.Unlock()

	s.logger.Info().Str("country", s.country).Int("holidays", len(loaded)).Msg("Holiday calendar refreshed")
	return nil
}

// IsBusinessDay reports whether the date is a weekday and not a holiday.
// Malformed dates are not business days.
func (s *Service) IsBusinessDay(date string) bool {
	t, err := common.ParseBusinessDate(date)
	if err != nil {
		return false
	}
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}

	s.mu.RLock()
	holiday := s.holidays[date]
	s.mu.RUnlock()
	return !holiday
}

// PreviousBusinessDay returns the closest business day strictly before the
// given date. Malformed input returns the empty string.
func (s *Service) PreviousBusinessDay(date string) string {
	t, err := common.ParseBusinessDate(date)
	if err != nil {
		return ""
	}

	for i := 0; i < 366; i++ {
		t = t.AddDate(0, 0, -1)
		candidate := common.FormatBusinessDate(t)
		if s.IsBusinessDay(candidate) {
			return candidate
		}
	}
	// A full year of holidays means the calendar data is broken.
	return ""
}

// Compile-time check
var _ interfaces.CalendarService = (*Service)(nil)
