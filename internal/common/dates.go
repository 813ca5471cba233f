package common

import (
	"fmt"
	"time"
)

// BusinessDateLayout is the wire and storage format for business dates.
const BusinessDateLayout = "2006-01-02"

// FormatBusinessDate renders a time as a business date string.
func FormatBusinessDate(t time.Time) string {
	return t.Format(BusinessDateLayout)
}

// ParseBusinessDate parses a YYYY-MM-DD business date string.
func ParseBusinessDate(s string) (time.Time, error) {
	t, err := time.Parse(BusinessDateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid business date %q: %w", s, err)
	}
	return t, nil
}

// Today returns today's business date string in local time.
func Today() string {
	return FormatBusinessDate(time.Now())
}
