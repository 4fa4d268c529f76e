package market

import (
	"fmt"
	"time"
)

// CalendarOptions describe one exchange's trading window.
type CalendarOptions struct {
	Enabled  bool
	Timezone string
	Open     string // "15:04"
	Close    string // "15:04"
}

// Calendar gates fetches on regular trading hours. A disabled calendar
// reports the market as always open.
type Calendar struct {
	enabled   bool
	loc       *time.Location
	openMins  int
	closeMins int
}

// NewCalendar parses the configured trading window. Defaults cover the
// NYSE/NASDAQ regular session.
func NewCalendar(opts CalendarOptions) (*Calendar, error) {
	if !opts.Enabled {
		return &Calendar{}, nil
	}

	tz := opts.Timezone
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load market timezone: %w", err)
	}

	open, err := parseClock(opts.Open, 9*60+30)
	if err != nil {
		return nil, fmt.Errorf("parse market open: %w", err)
	}
	closeAt, err := parseClock(opts.Close, 16*60)
	if err != nil {
		return nil, fmt.Errorf("parse market close: %w", err)
	}
	if closeAt <= open {
		return nil, fmt.Errorf("market close %q must be after open %q", opts.Close, opts.Open)
	}

	return &Calendar{enabled: true, loc: loc, openMins: open, closeMins: closeAt}, nil
}

// IsOpen reports whether the exchange trades at the given instant.
func (c *Calendar) IsOpen(at time.Time) bool {
	if c == nil || !c.enabled {
		return true
	}

	local := at.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	mins := local.Hour()*60 + local.Minute()
	return mins >= c.openMins && mins < c.closeMins
}

func parseClock(value string, fallback int) (int, error) {
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, err
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}
