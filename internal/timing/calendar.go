package timing

import (
	"fmt"
	"time"
)

// Config describes the trading session in exchange-local terms. Times are
// minutes since midnight so the struct stays trivially serializable.
type Config struct {
	// Timezone is the exchange timezone name, e.g. "Asia/Kolkata".
	Timezone string
	// OpenMinute and CloseMinute bound the regular session.
	OpenMinute  int
	CloseMinute int
	// EntryBlockMinutes suppresses entries right after the open while the
	// first bars of the day settle.
	EntryBlockMinutes int
	// ForcedExitWeekday and ForcedExitMinute define the weekly hard cutoff
	// after which every open position is force-closed.
	ForcedExitWeekday time.Weekday
	ForcedExitMinute  int
	// WarningLeadMinutes fires the forced-exit warning this long before the
	// hard cutoff.
	WarningLeadMinutes int
}

// DefaultConfig returns the NSE session with the Friday afternoon cutoff.
func DefaultConfig() Config {
	return Config{
		Timezone:           "Asia/Kolkata",
		OpenMinute:         9*60 + 15,
		CloseMinute:        15*60 + 30,
		EntryBlockMinutes:  15,
		ForcedExitWeekday:  time.Friday,
		ForcedExitMinute:   15*60 + 20,
		WarningLeadMinutes: 10,
	}
}

// Calendar answers session-time questions for the evaluation loop. All
// methods take the wall clock as an argument so tests control time.
type Calendar struct {
	cfg Config
	loc *time.Location
}

// NewCalendar loads the configured timezone and validates the session shape.
func NewCalendar(cfg Config) (*Calendar, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("session calendar: invalid timezone %q: %w", cfg.Timezone, err)
	}
	if cfg.OpenMinute < 0 || cfg.CloseMinute <= cfg.OpenMinute || cfg.CloseMinute >= 24*60 {
		return nil, fmt.Errorf("session calendar: open/close must satisfy 0 <= open < close < 1440")
	}
	if cfg.ForcedExitMinute <= cfg.OpenMinute || cfg.ForcedExitMinute > cfg.CloseMinute {
		return nil, fmt.Errorf("session calendar: forced exit must fall inside the session")
	}
	if cfg.EntryBlockMinutes < 0 || cfg.WarningLeadMinutes < 0 {
		return nil, fmt.Errorf("session calendar: block and lead minutes must not be negative")
	}
	return &Calendar{cfg: cfg, loc: loc}, nil
}

// minuteOfDay converts t to exchange-local minutes since midnight.
func (c *Calendar) minuteOfDay(t time.Time) (time.Weekday, int) {
	local := t.In(c.loc)
	return local.Weekday(), local.Hour()*60 + local.Minute()
}

// IsTradingDay reports whether t falls on a weekday. Exchange holidays are
// not modeled; the feed simply produces no bars on those days.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	wd := t.In(c.loc).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// InSession reports whether t falls inside the regular session.
func (c *Calendar) InSession(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	_, m := c.minuteOfDay(t)
	return m >= c.cfg.OpenMinute && m < c.cfg.CloseMinute
}

// CanEnter reports whether a new position may open at t. Entries are blocked
// outside the session, during the opening settle window, and after the
// forced-exit cutoff on cutoff day.
func (c *Calendar) CanEnter(t time.Time) bool {
	if !c.InSession(t) {
		return false
	}
	wd, m := c.minuteOfDay(t)
	if m < c.cfg.OpenMinute+c.cfg.EntryBlockMinutes {
		return false
	}
	if wd == c.cfg.ForcedExitWeekday && m >= c.cfg.ForcedExitMinute {
		return false
	}
	return true
}

// ForcedExitDue reports whether the weekly hard cutoff has passed at t.
// It stays true through the rest of the cutoff day so a cycle that lands
// late still closes everything.
func (c *Calendar) ForcedExitDue(t time.Time) bool {
	wd, m := c.minuteOfDay(t)
	return wd == c.cfg.ForcedExitWeekday && m >= c.cfg.ForcedExitMinute
}

// ForcedExitWarningDue reports whether t is inside the warning window that
// precedes the hard cutoff.
func (c *Calendar) ForcedExitWarningDue(t time.Time) bool {
	wd, m := c.minuteOfDay(t)
	return wd == c.cfg.ForcedExitWeekday &&
		m >= c.cfg.ForcedExitMinute-c.cfg.WarningLeadMinutes &&
		m < c.cfg.ForcedExitMinute
}

// SessionDate returns the exchange-local calendar date of t, used to bucket
// per-day trade counts.
func (c *Calendar) SessionDate(t time.Time) time.Time {
	local := t.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
}
