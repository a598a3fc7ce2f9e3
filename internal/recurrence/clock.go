package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock is a wall-clock time of day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM" (a trailing ":SS" is accepted and ignored).
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Clock{}, invalidRule("time %q is not HH:MM", s)
	}

	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return Clock{}, invalidRule("time %q has a bad hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return Clock{}, invalidRule("time %q has a bad minute", s)
	}

	c := Clock{Hour: h, Minute: m}
	if err := c.Validate(); err != nil {
		return Clock{}, err
	}
	return c, nil
}

// ClockOf returns the time of day of t in t's location.
func ClockOf(t time.Time) Clock {
	return Clock{Hour: t.Hour(), Minute: t.Minute()}
}

func (c Clock) Validate() error {
	if c.Hour < 0 || c.Hour > 23 {
		return invalidRule("hour %d out of range", c.Hour)
	}
	if c.Minute < 0 || c.Minute > 59 {
		return invalidRule("minute %d out of range", c.Minute)
	}
	return nil
}

// On returns the instant at c on the given calendar date in loc.
// time.Date normalizes day overflow, so callers check the month themselves.
func (c Clock) On(year int, month time.Month, day int, loc *time.Location) time.Time {
	return time.Date(year, month, day, c.Hour, c.Minute, 0, 0, loc)
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
