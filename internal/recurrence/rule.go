package recurrence

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRecurrenceRule is wrapped by every error caused by malformed or
// out-of-range rule data.
var ErrInvalidRecurrenceRule = errors.New("invalid recurrence rule")

func invalidRule(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRecurrenceRule, fmt.Sprintf(format, args...))
}

// Kind discriminates the variants of Rule.
type Kind string

const (
	KindNone             Kind = "none"
	KindWeekly           Kind = "weekly"
	KindMonthlyByDate    Kind = "monthly_by_date"
	KindMonthlyByWeekday Kind = "monthly_by_weekday"
)

// LastWeek is the WeekOfMonth value meaning "the last one in the month".
const LastWeek = 5

// Rule describes how an event repeats. Only the fields relevant to Kind are
// meaningful; the zero Rule is equivalent to None().
type Rule struct {
	Kind Kind `json:"kind" yaml:"kind"`

	// DayOfWeek is used by weekly and monthly_by_weekday rules.
	DayOfWeek time.Weekday `json:"day_of_week,omitempty" yaml:"day_of_week,omitempty"`
	// WeekOfMonth is 1..4 for the Nth weekday, LastWeek for the last one.
	WeekOfMonth int `json:"week_of_month,omitempty" yaml:"week_of_month,omitempty"`
	// DayOfMonth is used by monthly_by_date rules.
	DayOfMonth int `json:"day_of_month,omitempty" yaml:"day_of_month,omitempty"`

	// Time overrides the template's base time of day when set.
	Time *Clock `json:"time,omitempty" yaml:"time,omitempty"`
}

func None() Rule {
	return Rule{Kind: KindNone}
}

func Weekly(day time.Weekday, at *Clock) Rule {
	return Rule{Kind: KindWeekly, DayOfWeek: day, Time: at}
}

func MonthlyByDate(day int, at *Clock) Rule {
	return Rule{Kind: KindMonthlyByDate, DayOfMonth: day, Time: at}
}

func MonthlyByWeekday(week int, day time.Weekday, at *Clock) Rule {
	return Rule{Kind: KindMonthlyByWeekday, WeekOfMonth: week, DayOfWeek: day, Time: at}
}

// IsRecurring reports whether r produces more than one occurrence.
func (r Rule) IsRecurring() bool {
	return r.Kind != KindNone && r.Kind != ""
}

// Validate checks the field ranges for r's Kind.
func (r Rule) Validate() error {
	if r.Time != nil {
		if err := r.Time.Validate(); err != nil {
			return err
		}
	}

	switch r.Kind {
	case KindNone, "":
		return nil
	case KindWeekly:
		return validateWeekday(r.DayOfWeek)
	case KindMonthlyByDate:
		if r.DayOfMonth < 1 || r.DayOfMonth > 31 {
			return invalidRule("day of month %d out of range", r.DayOfMonth)
		}
		return nil
	case KindMonthlyByWeekday:
		if r.WeekOfMonth < 1 || r.WeekOfMonth > LastWeek {
			return invalidRule("week of month %d out of range", r.WeekOfMonth)
		}
		return validateWeekday(r.DayOfWeek)
	default:
		return invalidRule("unknown kind %q", string(r.Kind))
	}
}

func validateWeekday(d time.Weekday) error {
	if d < time.Sunday || d > time.Saturday {
		return invalidRule("day of week %d out of range", int(d))
	}
	return nil
}

// String returns a short English description, e.g.
// "last Wednesday of the month at 19:00".
func (r Rule) String() string {
	var s string
	switch r.Kind {
	case KindWeekly:
		s = "every " + r.DayOfWeek.String()
	case KindMonthlyByDate:
		s = "monthly on day " + fmt.Sprint(r.DayOfMonth)
	case KindMonthlyByWeekday:
		s = weekOrdinal(r.WeekOfMonth) + " " + r.DayOfWeek.String() + " of the month"
	default:
		return "one-off"
	}
	if r.Time != nil {
		s += " at " + r.Time.String()
	}
	return s
}

func weekOrdinal(week int) string {
	switch week {
	case 1:
		return "first"
	case 2:
		return "second"
	case 3:
		return "third"
	case 4:
		return "fourth"
	case LastWeek:
		return "last"
	default:
		return fmt.Sprintf("week-%d", week)
	}
}

// Template is an event's schedule: the originally scheduled instant, its
// recurrence rule and an optional inclusive end date.
type Template struct {
	Base time.Time  `json:"base"`
	Rule Rule       `json:"rule"`
	End  *time.Time `json:"end,omitempty"`
}

// NewTemplate validates rule and returns the template.
func NewTemplate(base time.Time, rule Rule, end *time.Time) (Template, error) {
	if base.IsZero() {
		return Template{}, invalidRule("base datetime is required")
	}
	if err := rule.Validate(); err != nil {
		return Template{}, err
	}
	return Template{Base: base, Rule: rule, End: end}, nil
}

// In re-anchors the template in loc. Calendar arithmetic follows the base
// location, so templates restored from a fixed-offset encoding should be
// moved back into the display zone before resolving.
func (t Template) In(loc *time.Location) Template {
	if loc == nil {
		return t
	}
	out := t
	out.Base = t.Base.In(loc)
	if t.End != nil {
		end := t.End.In(loc)
		out.End = &end
	}
	return out
}

// clock returns the time of day occurrences are placed at.
func (t Template) clock() Clock {
	if t.Rule.Time != nil {
		return *t.Rule.Time
	}
	return ClockOf(t.Base)
}

// start is the first instant a recurring series can occur: the base date
// at the rule's time of day.
func (t Template) start() time.Time {
	loc := t.location()
	y, m, d := t.Base.In(loc).Date()
	return t.clock().On(y, m, d, loc)
}

func (t Template) location() *time.Location {
	if loc := t.Base.Location(); loc != nil {
		return loc
	}
	return time.UTC
}
