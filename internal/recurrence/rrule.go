package recurrence

import (
	"time"

	"github.com/teambition/rrule-go"
)

// rruleDays maps time.Weekday (Sunday = 0) onto rrule-go weekdays.
var rruleDays = [...]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// ROption renders t as RFC 5545 recurrence options. DTSTART is the base
// date at the rule's time of day; UNTIL is the last second of the end date.
func (t Template) ROption() (rrule.ROption, error) {
	if err := t.Rule.Validate(); err != nil {
		return rrule.ROption{}, err
	}
	if !t.Rule.IsRecurring() {
		return rrule.ROption{}, invalidRule("one-off events have no recurrence")
	}

	loc := t.location()
	opt := rrule.ROption{Dtstart: t.start()}

	switch t.Rule.Kind {
	case KindWeekly:
		opt.Freq = rrule.WEEKLY
		opt.Byweekday = []rrule.Weekday{rruleDays[t.Rule.DayOfWeek]}
	case KindMonthlyByDate:
		opt.Freq = rrule.MONTHLY
		opt.Bymonthday = []int{t.Rule.DayOfMonth}
	case KindMonthlyByWeekday:
		n := t.Rule.WeekOfMonth
		if n == LastWeek {
			n = -1
		}
		opt.Freq = rrule.MONTHLY
		opt.Byweekday = []rrule.Weekday{rruleDays[t.Rule.DayOfWeek].Nth(n)}
	}

	if t.End != nil {
		ey, em, ed := t.End.In(loc).Date()
		opt.Until = time.Date(ey, em, ed, 23, 59, 59, 0, loc)
	}
	return opt, nil
}

// RRule builds an rrule-go iterator equivalent to t.
func (t Template) RRule() (*rrule.RRule, error) {
	opt, err := t.ROption()
	if err != nil {
		return nil, err
	}
	return rrule.NewRRule(opt)
}

// RRuleString returns the RRULE property value for t, without DTSTART.
func (t Template) RRuleString() (string, error) {
	opt, err := t.ROption()
	if err != nil {
		return "", err
	}
	return opt.RRuleString(), nil
}
