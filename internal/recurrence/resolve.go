package recurrence

import (
	"iter"
	"time"
)

// maxMonthsAhead bounds the monthly searches: the reference month plus
// twelve more always contains a match for any valid rule.
const maxMonthsAhead = 13

// NextOccurrence returns the first occurrence of t at or after ref, or nil
// when the recurrence has ended. A reference instant equal to an occurrence
// returns that occurrence. Recurring series start on their base date, at
// the rule's time of day.
//
// Non-recurring templates always resolve to their base instant; whether a
// past one-off is still worth showing is up to the caller.
func NextOccurrence(t Template, ref time.Time) (*time.Time, error) {
	if err := t.Rule.Validate(); err != nil {
		return nil, err
	}
	if !t.Rule.IsRecurring() {
		base := t.Base
		return &base, nil
	}
	if t.Base.IsZero() {
		return nil, invalidRule("base datetime is required")
	}

	loc := t.location()
	ref = ref.In(loc)

	if t.End != nil && dateAfter(ref, t.End.In(loc)) {
		return nil, nil
	}
	// A series has no occurrences before its first one.
	if start := t.start(); ref.Before(start) {
		ref = start
	}

	var (
		occ time.Time
		ok  bool
	)
	switch t.Rule.Kind {
	case KindWeekly:
		occ, ok = nextWeekly(t.Rule.DayOfWeek, t.clock(), ref), true
	case KindMonthlyByDate:
		occ, ok = nextMonthlyByDate(t.Rule.DayOfMonth, t.clock(), ref)
	case KindMonthlyByWeekday:
		occ, ok = nextMonthlyByWeekday(t.Rule.WeekOfMonth, t.Rule.DayOfWeek, t.clock(), ref)
	}
	if !ok {
		return nil, invalidRule("no %s occurrence within %d months of %s", t.Rule.Kind, maxMonthsAhead, ref.Format(time.DateOnly))
	}

	if t.End != nil && dateAfter(occ, t.End.In(loc)) {
		return nil, nil
	}
	return &occ, nil
}

// Upcoming yields up to count occurrences of t starting at ref. After each
// occurrence the search resumes at the start of the following day. The
// sequence stops early when the recurrence ends or an error is yielded.
func Upcoming(t Template, ref time.Time, count int) iter.Seq2[time.Time, error] {
	return func(yield func(time.Time, error) bool) {
		if count <= 0 {
			return
		}

		cursor := ref
		for n := 0; n < count; n++ {
			occ, err := NextOccurrence(t, cursor)
			if err != nil {
				yield(time.Time{}, err)
				return
			}
			if occ == nil {
				return
			}
			if !yield(*occ, nil) {
				return
			}
			if !t.Rule.IsRecurring() {
				return
			}
			y, m, d := occ.Date()
			cursor = time.Date(y, m, d+1, 0, 0, 0, 0, occ.Location())
		}
	}
}

// UpcomingOccurrences collects Upcoming into a slice.
func UpcomingOccurrences(t Template, ref time.Time, count int) ([]time.Time, error) {
	out := make([]time.Time, 0, max(count, 0))
	for occ, err := range Upcoming(t, ref, count) {
		if err != nil {
			return nil, err
		}
		out = append(out, occ)
	}
	return out, nil
}

func nextWeekly(day time.Weekday, at Clock, ref time.Time) time.Time {
	y, m, d := ref.Date()
	offset := (int(day) - int(ref.Weekday()) + 7) % 7

	cand := at.On(y, m, d+offset, ref.Location())
	if cand.Before(ref) {
		cand = at.On(y, m, d+offset+7, ref.Location())
	}
	return cand
}

func nextMonthlyByDate(day int, at Clock, ref time.Time) (time.Time, bool) {
	for i := 0; i < maxMonthsAhead; i++ {
		y, m := monthsAfter(ref, i)
		if day > daysIn(y, m) {
			continue
		}
		cand := at.On(y, m, day, ref.Location())
		if !cand.Before(ref) {
			return cand, true
		}
	}
	return time.Time{}, false
}

func nextMonthlyByWeekday(week int, weekday time.Weekday, at Clock, ref time.Time) (time.Time, bool) {
	for i := 0; i < maxMonthsAhead; i++ {
		y, m := monthsAfter(ref, i)
		day, ok := nthWeekday(y, m, week, weekday)
		if !ok {
			continue
		}
		cand := at.On(y, m, day, ref.Location())
		if !cand.Before(ref) {
			return cand, true
		}
	}
	return time.Time{}, false
}

// nthWeekday returns the day of month of the week'th weekday in y/m, or
// false when the month has fewer than week of them. LastWeek counts back
// from the end of the month.
func nthWeekday(y int, m time.Month, week int, weekday time.Weekday) (int, bool) {
	last := daysIn(y, m)
	if week == LastWeek {
		wd := time.Date(y, m, last, 0, 0, 0, 0, time.UTC).Weekday()
		return last - (int(wd)-int(weekday)+7)%7, true
	}

	wd := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).Weekday()
	day := 1 + (int(weekday)-int(wd)+7)%7 + (week-1)*7
	if day > last {
		return 0, false
	}
	return day, true
}

func monthsAfter(ref time.Time, n int) (int, time.Month) {
	first := time.Date(ref.Year(), ref.Month()+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	return first.Year(), first.Month()
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// dateAfter compares calendar dates only; both times must share a location.
func dateAfter(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC).After(time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC))
}
