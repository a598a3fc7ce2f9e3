package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The resolver must agree with an RFC 5545 engine on every rule shape,
// for series that started long ago and for series that start mid-window.
func TestNextOccurrenceMatchesRRule(t *testing.T) {
	for _, base := range []time.Time{utc(2020, time.January, 1, 19, 0), utc(2024, time.June, 5, 19, 0)} {
		t.Run(base.Format(time.DateOnly), func(t *testing.T) {
			compareWithRRule(t, base)
		})
	}
}

func compareWithRRule(t *testing.T, base time.Time) {
	end := utc(2025, time.June, 30, 0, 0)

	rules := []Rule{
		Weekly(time.Wednesday, nil),
		Weekly(time.Saturday, at(10, 30)),
		MonthlyByDate(1, at(19, 0)),
		MonthlyByDate(29, at(19, 0)),
		MonthlyByDate(31, at(19, 0)),
		MonthlyByWeekday(1, time.Friday, at(18, 0)),
		MonthlyByWeekday(3, time.Sunday, at(14, 0)),
		MonthlyByWeekday(4, time.Thursday, at(19, 0)),
		MonthlyByWeekday(LastWeek, time.Wednesday, at(19, 0)),
	}

	for _, rule := range rules {
		for _, until := range []*time.Time{nil, &end} {
			tpl := mustTemplate(t, base, rule, until)
			name := rule.String()
			if until != nil {
				name += " until " + until.Format(time.DateOnly)
			}

			t.Run(name, func(t *testing.T) {
				oracle, err := tpl.RRule()
				require.NoError(t, err)

				for ref := utc(2024, time.January, 1, 12, 0); ref.Before(utc(2026, time.January, 1, 0, 0)); ref = ref.Add(37 * time.Hour) {
					got, err := NextOccurrence(tpl, ref)
					require.NoError(t, err)

					want := oracle.After(ref, true)
					if want.IsZero() {
						assert.Nil(t, got, "ref %s", ref)
						continue
					}
					require.NotNil(t, got, "ref %s", ref)
					assert.True(t, want.Equal(*got), "ref %s: got %s, want %s", ref, got, want)
				}
			})
		}
	}
}

func TestRRuleString(t *testing.T) {
	base := utc(2024, time.January, 3, 19, 0)
	end := utc(2024, time.June, 30, 0, 0)

	tests := []struct {
		name     string
		rule     Rule
		end      *time.Time
		contains []string
	}{
		{"weekly", Weekly(time.Wednesday, nil), nil, []string{"FREQ=WEEKLY", "BYDAY=WE"}},
		{"monthly by date", MonthlyByDate(30, nil), nil, []string{"FREQ=MONTHLY", "BYMONTHDAY=30"}},
		{"last weekday", MonthlyByWeekday(LastWeek, time.Wednesday, nil), nil, []string{"FREQ=MONTHLY", "BYDAY=-1WE"}},
		{"second weekday", MonthlyByWeekday(2, time.Tuesday, nil), nil, []string{"2TU"}},
		{"until", Weekly(time.Friday, nil), &end, []string{"UNTIL=20240630T235959Z"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := mustTemplate(t, base, tt.rule, tt.end).RRuleString()
			require.NoError(t, err)
			for _, part := range tt.contains {
				assert.Contains(t, s, part)
			}
			assert.NotContains(t, s, "DTSTART")
		})
	}

	_, err := mustTemplate(t, base, None(), nil).RRuleString()
	assert.ErrorIs(t, err, ErrInvalidRecurrenceRule)
}
