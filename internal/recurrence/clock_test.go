package recurrence

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    Clock
		wantErr bool
	}{
		{in: "19:30", want: Clock{19, 30}},
		{in: "7:05", want: Clock{7, 5}},
		{in: " 09:00 ", want: Clock{9, 0}},
		{in: "19:30:00", want: Clock{19, 30}},
		{in: "00:00", want: Clock{0, 0}},
		{in: "1930", wantErr: true},
		{in: "", wantErr: true},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "ab:cd", wantErr: true},
		{in: "1:2:3:4", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClock(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRecurrenceRule)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRuleJSON(t *testing.T) {
	rule := MonthlyByWeekday(LastWeek, time.Wednesday, &Clock{19, 0})

	data, err := json.Marshal(rule)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"monthly_by_weekday","day_of_week":3,"week_of_month":5,"time":"19:00"}`, string(data))

	var back Rule
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, rule, back)
}

func TestRuleString(t *testing.T) {
	assert.Equal(t, "every Wednesday at 19:00", Weekly(time.Wednesday, &Clock{19, 0}).String())
	assert.Equal(t, "last Wednesday of the month", MonthlyByWeekday(LastWeek, time.Wednesday, nil).String())
	assert.Equal(t, "monthly on day 30", MonthlyByDate(30, nil).String())
	assert.Equal(t, "one-off", None().String())
}
