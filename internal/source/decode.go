package source

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"dicebastion/internal/model"
	"dicebastion/internal/recurrence"
)

// ErrInvalidRecord marks records whose non-recurrence fields are unusable.
var ErrInvalidRecord = errors.New("invalid event record")

// Record is the event shape served by the event-management API.
type Record struct {
	ID          flexString `json:"event_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Location    string     `json:"location"`

	EventDatetime     string          `json:"event_datetime"`
	IsRecurring       flexBool        `json:"is_recurring"`
	RecurrencePattern json.RawMessage `json:"recurrence_pattern"`
	RecurrenceEndDate *string         `json:"recurrence_end_date"`
}

// pattern collects both upstream spellings of the recurrence fields.
type pattern struct {
	Type string `json:"type"`

	Day            json.RawMessage `json:"day"`
	DayOfWeek      json.RawMessage `json:"day_of_week"`
	DayOfWeekCamel json.RawMessage `json:"dayOfWeek"`

	DayOfMonth      json.RawMessage `json:"day_of_month"`
	DayOfMonthCamel json.RawMessage `json:"dayOfMonth"`

	WeekOfMonth      json.RawMessage `json:"week_of_month"`
	WeekOfMonthCamel json.RawMessage `json:"weekOfMonth"`

	Time string `json:"time"`
}

// DecodeEvents decodes an API response (a bare array or {"events": [...]})
// into events. Records that fail validation are skipped and reported in
// the returned error slice; they are never downgraded to one-off events.
func DecodeEvents(sourceID string, body []byte, loc *time.Location) ([]model.Event, []error) {
	records, err := decodeRecords(body)
	if err != nil {
		return nil, []error{err}
	}

	events := make([]model.Event, 0, len(records))
	errs := make([]error, 0)
	for i, rec := range records {
		ev, err := rec.Event(sourceID, loc)
		if err != nil {
			id := string(rec.ID)
			if id == "" {
				id = "#" + strconv.Itoa(i)
			}
			errs = append(errs, fmt.Errorf("event %s: %w", id, err))
			continue
		}
		events = append(events, ev)
	}
	return events, errs
}

func decodeRecords(body []byte) ([]Record, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty events body")
	}

	if body[0] == '[' {
		var records []Record
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, fmt.Errorf("decoding events: %w", err)
		}
		return records, nil
	}

	var wrapped struct {
		Events []Record `json:"events"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("decoding events: %w", err)
	}
	return wrapped.Events, nil
}

// Event validates the record and converts it into a model.Event.
func (r Record) Event(sourceID string, loc *time.Location) (model.Event, error) {
	if r.ID == "" {
		return model.Event{}, fmt.Errorf("%w: missing event_id", ErrInvalidRecord)
	}
	base, err := ParseDateTime(r.EventDatetime, loc)
	if err != nil {
		return model.Event{}, fmt.Errorf("%w: event_datetime: %v", ErrInvalidRecord, err)
	}

	rule := recurrence.None()
	var end *time.Time
	if r.IsRecurring {
		rule, err = parsePattern(r.RecurrencePattern)
		if err != nil {
			return model.Event{}, err
		}
		if r.RecurrenceEndDate != nil && strings.TrimSpace(*r.RecurrenceEndDate) != "" {
			t, err := ParseDateTime(*r.RecurrenceEndDate, loc)
			if err != nil {
				return model.Event{}, fmt.Errorf("%w: recurrence_end_date: %v", recurrence.ErrInvalidRecurrenceRule, err)
			}
			end = &t
		}
	}

	tpl, err := recurrence.NewTemplate(base, rule, end)
	if err != nil {
		return model.Event{}, err
	}

	return model.Event{
		SourceID:    sourceID,
		ID:          string(r.ID),
		Title:       r.Title,
		Description: r.Description,
		Location:    r.Location,
		Template:    tpl,
	}, nil
}

// parsePattern converts the upstream recurrence_pattern JSON (an object or
// a string holding one) into a rule.
func parsePattern(raw json.RawMessage) (recurrence.Rule, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return recurrence.Rule{}, invalid("recurring event has no recurrence_pattern")
	}

	// The pattern is usually stored as a JSON string column.
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return recurrence.Rule{}, invalid("recurrence_pattern: %v", err)
		}
		raw = json.RawMessage(strings.TrimSpace(s))
		if len(raw) == 0 {
			return recurrence.Rule{}, invalid("recurring event has an empty recurrence_pattern")
		}
	}

	var p pattern
	if err := json.Unmarshal(raw, &p); err != nil {
		return recurrence.Rule{}, invalid("recurrence_pattern: %v", err)
	}

	var at *recurrence.Clock
	if strings.TrimSpace(p.Time) != "" {
		c, err := recurrence.ParseClock(p.Time)
		if err != nil {
			return recurrence.Rule{}, err
		}
		at = &c
	}

	week := firstPresent(p.WeekOfMonth, p.WeekOfMonthCamel)
	weekday := firstPresent(p.DayOfWeek, p.DayOfWeekCamel, p.Day)
	monthDay := firstPresent(p.DayOfMonth, p.DayOfMonthCamel)

	var rule recurrence.Rule
	switch normalizeType(p.Type) {
	case "weekly":
		d, err := parseWeekday(weekday)
		if err != nil {
			return recurrence.Rule{}, err
		}
		rule = recurrence.Weekly(d, at)

	case "monthly":
		if week != nil {
			return monthlyByWeekday(week, weekday, at)
		}
		return monthlyByDate(firstPresent(monthDay, p.Day), at)

	case "monthly_by_weekday":
		return monthlyByWeekday(week, weekday, at)

	case "monthly_by_date":
		return monthlyByDate(firstPresent(monthDay, p.Day), at)

	case "":
		return recurrence.Rule{}, invalid("recurrence_pattern has no type")
	default:
		return recurrence.Rule{}, invalid("unknown recurrence type %q", p.Type)
	}

	return rule, rule.Validate()
}

func monthlyByWeekday(week, weekday json.RawMessage, at *recurrence.Clock) (recurrence.Rule, error) {
	w, err := parseWeek(week)
	if err != nil {
		return recurrence.Rule{}, err
	}
	d, err := parseWeekday(weekday)
	if err != nil {
		return recurrence.Rule{}, err
	}
	rule := recurrence.MonthlyByWeekday(w, d, at)
	return rule, rule.Validate()
}

func monthlyByDate(day json.RawMessage, at *recurrence.Clock) (recurrence.Rule, error) {
	if day == nil {
		return recurrence.Rule{}, invalid("monthly rule needs day_of_month")
	}
	n, err := parseInt(day)
	if err != nil {
		return recurrence.Rule{}, invalid("day_of_month: %v", err)
	}
	rule := recurrence.MonthlyByDate(n, at)
	return rule, rule.Validate()
}

func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	t = strings.ReplaceAll(t, "-", "_")
	switch t {
	case "monthly_weekday", "monthly_by_weekday", "monthly_week", "monthly_by_week":
		return "monthly_by_weekday"
	case "monthly_date", "monthly_by_date", "monthly_day", "monthly_by_day":
		return "monthly_by_date"
	}
	return t
}

func firstPresent(vals ...json.RawMessage) json.RawMessage {
	for _, v := range vals {
		v = bytes.TrimSpace(v)
		if len(v) > 0 && string(v) != "null" && string(v) != `""` {
			return v
		}
	}
	return nil
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

func parseWeekday(raw json.RawMessage) (time.Weekday, error) {
	if raw == nil {
		return 0, invalid("rule needs a day of week")
	}
	if s, ok := rawString(raw); ok {
		if d, ok := weekdayNames[strings.ToLower(s)]; ok {
			return d, nil
		}
	}
	n, err := parseInt(raw)
	if err != nil {
		return 0, invalid("day of week: %v", err)
	}
	if n < 0 || n > 6 {
		return 0, invalid("day of week %d out of range", n)
	}
	return time.Weekday(n), nil
}

var weekNames = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "last": recurrence.LastWeek,
}

func parseWeek(raw json.RawMessage) (int, error) {
	if raw == nil {
		return 0, invalid("monthly rule needs week_of_month")
	}
	if s, ok := rawString(raw); ok {
		if w, ok := weekNames[strings.ToLower(s)]; ok {
			return w, nil
		}
	}
	n, err := parseInt(raw)
	if err != nil {
		return 0, invalid("week_of_month: %v", err)
	}
	if n == -1 {
		return recurrence.LastWeek, nil
	}
	return n, nil
}

// parseInt accepts a JSON number or a numeric string.
func parseInt(raw json.RawMessage) (int, error) {
	if s, ok := rawString(raw); ok {
		return strconv.Atoi(s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	if f != float64(int(f)) {
		return 0, fmt.Errorf("%v is not a whole number", f)
	}
	return int(f), nil
}

func rawString(raw json.RawMessage) (string, bool) {
	var s string
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return strings.TrimSpace(s), true
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", recurrence.ErrInvalidRecurrenceRule, fmt.Sprintf(format, args...))
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.DateOnly,
}

// ParseDateTime parses an ISO-8601 datetime. Values without an offset are
// taken as wall-clock time in loc; values with one are moved into loc.
func ParseDateTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty datetime")
	}
	if loc == nil {
		loc = time.UTC
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", s)
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexBool accepts true/false, 0/1 and their string forms.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		*f = true
	case "false", "0", "no", "", "null":
		*f = false
	default:
		return fmt.Errorf("cannot use %s as a boolean", b)
	}
	return nil
}
