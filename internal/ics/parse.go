package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "dicebastion/internal/log"
	"dicebastion/internal/model"
	"dicebastion/internal/recurrence"
)

// ParseFeed imports the VEVENTs of an ICS payload as events. DTSTART becomes
// the template base and the RRULE is mapped onto a recurrence rule. Events
// whose RRULE has no equivalent rule are reported and skipped; overrides
// (RECURRENCE-ID) are ignored.
func ParseFeed(sourceID string, body []byte, loc *time.Location) ([]model.Event, []error) {
	if len(body) == 0 {
		return nil, []error{errors.New("empty ICS body")}
	}
	if loc == nil {
		loc = time.UTC
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, []error{fmt.Errorf("parsing ICS: %w", err)}
	}

	events := make([]model.Event, 0)
	errs := make([]error, 0)
	for _, ve := range cal.Events() {
		if ve.GetProperty("RECURRENCE-ID") != nil {
			appLog.Debug("ics override skipped", "id", sourceID)
			continue
		}
		ev, err := parseVEvent(sourceID, ve, loc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		events = append(events, ev)
	}

	appLog.Info("ics parse completed", "id", sourceID, "event_count", len(events), "error_count", len(errs))
	return events, errs
}

func parseVEvent(sourceID string, ve *ical.VEvent, loc *time.Location) (model.Event, error) {
	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return model.Event{}, errors.New("vevent: missing UID")
	}

	ev := model.Event{SourceID: sourceID, ID: uidProp.Value}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.Title = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		ev.Description = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		ev.Location = unescapeText(p.Value)
	}

	start, err := ve.GetStartAt()
	if err != nil {
		// DATE-valued DTSTART (all-day).
		if start, err = ve.GetAllDayStartAt(); err != nil {
			return model.Event{}, fmt.Errorf("vevent %s: DTSTART: %w", ev.ID, err)
		}
	}
	start = start.In(loc)

	rule := recurrence.None()
	var end *time.Time
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil && p.Value != "" {
		rule, end, err = ruleFromRRule(p.Value, start)
		if err != nil {
			return model.Event{}, fmt.Errorf("vevent %s: %w", ev.ID, err)
		}
	}

	ev.Template, err = recurrence.NewTemplate(start, rule, end)
	if err != nil {
		return model.Event{}, fmt.Errorf("vevent %s: %w", ev.ID, err)
	}
	return ev, nil
}

// ruleFromRRule maps the RRULE subset the resolver supports: WEEKLY with a
// single BYDAY, MONTHLY with a single BYMONTHDAY or a single (n)BYDAY.
// COUNT is converted into an end date.
func ruleFromRRule(value string, start time.Time) (recurrence.Rule, *time.Time, error) {
	opt, err := rrule.StrToROption(value)
	if err != nil {
		return recurrence.Rule{}, nil, fmt.Errorf("%w: RRULE %q: %v", recurrence.ErrInvalidRecurrenceRule, value, err)
	}
	unsupported := func(why string) error {
		return fmt.Errorf("%w: RRULE %q: %s", recurrence.ErrInvalidRecurrenceRule, value, why)
	}

	if opt.Interval > 1 {
		return recurrence.Rule{}, nil, unsupported("intervals are not supported")
	}
	if len(opt.Bysetpos) > 0 || len(opt.Bymonth) > 0 || len(opt.Byyearday) > 0 || len(opt.Byweekno) > 0 {
		return recurrence.Rule{}, nil, unsupported("BYSETPOS/BYMONTH/BYYEARDAY/BYWEEKNO are not supported")
	}

	var rule recurrence.Rule
	switch opt.Freq {
	case rrule.WEEKLY:
		switch len(opt.Byweekday) {
		case 0:
			rule = recurrence.Weekly(start.Weekday(), nil)
		case 1:
			if opt.Byweekday[0].N() != 0 {
				return recurrence.Rule{}, nil, unsupported("weekly BYDAY cannot be numbered")
			}
			rule = recurrence.Weekly(weekdayOf(opt.Byweekday[0]), nil)
		default:
			return recurrence.Rule{}, nil, unsupported("only one weekday per rule")
		}

	case rrule.MONTHLY:
		switch {
		case len(opt.Bymonthday) == 1 && len(opt.Byweekday) == 0:
			if opt.Bymonthday[0] < 1 {
				return recurrence.Rule{}, nil, unsupported("negative BYMONTHDAY is not supported")
			}
			rule = recurrence.MonthlyByDate(opt.Bymonthday[0], nil)
		case len(opt.Byweekday) == 1 && len(opt.Bymonthday) == 0:
			n := opt.Byweekday[0].N()
			switch {
			case n == -1:
				n = recurrence.LastWeek
			case n < 1 || n > 4:
				return recurrence.Rule{}, nil, unsupported("monthly BYDAY needs 1..4 or -1")
			}
			rule = recurrence.MonthlyByWeekday(n, weekdayOf(opt.Byweekday[0]), nil)
		case len(opt.Bymonthday) == 0 && len(opt.Byweekday) == 0:
			rule = recurrence.MonthlyByDate(start.Day(), nil)
		default:
			return recurrence.Rule{}, nil, unsupported("only one BYMONTHDAY or BYDAY per rule")
		}

	default:
		return recurrence.Rule{}, nil, unsupported(fmt.Sprintf("frequency %v is not supported", opt.Freq))
	}

	switch {
	case !opt.Until.IsZero():
		until := opt.Until.In(start.Location())
		return rule, &until, nil
	case opt.Count > 0:
		opt.Dtstart = start
		r, err := rrule.NewRRule(*opt)
		if err != nil {
			return recurrence.Rule{}, nil, unsupported(err.Error())
		}
		all := r.All()
		if len(all) == 0 {
			return recurrence.Rule{}, nil, unsupported("COUNT produces no occurrences")
		}
		last := all[len(all)-1].In(start.Location())
		return rule, &last, nil
	}
	return rule, nil, nil
}

// weekdayOf converts rrule-go's Monday-first numbering to time.Weekday.
func weekdayOf(w rrule.Weekday) time.Weekday {
	return time.Weekday((w.Day() + 1) % 7)
}

func unescapeText(s string) string {
	r := strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)
	return r.Replace(s)
}
