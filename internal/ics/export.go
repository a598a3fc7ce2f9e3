package ics

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"dicebastion/internal/model"
	"dicebastion/internal/recurrence"
)

const (
	defaultFeedName = "Dice Bastion events"
	defaultDuration = 3 * time.Hour
	localStampFmt   = "20060102T150405"
)

// FeedOptions controls BuildFeed.
type FeedOptions struct {
	// Name is the calendar display name (X-WR-CALNAME).
	Name string
	// Now is the reference instant; past series are left out.
	Now time.Time
	// Location is the zone DTSTART/DTEND are written in (TZID). Nil or UTC
	// writes UTC timestamps.
	Location *time.Location
	// Duration of every event; zero means three hours.
	Duration time.Duration
}

// BuildFeed renders events as an RFC 5545 calendar. Each VEVENT starts at
// the event's next occurrence and carries the RRULE of its series. Events
// with invalid rules are left out and reported.
func BuildFeed(events []model.Event, opts FeedOptions) (string, []error) {
	if opts.Name == "" {
		opts.Name = defaultFeedName
	}
	if opts.Duration <= 0 {
		opts.Duration = defaultDuration
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//Dice Bastion//Events//EN")
	cal.SetXWRCalName(opts.Name)
	cal.SetXWRTimezone(opts.Location.String())

	errs := make([]error, 0)
	for _, ev := range events {
		tpl := ev.Template.In(opts.Location)

		next, err := recurrence.NextOccurrence(tpl, opts.Now)
		if err != nil {
			errs = append(errs, fmt.Errorf("event %s: %w", ev.Key(), err))
			continue
		}
		if next == nil {
			continue
		}

		ve := cal.AddEvent(EventUID(ev))
		ve.SetDtStampTime(opts.Now)
		setTime(ve, ical.ComponentPropertyDtStart, *next, opts.Location)
		setTime(ve, ical.ComponentPropertyDtEnd, next.Add(opts.Duration), opts.Location)
		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.Location != "" {
			ve.SetLocation(ev.Location)
		}

		if tpl.Rule.IsRecurring() {
			rr, err := tpl.RRuleString()
			if err != nil {
				errs = append(errs, fmt.Errorf("event %s: %w", ev.Key(), err))
				continue
			}
			ve.AddProperty(ical.ComponentPropertyRrule, rr)
		}
	}

	return cal.Serialize(), errs
}

func setTime(ve *ical.VEvent, prop ical.ComponentProperty, t time.Time, loc *time.Location) {
	if loc == time.UTC {
		ve.SetProperty(prop, t.UTC().Format(localStampFmt+"Z"))
		return
	}
	ve.SetProperty(prop, t.In(loc).Format(localStampFmt), &ical.KeyValues{Key: "TZID", Value: []string{loc.String()}})
}

// uidNamespace scopes event UIDs to this calendar.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://dicebastion.com/events"))

// EventUID is stable for an event across refreshes and feed rebuilds.
func EventUID(ev model.Event) string {
	return uuid.NewSHA1(uidNamespace, []byte(ev.Key())).String() + "@dicebastion.com"
}
