package model

import (
	"time"

	"dicebastion/internal/recurrence"
)

// Event is one entry of the club calendar as configured in the
// event-management system, with its schedule normalized.
type Event struct {
	SourceID string `json:"source_id"` // config source ID
	ID       string `json:"id"`        // upstream event ID, unique per source

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`

	Template recurrence.Template `json:"template"`
}

// Key identifies the event across sources.
func (e Event) Key() string {
	if e.SourceID == "" {
		return e.ID
	}
	return e.SourceID + ":" + e.ID
}

// Occurrence is a single resolved date of an event. Occurrences are derived
// on demand and never stored.
type Occurrence struct {
	EventKey string
	Title    string
	Location string

	// Start is in the configured display timezone.
	Start time.Time
	Rule  recurrence.Rule
}

// OccurrenceOf builds the occurrence of e starting at start.
func OccurrenceOf(e Event, start time.Time) Occurrence {
	return Occurrence{
		EventKey: e.Key(),
		Title:    e.Title,
		Location: e.Location,
		Start:    start,
		Rule:     e.Template.Rule,
	}
}
