package model

import "time"

// Category is the label attached to every event coming from one feed.
// Known values get a dedicated label when rendered; anything else is shown
// as "Other".
type Category string

const (
	CategoryPersonal       Category = "personal"
	CategoryEvents         Category = "events"
	CategoryUSHolidays     Category = "us_holidays"
	CategoryJewishHolidays Category = "jewish_holidays"
)

// CalendarSource is one fetched feed. Data is the raw ICS payload.
type CalendarSource struct {
	ID       string
	Category Category
	Data     []byte
}

// RawEvent represents a single VEVENT after parsing, before recurrence
// expansion. Start and End always carry a location: DATE values are local
// midnight in the reference zone and floating date-times are read in the
// reference zone.
type RawEvent struct {
	UID string

	Summary     string
	Description string
	Location    string
	URL         string

	// AllDay is true when DTSTART was a DATE value.
	AllDay bool

	Start time.Time
	// End defaults to Start when neither DTEND nor DURATION is present.
	End time.Time

	// Recurrence master fields.
	RRule   string
	RDates  []time.Time
	ExDates []time.Time

	// RecurrenceID is set when this VEVENT overrides one instance of a
	// recurring series.
	RecurrenceID *time.Time
}

// IsRecurring reports whether the event is a recurrence master.
func (e RawEvent) IsRecurring() bool {
	return e.RRule != "" || len(e.RDates) > 0
}

// Feed is the parsed form of a CalendarSource, shared read-only by every
// note processed in one run.
type Feed struct {
	SourceID string
	Category Category
	Events   []RawEvent
}

// Occurrence represents a single concrete instance of an event on the
// target day (after recurrence expansion and timezone normalization).
type Occurrence struct {
	SourceID string
	Category Category
	UID      string

	Summary     string
	Description string
	Location    string
	URL         string

	AllDay bool

	// Start / End are in the reference timezone.
	Start time.Time
	End   time.Time
}

// DedupKey identifies duplicates: same summary, same start instant, same
// category.
func (o Occurrence) DedupKey() string {
	return o.Summary + "\x00" + o.Start.UTC().Format(time.RFC3339Nano) + "\x00" + string(o.Category)
}
