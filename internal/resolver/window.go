package resolver

import "time"

// Window is one local day: [midnight, end of day] in the reference zone.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow builds the window for date's calendar day in loc. The clock
// part of date is ignored, and so is its location: the year/month/day
// fields are taken as they are.
func NewWindow(date time.Time, loc *time.Location) Window {
	y, m, d := date.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	next := time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	return Window{Start: start, End: next.Add(-time.Nanosecond)}
}

// Overlaps reports whether an interval belongs to the window.
//
// All-day intervals compare calendar dates with an exclusive end, read in
// the interval's own zone: [start date, end date). An all-day interval
// with no usable end lasts one day. Timed intervals use an inclusive
// boundary test, so an event ending exactly at midnight still touches the
// following day.
func (w Window) Overlaps(start, end time.Time, allDay bool) bool {
	if allDay {
		target := civil(w.Start)
		startDate := civil(start)
		endDate := civil(end)
		if !endDate.After(startDate) {
			endDate = startDate.AddDate(0, 0, 1)
		}
		return !target.Before(startDate) && target.Before(endDate)
	}
	return !(end.Before(w.Start) || start.After(w.End))
}

// IsAllDay classifies an interval. The explicit flag wins; otherwise an
// interval of at least one calendar day whose both ends sit exactly on
// midnight of their own zone counts as all-day. A genuine 24-hour meeting
// starting at midnight is classified as all-day too.
func IsAllDay(start, end time.Time, explicit bool) bool {
	if explicit {
		return true
	}
	if !civil(end).After(civil(start)) {
		return false
	}
	return isMidnight(start) && isMidnight(end)
}

// civil maps t to its calendar date, as midnight UTC, so dates from
// different zones compare by their fields only.
func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func isMidnight(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}
