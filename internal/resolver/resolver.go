// Package resolver turns parsed feeds into the occurrences that overlap one
// calendar day.
package resolver

import (
	"errors"
	"time"

	"notecal/internal/ics"
	appLog "notecal/internal/log"
	"notecal/internal/metrics"
	"notecal/internal/model"
)

const (
	defaultLookBehindDays = 365
	defaultLookAheadDays  = 730
)

// Resolver resolves occurrences in a fixed reference zone.
type Resolver struct {
	// Location is the reference zone for local days. If nil, time.Local is used.
	Location *time.Location

	// LookBehindDays / LookAheadDays bound which recurring instances may be
	// considered around the target day, including overrides moved onto it.
	// Zero means one year back and two years forward.
	LookBehindDays int
	LookAheadDays  int

	// MaxInstancesPerSeries caps a single series' expansion; zero uses the
	// ics package default.
	MaxInstancesPerSeries int
}

// New returns a Resolver with the default expansion window.
func New(loc *time.Location) *Resolver {
	return &Resolver{
		Location:       loc,
		LookBehindDays: defaultLookBehindDays,
		LookAheadDays:  defaultLookAheadDays,
	}
}

// Zone returns the reference zone.
func (r *Resolver) Zone() *time.Location {
	if r.Location == nil {
		return time.Local
	}
	return r.Location
}

// ResolveSources parses raw sources and resolves them for date. Sources
// that are not calendar data are skipped and reported in the error slice.
func (r *Resolver) ResolveSources(sources []model.CalendarSource, date time.Time) ([]model.Occurrence, []error) {
	feeds, errs := ParseSources(sources, r.Zone())
	return r.Resolve(feeds, date), errs
}

// ParseSources parses every source once so the feeds can be shared by all
// notes of a run.
func ParseSources(sources []model.CalendarSource, loc *time.Location) ([]model.Feed, []error) {
	feeds := make([]model.Feed, 0, len(sources))
	var errs []error
	for _, src := range sources {
		feed, err := ics.Parse(src, loc)
		if err != nil {
			metrics.FeedParseErrors.WithLabelValues(src.ID).Inc()
			appLog.Error("calendar feed skipped", err, "id", src.ID, "category", src.Category)
			errs = append(errs, err)
			continue
		}
		feeds = append(feeds, feed)
	}
	return feeds, errs
}

// Resolve returns the deduplicated occurrences overlapping date, in feed
// order. Only the calendar date of date matters; it is read in the
// reference zone.
func (r *Resolver) Resolve(feeds []model.Feed, date time.Time) []model.Occurrence {
	loc := r.Zone()
	window := NewWindow(date, loc)

	behind := r.LookBehindDays
	if behind <= 0 {
		behind = defaultLookBehindDays
	}
	ahead := r.LookAheadDays
	if ahead <= 0 {
		ahead = defaultLookAheadDays
	}
	boundStart := window.Start.AddDate(0, 0, -behind)
	boundEnd := window.Start.AddDate(0, 0, ahead)

	// Only instances that can reach the target day are generated: those
	// starting no earlier than the longest instance of the series (plus a
	// day of slack for DST) before it.
	expandCfg := func(master model.RawEvent, overrides []model.RawEvent) ics.ExpandConfig {
		from := window.Start.Add(-seriesSpan(master, overrides)).AddDate(0, 0, -1)
		if from.Before(boundStart) {
			from = boundStart
		}
		to := window.End
		if to.After(boundEnd) {
			to = boundEnd
		}
		return ics.ExpandConfig{
			RangeStart:            from,
			RangeEnd:              to,
			OverrideStart:         boundStart,
			OverrideEnd:           boundEnd,
			MaxInstancesPerSeries: r.MaxInstancesPerSeries,
		}
	}

	seen := make(map[string]struct{})
	out := make([]model.Occurrence, 0)

	add := func(feed model.Feed, ev model.RawEvent, start, end time.Time) {
		allDay := IsAllDay(start, end, ev.AllDay)
		if !window.Overlaps(start, end, allDay) {
			return
		}
		occ := makeOccurrence(feed, ev, start, end, allDay, loc)
		key := occ.DedupKey()
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, occ)
	}

	for _, feed := range feeds {
		masters := make(map[string]bool)
		overrides := make(map[string][]model.RawEvent)
		for _, ev := range feed.Events {
			if ev.RecurrenceID != nil && ev.UID != "" {
				overrides[ev.UID] = append(overrides[ev.UID], ev)
			} else if ev.IsRecurring() && ev.UID != "" {
				masters[ev.UID] = true
			}
		}

		for _, ev := range feed.Events {
			switch {
			case ev.RecurrenceID != nil && masters[ev.UID]:
				// Applied while expanding its master.
				continue

			case ev.IsRecurring():
				instances, truncated, err := ics.Expand(ev, overrides[ev.UID], expandCfg(ev, overrides[ev.UID]))
				if err != nil {
					metrics.EventsSkipped.WithLabelValues(feed.SourceID, "expand").Inc()
					appLog.Error("recurring series skipped", err, "id", feed.SourceID, "uid", ev.UID, "summary", ev.Summary)
					continue
				}
				if truncated {
					appLog.Error("recurring series truncated", errors.New("max instances reached"),
						"id", feed.SourceID,
						"uid", ev.UID,
					)
				}
				for _, inst := range instances {
					add(feed, inst.Event, inst.Start, inst.End)
				}

			default:
				add(feed, ev, ev.Start, ev.End)
			}
		}
	}

	appLog.Debug("occurrences resolved", "date", window.Start.Format("2006-01-02"), "count", len(out))
	return out
}

// seriesSpan is the longest length among a master and its overrides.
func seriesSpan(master model.RawEvent, overrides []model.RawEvent) time.Duration {
	span := master.End.Sub(master.Start)
	for _, ov := range overrides {
		if d := ov.End.Sub(ov.Start); d > span {
			span = d
		}
	}
	if span < 0 {
		return 0
	}
	return span
}

func makeOccurrence(feed model.Feed, ev model.RawEvent, start, end time.Time, allDay bool, loc *time.Location) model.Occurrence {
	if end.Before(start) {
		end = start
	}
	return model.Occurrence{
		SourceID:    feed.SourceID,
		Category:    feed.Category,
		UID:         ev.UID,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		URL:         ev.URL,
		AllDay:      allDay,
		Start:       start.In(loc),
		End:         end.In(loc),
	}
}
