package ics

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"notecal/internal/model"
)

const (
	defaultMaxInstancesPerSeries = 5000
)

// ErrExpand means one recurring series could not be expanded.
var ErrExpand = errors.New("ics: recurrence expansion failed")

// Instance is one concrete interval of a recurring series. Event is the
// master, or the override VEVENT when RECURRENCE-ID replaced the instance.
type Instance struct {
	Event model.RawEvent
	Start time.Time
	End   time.Time
}

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// RangeStart / RangeEnd define the inclusive window in which instance
	// starts are generated.
	RangeStart time.Time
	RangeEnd   time.Time

	// OverrideStart / OverrideEnd bound the RECURRENCE-ID of overrides that
	// move an instance from outside the range into it. Zero values use the
	// range itself.
	OverrideStart time.Time
	OverrideEnd   time.Time

	// MaxInstancesPerSeries is a safety cap to avoid infinite or extremely
	// large expansions. If zero, defaultMaxInstancesPerSeries is used.
	MaxInstancesPerSeries int
}

// Expand expands a recurrence master into the instances starting inside
// [cfg.RangeStart, cfg.RangeEnd], ordered by start. It handles:
//
//   - RRULE (DAILY/WEEKLY/MONTHLY/YEARLY, etc.)
//   - RDATE additions and EXDATE removals
//   - RECURRENCE-ID overrides, including ones moved into the range
//   - Wall-clock lengths (an instance keeps the master's calendar days and
//     clock time across DST changes)
//
// The bool result reports whether the cap truncated the expansion.
func Expand(master model.RawEvent, overrides []model.RawEvent, cfg ExpandConfig) ([]Instance, bool, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, false, fmt.Errorf("%w: range end is before range start", ErrExpand)
	}
	if cfg.MaxInstancesPerSeries <= 0 {
		cfg.MaxInstancesPerSeries = defaultMaxInstancesPerSeries
	}

	var set rrule.Set

	if master.RRule != "" {
		r, err := rrule.StrToRRule(master.RRule)
		if err != nil {
			return nil, false, fmt.Errorf("%w: uid %s: rrule %q: %v", ErrExpand, master.UID, master.RRule, err)
		}
		// Ensure Dtstart is set to the event's DTSTART.
		r.DTStart(master.Start)
		set.RRule(r)
	} else {
		// RDATE-only series: DTSTART is the first instance.
		set.RDate(master.Start)
	}

	for _, rd := range master.RDates {
		set.RDate(rd.In(master.Start.Location()))
	}
	for _, ex := range master.ExDates {
		// Align EXDATE location with event's start.
		set.ExDate(ex.In(master.Start.Location()))
	}

	// Adjust range into the event's original location for Between().
	rangeStart := cfg.RangeStart.In(master.Start.Location())
	rangeEnd := cfg.RangeEnd.In(master.Start.Location())

	starts := set.Between(rangeStart, rangeEnd, true)

	hitCap := false
	if len(starts) > cfg.MaxInstancesPerSeries {
		starts = starts[:cfg.MaxInstancesPerSeries]
		hitCap = true
	}

	out := make([]Instance, 0, len(starts))
	for _, occStart := range starts {
		inst := Instance{
			Event: master,
			Start: occStart,
			End:   instanceEnd(master, occStart),
		}

		if o, ok := findOverrideForStart(overrides, occStart); ok {
			inst = Instance{Event: o, Start: o.Start, End: o.End}
		}

		out = append(out, inst)
	}

	overrideStart, overrideEnd := cfg.OverrideStart, cfg.OverrideEnd
	if overrideStart.IsZero() {
		overrideStart = cfg.RangeStart
	}
	if overrideEnd.IsZero() {
		overrideEnd = cfg.RangeEnd
	}
	for _, ov := range overrides {
		if ov.RecurrenceID == nil {
			continue
		}
		rid := ov.RecurrenceID.In(master.Start.Location())
		if !rid.Before(rangeStart) && !rid.After(rangeEnd) {
			continue
		}
		if rid.Before(overrideStart) || rid.After(overrideEnd) {
			continue
		}
		if ov.Start.Before(rangeStart) || ov.Start.After(rangeEnd) {
			continue
		}
		// The replaced instance must exist in the series.
		if len(set.Between(rid, rid, true)) == 0 {
			continue
		}
		out = append(out, Instance{Event: ov, Start: ov.Start, End: ov.End})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, hitCap, nil
}

// instanceEnd keeps the master's length on the wall clock of its zone:
// whole calendar days first, then the remaining clock time. A series that
// runs midnight to midnight therefore stays on midnight across DST.
func instanceEnd(master model.RawEvent, occStart time.Time) time.Time {
	loc := master.Start.Location()
	start, end := master.Start, master.End.In(loc)
	days := calendarDays(start, end)

	sh, sm, ss := start.Clock()
	eh, em, es := end.Clock()
	rest := time.Duration((eh-sh)*3600+(em-sm)*60+(es-ss))*time.Second +
		time.Duration(end.Nanosecond()-start.Nanosecond())

	occ := occStart.In(loc)
	y, mo, d := occ.Date()
	h, mi, sec := occ.Clock()
	return time.Date(y, mo, d+days, h, mi, sec, occ.Nanosecond()+int(rest), loc)
}

func calendarDays(start, end time.Time) int {
	sy, sm, sd := start.Date()
	ey, em, ed := end.Date()
	s := time.Date(sy, sm, sd, 0, 0, 0, 0, time.UTC)
	e := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	return int(e.Sub(s).Hours() / 24)
}

// findOverrideForStart finds an override whose RECURRENCE-ID is the same
// instant as the generated start.
func findOverrideForStart(overrides []model.RawEvent, start time.Time) (model.RawEvent, bool) {
	for _, ov := range overrides {
		if ov.RecurrenceID == nil {
			continue
		}
		if ov.RecurrenceID.Equal(start) {
			return ov, true
		}
	}
	return model.RawEvent{}, false
}
