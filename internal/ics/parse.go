package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	duration "github.com/ChannelMeter/iso8601duration"
	ical "github.com/arran4/golang-ical"

	appLog "notecal/internal/log"
	"notecal/internal/metrics"
	"notecal/internal/model"
)

var (
	// ErrParse means the whole feed could not be read as calendar data.
	ErrParse = errors.New("ics: parse failed")
	// ErrMalformedEvent means a single VEVENT was skipped.
	ErrMalformedEvent = errors.New("ics: malformed event")
)

const (
	propRDate        = ical.ComponentProperty("RDATE")
	propRecurrenceID = ical.ComponentProperty("RECURRENCE-ID")
	propDuration     = ical.ComponentProperty("DURATION")
)

// Parse parses a single ICS payload into a Feed.
//
//   - DATE values become local midnight in ref.
//   - Floating date-times (no Z, no TZID) are read in ref, never UTC.
//   - TZIDs are resolved through the IANA database, then through a table of
//     Windows zone names, and finally fall back to ref.
//   - RRULE/RDATE/EXDATE/RECURRENCE-ID are recorded but not expanded;
//     expansion is done in expand.go.
//
// A malformed VEVENT is logged and skipped; only a payload that is not
// calendar data at all returns an error (wrapping ErrParse).
func Parse(src model.CalendarSource, ref *time.Location) (model.Feed, error) {
	feed := model.Feed{SourceID: src.ID, Category: src.Category}
	if ref == nil {
		ref = time.Local
	}

	if len(bytes.TrimSpace(src.Data)) == 0 {
		return feed, fmt.Errorf("%w: empty ICS body", ErrParse)
	}
	if !bytes.Contains(bytes.ToUpper(src.Data), []byte("BEGIN:VCALENDAR")) {
		return feed, fmt.Errorf("%w: no VCALENDAR component", ErrParse)
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(src.Data))
	if err != nil {
		return feed, fmt.Errorf("%w: %v", ErrParse, err)
	}

	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(comp, ref)
		if perr != nil {
			appLog.Error("ics vevent skipped", perr, "id", src.ID, "uid", propValue(comp, ical.ComponentPropertyUniqueId))
			metrics.EventsSkipped.WithLabelValues(src.ID, "malformed").Inc()
			continue
		}
		feed.Events = append(feed.Events, ev)
	}

	appLog.Debug("ics parse completed", "id", src.ID, "event_count", len(feed.Events))
	return feed, nil
}

func parseVEvent(ve *ical.VEvent, ref *time.Location) (model.RawEvent, error) {
	var out model.RawEvent

	out.UID = propValue(ve, ical.ComponentPropertyUniqueId)
	out.Summary = propValue(ve, ical.ComponentPropertySummary)
	out.Description = propValue(ve, ical.ComponentPropertyDescription)
	out.Location = propValue(ve, ical.ComponentPropertyLocation)
	out.URL = strings.TrimSpace(propValue(ve, ical.ComponentPropertyUrl))

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || strings.TrimSpace(dtStart.Value) == "" {
		return out, fmt.Errorf("%w: missing DTSTART", ErrMalformedEvent)
	}
	start, dateOnly, err := parseICSTime(dtStart.Value, dtStart.ICalParameters, ref)
	if err != nil {
		return out, fmt.Errorf("%w: DTSTART %q: %v", ErrMalformedEvent, dtStart.Value, err)
	}
	out.Start = start
	out.AllDay = dateOnly
	out.End = start

	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil && strings.TrimSpace(dtEnd.Value) != "" {
		end, _, err := parseICSTime(dtEnd.Value, dtEnd.ICalParameters, ref)
		if err != nil {
			return out, fmt.Errorf("%w: DTEND %q: %v", ErrMalformedEvent, dtEnd.Value, err)
		}
		out.End = end
	} else if dur := ve.GetProperty(propDuration); dur != nil && strings.TrimSpace(dur.Value) != "" {
		end, err := addDuration(start, dur.Value)
		if err != nil {
			return out, fmt.Errorf("%w: DURATION %q: %v", ErrMalformedEvent, dur.Value, err)
		}
		out.End = end
	}
	if out.End.Before(out.Start) {
		out.End = out.Start
	}

	if rr := ve.GetProperty(ical.ComponentPropertyRrule); rr != nil {
		out.RRule = strings.TrimSpace(rr.Value)
	}
	out.RDates = parseTimeList(ve.GetProperties(propRDate), ref)
	out.ExDates = parseTimeList(ve.GetProperties(ical.ComponentPropertyExdate), ref)

	if rid := ve.GetProperty(propRecurrenceID); rid != nil && strings.TrimSpace(rid.Value) != "" {
		t, _, err := parseICSTime(rid.Value, rid.ICalParameters, ref)
		if err != nil {
			return out, fmt.Errorf("%w: RECURRENCE-ID %q: %v", ErrMalformedEvent, rid.Value, err)
		}
		out.RecurrenceID = &t
	}

	return out, nil
}

// parseTimeList reads EXDATE/RDATE style properties, which may repeat and
// may carry comma separated values. Unparseable entries are dropped.
func parseTimeList(props []*ical.IANAProperty, ref *time.Location) []time.Time {
	var out []time.Time
	for _, p := range props {
		// PERIOD values are not supported.
		if strings.EqualFold(paramValue(p.ICalParameters, "VALUE"), "PERIOD") {
			continue
		}
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, _, err := parseICSTime(part, p.ICalParameters, ref)
			if err != nil {
				appLog.Debug("ics: dropping unparseable date list value", "value", part, "err", err)
				continue
			}
			out = append(out, t)
		}
	}
	return out
}

// parseICSTime parses an ICS DATE or DATE-TIME value. The bool result
// reports whether the value was a bare DATE.
func parseICSTime(v string, params map[string][]string, ref *time.Location) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}

	if strings.EqualFold(paramValue(params, "VALUE"), "DATE") || !strings.Contains(v, "T") {
		if len(v) > 8 {
			v = v[:8]
		}
		t, err := time.ParseInLocation("20060102", v, ref)
		return t, true, err
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	}

	loc := ref
	if tzid := paramValue(params, "TZID"); tzid != "" {
		loc = resolveTZID(tzid, ref)
	}
	t, err := time.ParseInLocation("20060102T150405", v, loc)
	return t, false, err
}

// addDuration applies an RFC 5545 DURATION. Day and week parts are added
// on the calendar so all-day events stay on midnight across DST changes.
func addDuration(start time.Time, v string) (time.Time, error) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "+")
	if strings.HasPrefix(v, "-") {
		return time.Time{}, errors.New("negative duration")
	}
	d, err := duration.FromString(v)
	if err != nil {
		return time.Time{}, err
	}
	end := start.AddDate(d.Years, 0, d.Weeks*7+d.Days)
	end = end.Add(time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Minutes)*time.Minute +
		time.Duration(d.Seconds)*time.Second)
	return end, nil
}

// windowsZones maps the zone names Outlook/Exchange put in TZID to IANA names.
var windowsZones = map[string]string{
	"Hawaiian Standard Time":        "Pacific/Honolulu",
	"Hawaii Standard Time":          "Pacific/Honolulu",
	"Alaskan Standard Time":         "America/Anchorage",
	"Alaskan Daylight Time":         "America/Anchorage",
	"SA Pacific Standard Time":      "America/Bogota",
	"Pacific Standard Time":         "America/Los_Angeles",
	"Pacific Daylight Time":         "America/Los_Angeles",
	"Mountain Standard Time":        "America/Denver",
	"Mountain Daylight Time":        "America/Denver",
	"US Mountain Standard Time":     "America/Phoenix",
	"Central Standard Time":         "America/Chicago",
	"Central Daylight Time":         "America/Chicago",
	"Eastern Standard Time":         "America/New_York",
	"Eastern Daylight Time":         "America/New_York",
	"US Eastern Standard Time":      "America/Indianapolis",
	"Atlantic Standard Time":        "America/Halifax",
	"GMT Standard Time":             "Europe/London",
	"Greenwich Standard Time":       "Atlantic/Reykjavik",
	"W. Europe Standard Time":       "Europe/Berlin",
	"Romance Standard Time":         "Europe/Paris",
	"Central Europe Standard Time":  "Europe/Budapest",
	"E. Europe Standard Time":       "Europe/Chisinau",
	"Israel Standard Time":          "Asia/Jerusalem",
	"India Standard Time":           "Asia/Kolkata",
	"China Standard Time":           "Asia/Shanghai",
	"Tokyo Standard Time":           "Asia/Tokyo",
	"Korea Standard Time":           "Asia/Seoul",
	"AUS Eastern Standard Time":     "Australia/Sydney",
	"New Zealand Standard Time":     "Pacific/Auckland",
	"UTC":                           "UTC",
	"Coordinated Universal Time":    "UTC",
}

var tzCache sync.Map // TZID -> *time.Location

// resolveTZID turns a TZID parameter into a location. Unknown zones fall
// back to ref.
func resolveTZID(tzid string, ref *time.Location) *time.Location {
	tzid = strings.Trim(strings.TrimSpace(tzid), `"`)
	if cached, ok := tzCache.Load(tzid); ok {
		return cached.(*time.Location)
	}

	name := tzid
	if mapped, ok := windowsZones[tzid]; ok {
		name = mapped
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		// Some producers prefix the IANA name, e.g. "/mozilla.org/20050126_1/America/New_York".
		if i := strings.LastIndex(name, "/"); i > 0 {
			if j := strings.LastIndex(name[:i], "/"); j >= 0 {
				loc, err = time.LoadLocation(name[j+1:])
			}
		}
	}
	if err != nil {
		appLog.Warn("ics: unknown TZID, using reference zone", "tzid", tzid, "zone", ref.String())
		return ref
	}

	tzCache.Store(tzid, loc)
	return loc
}

func propValue(ve *ical.VEvent, prop ical.ComponentProperty) string {
	if p := ve.GetProperty(prop); p != nil {
		return p.Value
	}
	return ""
}

func paramValue(params map[string][]string, key string) string {
	if params == nil {
		return ""
	}
	if vs, ok := params[key]; ok && len(vs) > 0 {
		return strings.TrimSpace(vs[0])
	}
	return ""
}
