package ics

import (
	"errors"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"notecal/internal/model"
)

func calendar(lines ...string) []byte {
	all := []string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//notecal//test//EN"}
	all = append(all, lines...)
	all = append(all, "END:VCALENDAR")
	return []byte(strings.Join(all, "\r\n") + "\r\n")
}

func vevent(props ...string) []string {
	out := []string{"BEGIN:VEVENT"}
	out = append(out, props...)
	return append(out, "END:VEVENT")
}

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load location %s: %v", name, err)
	}
	return loc
}

func TestParseNormalizesTimes(t *testing.T) {
	ny := mustLoad(t, "America/New_York")
	la := mustLoad(t, "America/Los_Angeles")

	var lines []string
	lines = append(lines, vevent(
		"UID:floating",
		"SUMMARY:Floating standup",
		"DTSTART:20240603T090000",
		"DTEND:20240603T093000",
	)...)
	lines = append(lines, vevent(
		"UID:zoned",
		"SUMMARY:West coast sync",
		"DTSTART;TZID=America/Los_Angeles:20240603T090000",
		"DTEND;TZID=America/Los_Angeles:20240603T100000",
	)...)
	lines = append(lines, vevent(
		"UID:utc",
		"SUMMARY:UTC call",
		"DTSTART:20240603T140000Z",
		"DTEND:20240603T150000Z",
	)...)
	lines = append(lines, vevent(
		"UID:allday",
		"SUMMARY:Holiday",
		"DTSTART;VALUE=DATE:20241224",
		"DTEND;VALUE=DATE:20241226",
	)...)

	feed, err := Parse(model.CalendarSource{ID: "cal", Category: model.CategoryPersonal, Data: calendar(lines...)}, ny)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if feed.SourceID != "cal" || feed.Category != model.CategoryPersonal {
		t.Fatalf("unexpected feed identity: %+v", feed)
	}
	if len(feed.Events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(feed.Events))
	}

	floating := feed.Events[0]
	if want := time.Date(2024, 6, 3, 9, 0, 0, 0, ny); !floating.Start.Equal(want) {
		t.Fatalf("floating start = %v, want %v", floating.Start, want)
	}
	if floating.AllDay {
		t.Fatalf("floating event must not be all-day")
	}

	zoned := feed.Events[1]
	if want := time.Date(2024, 6, 3, 9, 0, 0, 0, la); !zoned.Start.Equal(want) {
		t.Fatalf("zoned start = %v, want %v", zoned.Start, want)
	}

	utc := feed.Events[2]
	if want := time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC); !utc.Start.Equal(want) {
		t.Fatalf("utc start = %v, want %v", utc.Start, want)
	}

	allDay := feed.Events[3]
	if !allDay.AllDay {
		t.Fatalf("VALUE=DATE event must be all-day")
	}
	if want := time.Date(2024, 12, 24, 0, 0, 0, 0, ny); !allDay.Start.Equal(want) {
		t.Fatalf("all-day start = %v, want %v", allDay.Start, want)
	}
	if want := time.Date(2024, 12, 26, 0, 0, 0, 0, ny); !allDay.End.Equal(want) {
		t.Fatalf("all-day end = %v, want %v", allDay.End, want)
	}
}

func TestParseEndDefaults(t *testing.T) {
	ny := mustLoad(t, "America/New_York")

	var lines []string
	lines = append(lines, vevent(
		"UID:no-end",
		"SUMMARY:Reminder",
		"DTSTART:20240603T120000",
	)...)
	lines = append(lines, vevent(
		"UID:duration",
		"SUMMARY:Workshop",
		"DTSTART:20240603T130000",
		"DURATION:PT1H30M",
	)...)
	lines = append(lines, vevent(
		"UID:backwards",
		"SUMMARY:Backwards",
		"DTSTART:20240603T130000",
		"DTEND:20240603T120000",
	)...)

	feed, err := Parse(model.CalendarSource{ID: "cal", Data: calendar(lines...)}, ny)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(feed.Events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(feed.Events))
	}
	if !feed.Events[0].End.Equal(feed.Events[0].Start) {
		t.Fatalf("missing DTEND should default to start, got %v", feed.Events[0].End)
	}
	if want := time.Date(2024, 6, 3, 14, 30, 0, 0, ny); !feed.Events[1].End.Equal(want) {
		t.Fatalf("duration end = %v, want %v", feed.Events[1].End, want)
	}
	if feed.Events[2].End.Before(feed.Events[2].Start) {
		t.Fatalf("end before start must be clamped")
	}
}

func TestParseSkipsMalformedEvents(t *testing.T) {
	var lines []string
	lines = append(lines, vevent("UID:nostart", "SUMMARY:No start")...)
	lines = append(lines, vevent("UID:baddate", "SUMMARY:Bad", "DTSTART:2024-06-03")...)
	lines = append(lines, vevent("UID:good", "SUMMARY:Good", "DTSTART:20240603T090000")...)

	feed, err := Parse(model.CalendarSource{ID: "cal", Data: calendar(lines...)}, time.UTC)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(feed.Events) != 1 || feed.Events[0].UID != "good" {
		t.Fatalf("expected only the good event, got %+v", feed.Events)
	}
}

func TestParseRejectsNonCalendarData(t *testing.T) {
	for _, body := range []string{"", "   \n", "<html>not found</html>"} {
		_, err := Parse(model.CalendarSource{ID: "cal", Data: []byte(body)}, time.UTC)
		if !errors.Is(err, ErrParse) {
			t.Fatalf("body %q: expected ErrParse, got %v", body, err)
		}
	}
}

func TestParseTextAndRecurrenceFields(t *testing.T) {
	ny := mustLoad(t, "America/New_York")

	var lines []string
	lines = append(lines, vevent(
		"UID:series",
		`SUMMARY:Lunch\, team`,
		`DESCRIPTION:Agenda\nJoin: https://zoom.us/j/123`,
		"LOCATION:Cafe",
		"URL:https://example.com/lunch",
		"DTSTART:20240101T120000",
		"DTEND:20240101T130000",
		"RRULE:FREQ=WEEKLY;BYDAY=MO",
		"EXDATE:20240108T120000,20240115T120000",
		"RDATE:20240103T120000",
	)...)
	lines = append(lines, vevent(
		"UID:series",
		"SUMMARY:Lunch moved",
		"RECURRENCE-ID:20240122T120000",
		"DTSTART:20240122T140000",
		"DTEND:20240122T150000",
	)...)

	feed, err := Parse(model.CalendarSource{ID: "cal", Data: calendar(lines...)}, ny)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(feed.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(feed.Events))
	}

	master := feed.Events[0]
	if master.Summary != "Lunch, team" {
		t.Fatalf("summary = %q", master.Summary)
	}
	if master.Description != "Agenda\nJoin: https://zoom.us/j/123" {
		t.Fatalf("description = %q", master.Description)
	}
	if master.URL != "https://example.com/lunch" || master.Location != "Cafe" {
		t.Fatalf("unexpected url/location: %q %q", master.URL, master.Location)
	}
	if master.RRule != "FREQ=WEEKLY;BYDAY=MO" || !master.IsRecurring() {
		t.Fatalf("rrule = %q", master.RRule)
	}
	if len(master.ExDates) != 2 || len(master.RDates) != 1 {
		t.Fatalf("exdates=%d rdates=%d", len(master.ExDates), len(master.RDates))
	}

	override := feed.Events[1]
	if override.RecurrenceID == nil {
		t.Fatalf("override must carry RECURRENCE-ID")
	}
	if want := time.Date(2024, 1, 22, 12, 0, 0, 0, ny); !override.RecurrenceID.Equal(want) {
		t.Fatalf("recurrence id = %v, want %v", *override.RecurrenceID, want)
	}
}

func TestParseKeepsEscapedBackslash(t *testing.T) {
	data := calendar(vevent(
		"UID:copy",
		`SUMMARY:Copy C:\\new files`,
		`LOCATION:Room 4\; East`,
		"DTSTART:20240603T090000Z",
	)...)

	feed, err := Parse(model.CalendarSource{ID: "cal", Data: data}, time.UTC)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ev := feed.Events[0]
	if ev.Summary != `Copy C:\new files` {
		t.Fatalf("summary = %q", ev.Summary)
	}
	if ev.Location != "Room 4; East" {
		t.Fatalf("location = %q", ev.Location)
	}
}

func TestParseICSTime(t *testing.T) {
	ny := mustLoad(t, "America/New_York")
	chicago := mustLoad(t, "America/Chicago")

	tests := []struct {
		name     string
		value    string
		params   map[string][]string
		want     time.Time
		wantDate bool
	}{
		{
			name:     "date",
			value:    "20240603",
			want:     time.Date(2024, 6, 3, 0, 0, 0, 0, ny),
			wantDate: true,
		},
		{
			name:     "value date with time part",
			value:    "20240603T000000",
			params:   map[string][]string{"VALUE": {"DATE"}},
			want:     time.Date(2024, 6, 3, 0, 0, 0, 0, ny),
			wantDate: true,
		},
		{
			name:  "utc",
			value: "20240603T090000Z",
			want:  time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC),
		},
		{
			name:  "floating",
			value: "20240603T090000",
			want:  time.Date(2024, 6, 3, 9, 0, 0, 0, ny),
		},
		{
			name:   "windows zone name",
			value:  "20240603T090000",
			params: map[string][]string{"TZID": {"Central Standard Time"}},
			want:   time.Date(2024, 6, 3, 9, 0, 0, 0, chicago),
		},
		{
			name:   "prefixed iana name",
			value:  "20240603T090000",
			params: map[string][]string{"TZID": {"/mozilla.org/20050126_1/America/Chicago"}},
			want:   time.Date(2024, 6, 3, 9, 0, 0, 0, chicago),
		},
		{
			name:   "unknown zone falls back to reference",
			value:  "20240603T090000",
			params: map[string][]string{"TZID": {"Mars/Olympus_Mons"}},
			want:   time.Date(2024, 6, 3, 9, 0, 0, 0, ny),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, isDate, err := parseICSTime(tt.value, tt.params, ny)
			if err != nil {
				t.Fatalf("parseICSTime(%q): %v", tt.value, err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("parseICSTime(%q) = %v, want %v", tt.value, got, tt.want)
			}
			if isDate != tt.wantDate {
				t.Fatalf("parseICSTime(%q) date = %v, want %v", tt.value, isDate, tt.wantDate)
			}
		})
	}
}

func TestAddDurationKeepsMidnightAcrossDST(t *testing.T) {
	ny := mustLoad(t, "America/New_York")
	start := time.Date(2024, 3, 10, 0, 0, 0, 0, ny) // DST starts this day

	end, err := addDuration(start, "P1D")
	if err != nil {
		t.Fatalf("addDuration: %v", err)
	}
	if want := time.Date(2024, 3, 11, 0, 0, 0, 0, ny); !end.Equal(want) {
		t.Fatalf("end = %v, want %v", end, want)
	}

	if _, err := addDuration(start, "-PT15M"); err == nil {
		t.Fatalf("negative durations must be rejected")
	}
}
