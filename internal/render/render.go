// Package render formats resolved occurrences as the markdown block that is
// inserted into a daily note.
package render

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"notecal/internal/model"
)

// NoEvents is the block rendered for a day without occurrences.
const NoEvents = "_No events today_"

// OtherLabel is used for categories without a configured label.
const OtherLabel = "(Other 🤷)"

const (
	defaultEmoji   = "📅"
	allDayMarker   = "📅"
	detailIndent   = "    - "
	untitledEvent  = "Untitled Event"
	calendarSearch = "https://calendar.google.com/calendar/u/0/r/search?q="
	mapsSearch     = "https://www.google.com/maps/search/?api=1&query="
)

// Keyword maps a title substring to the emoji shown on all-day lines.
type Keyword struct {
	Keyword string `yaml:"keyword" json:"keyword"`
	Emoji   string `yaml:"emoji" json:"emoji"`
}

// DefaultLabels are the category labels shown after each line.
var DefaultLabels = map[model.Category]string{
	model.CategoryPersonal:       "(Personal 🗓️)",
	model.CategoryEvents:         "(Events 🎊)",
	model.CategoryUSHolidays:     "(US Holidays 🇺🇸)",
	model.CategoryJewishHolidays: "(Jewish Holidays ✡️)",
}

// DefaultKeywords is checked in order; the first keyword found in the
// lowercased title wins.
var DefaultKeywords = []Keyword{
	// work
	{"meeting", "💼"}, {"call", "📞"}, {"zoom", "🎥"}, {"interview", "🤝"},
	{"deadline", "⏰"}, {"presentation", "📊"}, {"conference", "🎤"},
	{"workshop", "👨‍🏫"}, {"standup", "🌅"}, {"review", "👀"}, {"1:1", "👥"},
	{"sync", "🔄"},
	// food
	{"lunch", "🍽️"}, {"dinner", "🍴"}, {"breakfast", "🍳"}, {"brunch", "🥞"},
	{"coffee", "☕"}, {"drinks", "🍻"}, {"happy hour", "🍷"}, {"restaurant", "🍽️"},
	// health
	{"doctor", "👨‍⚕️"}, {"dentist", "🦷"}, {"therapy", "🧠"}, {"gym", "💪"},
	{"workout", "🏋️"}, {"yoga", "🧘"}, {"meditation", "🧘‍♂️"}, {"massage", "💆"},
	{"appointment", "🏥"},
	// travel
	{"flight", "✈️"}, {"travel", "🧳"}, {"vacation", "🏖️"}, {"trip", "🗺️"},
	{"train", "🚂"}, {"bus", "🚌"}, {"airport", "✈️"}, {"hotel", "🏨"},
	// learning
	{"study", "📚"}, {"class", "📓"}, {"lecture", "👨‍🏫"}, {"homework", "✏️"},
	{"exam", "📝"}, {"training", "🎓"}, {"webinar", "💻"}, {"course", "📖"},
	// social
	{"game", "🎮"}, {"movie", "🎬"}, {"concert", "🎵"}, {"theater", "🎭"},
	{"show", "🎪"}, {"party", "🎉"}, {"birthday", "🎂"}, {"celebration", "🎊"},
	{"festival", "🎪"}, {"music", "🎼"}, {"dance", "💃"}, {"date", "❤️"},
	// errands
	{"shopping", "🛍️"}, {"grocery", "🛒"}, {"errands", "📝"}, {"pickup", "📦"},
	{"delivery", "📬"}, {"store", "🏪"},
	// home
	{"cleaning", "🧹"}, {"laundry", "👕"}, {"maintenance", "🔧"}, {"repair", "🔨"},
	{"moving", "📦"}, {"packing", "📦"},
	// holidays
	{"holiday", "🎊"}, {"christmas", "🎄"}, {"hanukkah", "🕎"}, {"passover", "✡️"},
	{"easter", "🐰"}, {"thanksgiving", "🦃"}, {"new year", "🎆"}, {"prayer", "🙏"},
	{"service", "⛪"},
	// misc
	{"reminder", "⏰"}, {"todo", "✅"}, {"important", "❗"}, {"urgent", "‼️"},
}

var (
	urlPattern = regexp.MustCompile(`https?://[^\s<>"]+|www\.[^\s<>"]+`)

	locationMeetingMarkers    = []string{"http://", "https://", "zoom.us", "meet.google", "teams.microsoft"}
	descriptionMeetingMarkers = []string{"zoom.us", "meet.google.com", "teams.microsoft.com"}
)

// Renderer holds the lookup tables used to decorate lines. A Renderer is
// immutable after New and safe for concurrent use.
type Renderer struct {
	loc      *time.Location
	labels   map[model.Category]string
	keywords []Keyword
}

// Option customizes a Renderer.
type Option func(*Renderer)

// WithLabels overrides category labels. Empty values are ignored.
func WithLabels(labels map[model.Category]string) Option {
	return func(r *Renderer) {
		for cat, label := range labels {
			if strings.TrimSpace(label) == "" {
				continue
			}
			r.labels[cat] = label
		}
	}
}

// WithKeywords puts extra keywords ahead of the defaults so they match
// first.
func WithKeywords(keywords []Keyword) Option {
	return func(r *Renderer) {
		extra := make([]Keyword, 0, len(keywords))
		for _, k := range keywords {
			kw := strings.ToLower(strings.TrimSpace(k.Keyword))
			if kw == "" || k.Emoji == "" {
				continue
			}
			extra = append(extra, Keyword{Keyword: kw, Emoji: k.Emoji})
		}
		r.keywords = append(extra, r.keywords...)
	}
}

// New returns a Renderer formatting times in loc (time.Local when nil).
func New(loc *time.Location, opts ...Option) *Renderer {
	if loc == nil {
		loc = time.Local
	}
	r := &Renderer{
		loc:      loc,
		labels:   make(map[model.Category]string, len(DefaultLabels)),
		keywords: append([]Keyword(nil), DefaultKeywords...),
	}
	for cat, label := range DefaultLabels {
		r.labels[cat] = label
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Label returns the display label of a category.
func (r *Renderer) Label(cat model.Category) string {
	if label, ok := r.labels[cat]; ok {
		return label
	}
	return OtherLabel
}

// Emoji returns the emoji of the first keyword contained in title.
func (r *Renderer) Emoji(title string) string {
	lower := strings.ToLower(title)
	for _, k := range r.keywords {
		if strings.Contains(lower, k.Keyword) {
			return k.Emoji
		}
	}
	return defaultEmoji
}

// Render formats occurrences as markdown lines ending with a newline.
// Output depends only on the set of occurrences, not on their order.
func (r *Renderer) Render(occs []model.Occurrence) string {
	if len(occs) == 0 {
		return NoEvents + "\n"
	}

	sorted := append([]model.Occurrence(nil), occs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if a.Summary != b.Summary {
			return a.Summary < b.Summary
		}
		return a.Category < b.Category
	})

	var b strings.Builder
	seen := make(map[string]struct{}, len(sorted))
	for _, occ := range sorted {
		title := Title(occ.Summary)
		start := r.startString(occ)
		key := title + "\x00" + start + "\x00" + string(occ.Category)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		r.writeOccurrence(&b, occ, title)
	}
	return b.String()
}

func (r *Renderer) startString(occ model.Occurrence) string {
	if occ.AllDay {
		return occ.Start.Format("2006-01-02")
	}
	return occ.Start.In(r.loc).Format("15:04")
}

func (r *Renderer) writeOccurrence(b *strings.Builder, occ model.Occurrence, title string) {
	link := "[" + title + "](" + EventLink(occ.URL, title) + ")"
	label := "`" + r.Label(occ.Category) + "`"

	b.WriteString("- ")
	if occ.AllDay {
		b.WriteString(allDayMarker + " " + link + " " + r.Emoji(title) + " " + label)
	} else {
		b.WriteString("**" + occ.Start.In(r.loc).Format("15:04") + " - " + occ.End.In(r.loc).Format("15:04") + "** ")
		b.WriteString(link + " " + label)
	}
	b.WriteString("\n")

	for _, detail := range Details(occ.Location, occ.Description) {
		b.WriteString(detailIndent + detail + "\n")
	}
}

// Title collapses all whitespace in a summary so the event fits on one line.
func Title(summary string) string {
	title := strings.Join(strings.Fields(summary), " ")
	if title == "" {
		return untitledEvent
	}
	return title
}

// EventLink returns the event URL, or a calendar search for title.
func EventLink(eventURL, title string) string {
	if u := strings.TrimSpace(eventURL); u != "" {
		return u
	}
	return calendarSearch + url.QueryEscape(title)
}

// Details builds the indented lines shown under an event: at most one
// meeting link first, then a map link for a physical location.
func Details(location, description string) []string {
	var meeting, place string

	location = strings.Join(strings.Fields(location), " ")
	if location != "" {
		if containsAny(strings.ToLower(location), locationMeetingMarkers) {
			meeting = location
		} else {
			place = "📍 [" + location + "](" + mapsSearch + url.QueryEscape(location) + ")"
		}
	}

	if meeting == "" {
		meeting = MeetingURL(description)
	}

	var out []string
	if meeting != "" {
		out = append(out, "🔗 [Join meeting]("+meeting+")")
	}
	if place != "" {
		out = append(out, place)
	}
	return out
}

// MeetingURL returns the first video-meeting URL found in text.
func MeetingURL(text string) string {
	for _, u := range urlPattern.FindAllString(text, -1) {
		if containsAny(strings.ToLower(u), descriptionMeetingMarkers) {
			return u
		}
	}
	return ""
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
