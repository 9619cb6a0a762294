// Package notesync runs the fetch, resolve, render and patch pipeline over
// a directory of daily notes.
package notesync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"notecal/internal/ics"
	appLog "notecal/internal/log"
	"notecal/internal/metrics"
	"notecal/internal/model"
	"notecal/internal/note"
	"notecal/internal/render"
	"notecal/internal/resolver"
)

// Fetcher retrieves feed bodies. *ics.Fetcher satisfies it.
type Fetcher interface {
	FetchAll(ctx context.Context, sources []ics.Source) ([]ics.FetchResult, []error)
}

// Config holds what a Syncer needs besides its collaborators.
type Config struct {
	NotesDir string
	SkipDirs []string
	Sources  []ics.Source
	DryRun   bool
}

// Summary describes one run.
type Summary struct {
	RunID           string        `json:"run_id"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
	Feeds           int           `json:"feeds"`
	FeedErrors      int           `json:"feed_errors"`
	Notes           int           `json:"notes"`
	Updated         int           `json:"updated"`
	Unchanged       int           `json:"unchanged"`
	Failed          int           `json:"failed"`
	SectionsRemoved int           `json:"sections_removed"`
	Occurrences     int           `json:"occurrences"`
}

// Result is the outcome for a single note.
type Result struct {
	Path            string
	Changed         bool
	SectionsRemoved int
	Occurrences     int
}

// Syncer owns one configured pipeline. Runs are serialized.
type Syncer struct {
	cfg      Config
	fetcher  Fetcher
	resolver *resolver.Resolver
	renderer *render.Renderer

	mu sync.Mutex
}

// New builds a Syncer.
func New(cfg Config, fetcher Fetcher, res *resolver.Resolver, rnd *render.Renderer) *Syncer {
	if cfg.SkipDirs == nil {
		cfg.SkipDirs = note.DefaultSkipDirs
	}
	return &Syncer{
		cfg:      cfg,
		fetcher:  fetcher,
		resolver: res,
		renderer: rnd,
	}
}

// Feeds fetches and parses every configured source once. Sources that fail
// are skipped; their errors are joined into the returned error, which is
// informational when feeds is non-empty.
func (s *Syncer) Feeds(ctx context.Context) ([]model.Feed, error) {
	results, fetchErrs := s.fetcher.FetchAll(ctx, s.cfg.Sources)

	sources := make([]model.CalendarSource, 0, len(results))
	for _, res := range results {
		sources = append(sources, res.CalendarSource())
	}
	feeds, parseErrs := resolver.ParseSources(sources, s.resolver.Zone())

	return feeds, errors.Join(append(fetchErrs, parseErrs...)...)
}

// Occurrences resolves the occurrences of date from already parsed feeds.
func (s *Syncer) Occurrences(feeds []model.Feed, date time.Time) []model.Occurrence {
	return s.resolver.Resolve(feeds, date)
}

// Zone returns the reference zone used for local days.
func (s *Syncer) Zone() *time.Location {
	return s.resolver.Zone()
}

// Block renders the calendar block of date from already parsed feeds.
func (s *Syncer) Block(feeds []model.Feed, date time.Time) string {
	return s.renderer.Render(s.Occurrences(feeds, date))
}

// UpdateNote rewrites the calendar section of one note. The file is only
// written when its content changes.
func (s *Syncer) UpdateNote(feeds []model.Feed, n note.Note) (Result, error) {
	res := Result{Path: n.Path}

	doc, err := note.ReadDocument(n.Path)
	if err != nil {
		return res, err
	}

	occs := s.Occurrences(feeds, n.Date)
	patched, removed := note.Patch(doc, s.renderer.Render(occs))
	res.SectionsRemoved = removed
	res.Occurrences = len(occs)

	if patched == doc {
		return res, nil
	}
	res.Changed = true
	if s.cfg.DryRun {
		return res, nil
	}
	if err := note.WriteDocument(n.Path, patched); err != nil {
		return res, err
	}
	return res, nil
}

// Run performs one sync over every note under the notes directory. A failing
// note is logged and counted; it does not stop the run. Only a notes
// directory that cannot be walked, or a cancelled context, is returned as an
// error.
func (s *Syncer) Run(ctx context.Context) (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	sum := Summary{RunID: uuid.NewString(), StartedAt: start}
	defer metrics.ObserveSync(start)

	appLog.Info("sync run started", "run_id", sum.RunID, "notes_dir", s.cfg.NotesDir, "sources", len(s.cfg.Sources))

	notes, err := note.Discover(s.cfg.NotesDir, s.cfg.SkipDirs)
	if err != nil {
		appLog.Error("note discovery failed", err, "run_id", sum.RunID)
		return sum, err
	}
	sum.Notes = len(notes)
	if len(notes) == 0 {
		appLog.Warn("no dated notes found", "run_id", sum.RunID, "notes_dir", s.cfg.NotesDir)
		sum.Duration = time.Since(start)
		return sum, nil
	}

	feeds, feedErr := s.Feeds(ctx)
	sum.Feeds = len(feeds)
	sum.FeedErrors = len(s.cfg.Sources) - len(feeds)
	if feedErr != nil && len(feeds) == 0 && len(s.cfg.Sources) > 0 {
		appLog.Error("no calendar feed could be loaded", feedErr, "run_id", sum.RunID)
	}

	for _, n := range notes {
		if err := ctx.Err(); err != nil {
			sum.Duration = time.Since(start)
			return sum, fmt.Errorf("sync run %s cancelled: %w", sum.RunID, err)
		}

		res, err := s.UpdateNote(feeds, n)
		sum.SectionsRemoved += res.SectionsRemoved
		metrics.SectionsRemoved.Add(float64(res.SectionsRemoved))
		if err != nil {
			sum.Failed++
			metrics.NotesProcessed.WithLabelValues("error").Inc()
			appLog.Error("note skipped", err, "run_id", sum.RunID, "path", n.Path)
			continue
		}

		sum.Occurrences += res.Occurrences
		metrics.OccurrencesResolved.Add(float64(res.Occurrences))
		if res.SectionsRemoved > 0 {
			appLog.Debug("removed calendar sections", "path", n.Path, "count", res.SectionsRemoved)
		}
		if res.Changed {
			sum.Updated++
			metrics.NotesProcessed.WithLabelValues("updated").Inc()
			appLog.Info("note updated", "path", n.Path, "date", n.Date.Format("2006-01-02"), "events", res.Occurrences)
		} else {
			sum.Unchanged++
			metrics.NotesProcessed.WithLabelValues("unchanged").Inc()
		}
	}

	sum.Duration = time.Since(start)
	appLog.Info("sync run finished",
		"run_id", sum.RunID,
		"notes", sum.Notes,
		"updated", sum.Updated,
		"unchanged", sum.Unchanged,
		"failed", sum.Failed,
		"sections_removed", sum.SectionsRemoved,
		"occurrences", sum.Occurrences,
		"duration", sum.Duration.String(),
	)
	return sum, nil
}
