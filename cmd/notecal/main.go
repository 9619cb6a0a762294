package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"notecal/internal/config"
	"notecal/internal/ics"
	appLog "notecal/internal/log"
	"notecal/internal/model"
	"notecal/internal/note"
	"notecal/internal/notesync"
	"notecal/internal/render"
	"notecal/internal/resolver"
	"notecal/internal/web"
)

const version = "0.1.0"

// flagConfig holds persistent CLI flag values.
type flagConfig struct {
	configPath string
	envFile    string
	notesDir   string
}

var flags flagConfig

var rootCmd = &cobra.Command{
	Use:           "notecal",
	Short:         "Sync calendar feeds into dated markdown notes",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Update every dated note once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		app, err := setup(dryRun)
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		sum, err := app.syncer.Run(ctx)
		if err != nil {
			return err
		}
		if sum.Failed > 0 {
			return fmt.Errorf("%d of %d notes could not be updated", sum.Failed, sum.Notes)
		}
		return nil
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Print the calendar block for one day",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := setup(true)
		if err != nil {
			return err
		}
		raw, _ := cmd.Flags().GetString("date")
		date := time.Now().In(app.loc)
		if raw != "" {
			d, ok := note.DateFromFilename(raw)
			if !ok {
				return fmt.Errorf("invalid --date %q, want MM-DD-YYYY", raw)
			}
			date = d
		}

		ctx, cancel := signalContext()
		defer cancel()
		feeds, err := app.syncer.Feeds(ctx)
		if err != nil {
			appLog.Warn("some calendar feeds unavailable", "error", err.Error(), "loaded", len(feeds))
		}
		fmt.Fprintln(cmd.OutOrStdout(), note.Header)
		fmt.Fprint(cmd.OutOrStdout(), app.syncer.Block(feeds, date))
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scheduled syncs and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := setup(false)
		if err != nil {
			return err
		}
		runNow, _ := cmd.Flags().GetBool("run-now")
		ctx, cancel := signalContext()
		defer cancel()

		runSync := func() {
			if _, err := app.syncer.Run(ctx); err != nil {
				appLog.Error("scheduled sync failed", err)
			}
		}

		sched := cron.New(cron.WithLocation(app.loc))
		if _, err := sched.AddFunc(app.cfg.RefreshCron, runSync); err != nil {
			return fmt.Errorf("invalid refresh schedule %q: %w", app.cfg.RefreshCron, err)
		}
		sched.Start()
		defer func() {
			<-sched.Stop().Done()
		}()
		appLog.Info("scheduler started", "refresh", app.cfg.RefreshCron, "timezone", app.loc.String())

		if runNow {
			go runSync()
		}

		return web.NewServer(app.cfg, app.syncer).ListenAndServe(ctx)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "config.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "Path to a dotenv file with feed URLs")
	rootCmd.PersistentFlags().StringVar(&flags.notesDir, "notes-dir", "", "Notes directory (overrides config if set)")

	runCmd.Flags().Bool("dry-run", false, "Report changes without writing notes")
	previewCmd.Flags().String("date", "", "Day to preview as MM-DD-YYYY (default today)")
	serveCmd.Flags().Bool("run-now", true, "Run one sync right after startup")

	rootCmd.AddCommand(runCmd, previewCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		appLog.Error("notecal failed", err)
		os.Exit(1)
	}
}

type app struct {
	cfg    *config.Config
	loc    *time.Location
	syncer *notesync.Syncer
}

func setup(dryRun bool) (*app, error) {
	if err := config.LoadEnv(flags.envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", flags.configPath, err)
	}
	if flags.notesDir != "" {
		cfg.NotesDir = flags.notesDir
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	sources := make([]ics.Source, 0, len(cfg.Calendars))
	for _, cal := range cfg.Calendars {
		u := cal.ResolvedURL()
		if u == "" {
			appLog.Warn("calendar has no URL; skipped", "id", cal.ID, "url_env", cal.URLEnv)
			continue
		}
		sources = append(sources, ics.Source{ID: cal.ID, URL: u, Category: model.Category(cal.Category)})
	}

	appLog.Info("effective config",
		"version", version,
		"timezone", loc.String(),
		"notes_dir", cfg.NotesDir,
		"skip_dirs", cfg.SkipDirs,
		"calendars", len(sources),
		"refresh", cfg.RefreshCron,
		"dry_run", dryRun,
	)

	res := resolver.New(loc)
	res.LookBehindDays = cfg.LookBehindDays
	res.LookAheadDays = cfg.LookAheadDays

	syncer := notesync.New(notesync.Config{
		NotesDir: cfg.NotesDir,
		SkipDirs: cfg.SkipDirs,
		Sources:  sources,
		DryRun:   dryRun,
	}, ics.NewFetcher(cfg.CacheDir), res, newRenderer(cfg, loc))

	return &app{cfg: cfg, loc: loc, syncer: syncer}, nil
}

func newRenderer(cfg *config.Config, loc *time.Location) *render.Renderer {
	labels := make(map[model.Category]string, len(cfg.Labels))
	for cat, label := range cfg.Labels {
		labels[model.Category(cat)] = label
	}
	keywords := make([]render.Keyword, 0, len(cfg.Keywords))
	for _, k := range cfg.Keywords {
		keywords = append(keywords, render.Keyword{Keyword: k.Keyword, Emoji: k.Emoji})
	}
	return render.New(loc, render.WithLabels(labels), render.WithKeywords(keywords))
}

// signalContext is cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
