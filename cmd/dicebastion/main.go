package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"dicebastion/internal/config"
	appLog "dicebastion/internal/log"
	"dicebastion/internal/metrics"
	"dicebastion/internal/recurrence"
	"dicebastion/internal/source"
	"dicebastion/internal/store"
	"dicebastion/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values before the config file is loaded.
type flagConfig struct {
	configPath string
	envFile    string
	listen     string
	once       bool
	debug      bool
}

func main() {
	flags := parseFlags()
	defer appLog.Sync()

	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}
	appLog.Info("dicebastion starting", "version", version)

	// A missing .env is normal outside development.
	if err := godotenv.Load(flags.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		appLog.Error("failed to load env file", err, "path", flags.envFile)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv()
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if !flags.debug {
		appLog.SetLevel(appLog.Level(conf.LogLevel))
	}

	loc := conf.Location()
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"refresh", conf.RefreshCron,
		"upcoming_count", conf.UpcomingCount,
		"source_count", len(conf.Sources),
		"redis", conf.Redis != nil && conf.Redis.Addr != "",
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	m := metrics.New()
	loader := source.NewLoader(source.NewFetcher(conf.CacheDir, nil), loc, m)
	sources := source.FromConfig(conf.Sources)

	if flags.once {
		if err := runOnce(ctx, os.Stdout, loader, sources, conf.UpcomingCount, loc); err != nil {
			appLog.Error("single-shot run failed", err)
			os.Exit(1)
		}
		return
	}

	st, closeStore := openStore(conf)
	defer closeStore()

	refresh := func() {
		rctx, rcancel := context.WithTimeout(ctx, 2*time.Minute)
		defer rcancel()
		if err := refreshSnapshot(rctx, loader, sources, st); err != nil {
			appLog.Error("refresh failed; keeping previous snapshot", err)
		}
	}
	refresh()

	sched := cron.New(cron.WithLocation(loc))
	if _, err := sched.AddFunc(conf.RefreshCron, refresh); err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           web.NewServer(conf, st, m).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		appLog.Info("HTTP server listening", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("HTTP server error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP server shutdown", err)
	}
	appLog.Info("dicebastion exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/dicebastion/config.yaml", "Path to config file")
	flag.StringVar(&cfg.envFile, "env", ".env", "Path to an optional .env file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Load the sources, print upcoming dates and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}

// openStore picks Redis when configured, the in-process store otherwise.
func openStore(conf *config.Config) (store.Store, func()) {
	if conf.Redis == nil || conf.Redis.Addr == "" {
		return store.NewMemoryStore(), func() {}
	}
	rs := store.NewRedisStore(*conf.Redis)
	return rs, func() {
		if err := rs.Close(); err != nil {
			appLog.Error("redis close", err)
		}
	}
}

func refreshSnapshot(ctx context.Context, loader *source.Loader, sources []source.Source, st store.Store) error {
	events, err := loader.Load(ctx, sources)
	if err != nil {
		return err
	}
	if err := st.Save(ctx, store.Snapshot{Events: events, UpdatedAt: time.Now()}); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	appLog.Info("snapshot refreshed", "events", len(events))
	return nil
}

// runOnce prints the next count dates of every event.
func runOnce(ctx context.Context, w io.Writer, loader *source.Loader, sources []source.Source, count int, loc *time.Location) error {
	events, err := loader.Load(ctx, sources)
	if err != nil {
		return err
	}

	now := time.Now().In(loc)
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t(%s)\n", ev.Key(), ev.Title, ev.Template.Rule)
		for start, err := range recurrence.Upcoming(ev.Template, now, count) {
			if err != nil {
				fmt.Fprintf(w, "\tinvalid: %v\n", err)
				break
			}
			fmt.Fprintf(w, "\t%s\n", start.Format("Mon 02 Jan 2006 15:04 MST"))
		}
	}
	return nil
}
