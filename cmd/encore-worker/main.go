package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"encore/internal/api"
	"encore/internal/config"
	"encore/internal/db"
	"encore/internal/game"
	"encore/internal/giveaway"
	"encore/internal/jobs"
	"encore/internal/mission"
	"encore/internal/notify"
	"encore/internal/schedule"
	"encore/internal/season"

	"github.com/coreos/go-systemd/v22/daemon"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	catalog, err := config.LoadJobCatalog(cfg.JobsFile, jobs.DefaultCatalog())
	if err != nil {
		logger.Error("job catalog invalid", "err", err)
		os.Exit(1)
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL, "encore-worker")
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		logger.Error("notifier init failed", "err", err)
		os.Exit(1)
	}

	cursors := db.NewCursors(pool)
	if err := cursors.SeedCursors(ctx, catalog); err != nil {
		logger.Error("seed job cursors failed", "err", err)
		os.Exit(1)
	}

	lease := db.NewAdvisoryLease(pool, db.LeaseKey)
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			logger.Warn("lease release failed", "err", err)
		}
	}()

	rnd := game.NewRandom(cfg.RandomSeed)
	clock := game.SystemClock{}
	sched := schedule.New(cursors, schedule.Options{
		Policy: schedule.Policy{
			ResetHour:     cfg.ResetHour,
			FrequentEvery: cfg.FrequentEvery,
			Grace:         schedule.GracePeriod,
		},
		Clock:      clock,
		Lease:      lease,
		JobTimeout: cfg.JobTimeout,
		Logger:     logger,
		AfterTick:  watchdog(logger),
	})
	jobs.Register(sched, jobs.Engines{
		Season: season.NewEngine(db.NewSeasons(pool), notifier, rnd, clock, season.Config{
			WeekStart:       jobs.WeekStart(catalog, jobs.SeasonRotation),
			StartHour:       cfg.ResetHour,
			EndHour:         cfg.EventEndHour,
			AnnounceChannel: cfg.AnnounceChannel,
		}, logger.With("component", "season")),
		Missions: mission.NewEngine(db.NewMissions(pool), rnd, clock, mission.Config{
			ResetHour: cfg.ResetHour,
			WeekStart: jobs.WeekStart(catalog, jobs.WeeklyMissions),
		}, logger.With("component", "missions")),
		Giveaways: giveaway.NewResolver(db.NewGiveaways(pool), notifier, rnd, clock, logger.With("component", "giveaways")),
	})

	if cfg.RunOnce {
		failed := 0
		for _, run := range sched.Tick(ctx) {
			if !run.OK() {
				failed++
			}
		}
		if failed > 0 {
			logger.Error("worker run-once finished with failures", "failed", failed)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	if cfg.AdminAddr != "" {
		srv := &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           api.New(sched, cfg.AdminTokenHash, logger.With("component", "admin")).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("admin server listening", "addr", cfg.AdminAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin server failed", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warn("systemd notify failed", "err", err)
	}
	if err := sched.RunForever(ctx, cfg.PollEvery); err != nil {
		logger.Error("scheduler stopped", "err", err)
		os.Exit(1)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}

func newNotifier(cfg config.WorkerConfig, logger *slog.Logger) (notify.Notifier, error) {
	if cfg.DiscordToken == "" {
		logger.Warn("DISCORD_BOT_TOKEN not set, notifications are logged only")
		return notify.NewLog(logger), nil
	}
	return notify.NewDiscord(cfg.DiscordToken, cfg.NotifyRate, logger)
}

// watchdog pings the systemd watchdog after each tick when the unit has
// WatchdogSec set. A hung job stops the pings and systemd restarts us.
func watchdog(logger *slog.Logger) func() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("systemd watchdog check failed", "err", err)
		return nil
	}
	if interval == 0 {
		return nil
	}
	logger.Info("systemd watchdog enabled", "interval", interval.String())
	return func() {
		if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
			logger.Warn("systemd watchdog ping failed", "err", err)
		}
	}
}
