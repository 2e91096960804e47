package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/rpkivp/rtrd/internal/admin"
	"github.com/rpkivp/rtrd/internal/cache"
	"github.com/rpkivp/rtrd/internal/config"
	"github.com/rpkivp/rtrd/internal/driver"
	"github.com/rpkivp/rtrd/internal/kafkasink"
	"github.com/rpkivp/rtrd/internal/rtr"
	"github.com/rpkivp/rtrd/internal/validation"
	"github.com/rpkivp/rtrd/internal/vrp"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	log := newLogger(cfg)

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := vrp.NewStore(2*cfg.ValidationInterval, 64)

	pipeline := &validation.Pipeline{
		Log:    log.With().Str("component", "validation").Logger(),
		TALDir: cfg.TALDir,
		Store:  store,
		Tree:   validation.NullTree{},
		Cache: func() (cache.Handle, error) {
			return cache.NewFSHandle(cfg.CachePath, filepath.Join(cfg.CachePath, "manifest.jsonl"))
		},
	}

	drv := &driver.Driver{
		Log:      log.With().Str("component", "driver").Logger(),
		Pipeline: pipeline,
		Interval: cfg.ValidationInterval,
	}

	rtrSrv := rtr.NewServer(log.With().Str("component", "rtr").Logger(), store, rtr.Config{
		Bind:         cfg.BindAddr,
		Backlog:      cfg.Backlog,
		ReusePort:    cfg.ReusePort,
		MaxQueryRate: cfg.RTRMaxQueryRate,
		QueryBurst:   4,
		ReadTimeout:  cfg.RTRReadTimeout,
		WriteTimeout: cfg.RTRWriteTimeout,
		Intervals: rtr.Intervals{
			Refresh: uint32(cfg.RTRRefresh.Seconds()),
			Retry:   uint32(cfg.RTRRetry.Seconds()),
			Expire:  uint32(cfg.RTRExpire.Seconds()),
		},
	}, drv.Ready)
	drv.Notifier = rtrSrv

	adminSrv := admin.NewServer(log.With().Str("component", "admin").Logger(), store, rtrSrv, drv, cfg.AdminAddr)

	var sink *kafkasink.Sink
	if len(cfg.KafkaBrokers) > 0 {
		sink, err = kafkasink.New(ctx, log.With().Str("component", "kafkasink").Logger(), cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Error().Err(err).Msg("kafka sink init failed")
			return 1
		}
		defer sink.Close()
	}

	drv.OnInstall = func(serial uint32, vrpCount, keyCount int) {
		adminSrv.Broadcast(serial, vrpCount)
		if sink != nil {
			sink.Publish(ctx, kafkasink.Event{
				Serial:    serial,
				Installed: time.Now(),
				VRPCount:  vrpCount,
				KeyCount:  keyCount,
			})
		}
	}

	go drv.Run(sigCtx)
	go func() {
		if err := rtrSrv.Run(sigCtx); err != nil {
			log.Error().Err(err).Msg("RTR server stopped")
			cancel(err)
		}
	}()
	go serveAdmin(sigCtx, log, adminSrv)

	<-sigCtx.Done()
	log.Info().Msg("shutdown signal received, draining")
	store.Shutdown()

	// give in-flight RTR responses and the admin server a moment to
	// finish before the process exits (§5 "Cancellation and timeouts").
	time.Sleep(250 * time.Millisecond)

	if cause := context.Cause(ctx); cause != nil && cause != context.Canceled {
		return 1
	}
	return 0
}

// serveAdmin runs the admin HTTP surface until ctx is canceled, then
// gives it a bounded window to finish in-flight requests.
func serveAdmin(ctx context.Context, log zerolog.Logger, a *admin.Server) {
	httpSrv := &http.Server{Addr: a.Addr, Handler: a.Router()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", a.Addr).Msg("admin server listening")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("admin server stopped")
	}
}

func newLogger(cfg config.Config) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if cfg.LogFormat == "json" {
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}
