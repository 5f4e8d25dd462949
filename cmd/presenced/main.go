package main

import (
	ulog "log"
	"log/slog"
	"os"
	"os/signal"
	goruntime "runtime"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	_ "github.com/lib/pq"
	slogmulti "github.com/samber/slog-multi"
	slogsentry "github.com/samber/slog-sentry/v2"
	"github.com/thebandlist/presenced"
	"github.com/thebandlist/presenced/core/discord"
	"github.com/thebandlist/presenced/runtime"
)

var (
	// https://goreleaser.com/cookbooks/using-main.version
	version = "dev"
	date    = "unknown"
)

func main() {
	config := runtime.LoadConfig()
	config.Version = version

	// configure our logger
	logHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: config.LogLevel})
	slog.SetDefault(slog.New(logHandler))

	// if we have a DSN entry, try to initialize it
	if config.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{Dsn: config.SentryDSN, EnableTracing: false})
		if err != nil {
			ulog.Fatalf("error initiating sentry client, error %s, dsn %s", err, config.SentryDSN)
		}

		defer sentry.Flush(2 * time.Second)

		slog.SetDefault(slog.New(
			slogmulti.Fanout(
				logHandler,
				slogsentry.Option{Level: slog.LevelError}.NewSentryHandler(),
			),
		))
	}

	log := slog.With("comp", "main")
	log.Info("starting...", "version", version, "released", date)

	svc, err := newService(config, log)
	if err != nil {
		log.Error("unable to start", "error", err)
		os.Exit(1)
	}

	handleSignals(svc) // handle our signals
}

func newService(cfg *runtime.Config, log *slog.Logger) (*presenced.Service, error) {
	rt := &runtime.Runtime{Config: cfg}

	// account lookups need the database but presence tracking doesn't
	if cfg.DB != "" {
		db, err := runtime.OpenDBPool(cfg.DB, 8)
		if err != nil {
			log.Warn("error connecting to database, continuing without account lookups", "error", err)
		} else {
			rt.DB = db
			log.Info("db ok")
		}
	}

	svc := presenced.NewService(rt, discord.NewDialer())
	if err := svc.Start(); err != nil {
		return nil, err
	}

	return svc, nil
}

// handleSignals blocks until we're told to exit and then stops the service. SIGQUIT dumps goroutine stacks
// without exiting.
func handleSignals(svc *presenced.Service) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigs)

	for sig := range sigs {
		log := slog.With("comp", "main", "signal", sig.String())

		if sig == syscall.SIGQUIT {
			dumpStacks(log)
			continue
		}

		log.Info("received exit signal, stopping")
		svc.Stop()
		return
	}
}

func dumpStacks(log *slog.Logger) {
	buf := make([]byte, 1<<20)
	n := goruntime.Stack(buf, true)

	log.Info("received quit signal, dumping goroutine stacks")
	ulog.Printf("\n%s", buf[:n])
}
