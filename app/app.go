package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/searchktools/fast-static/config"
	"github.com/searchktools/fast-static/core"
	"github.com/searchktools/fast-static/core/http"
	"github.com/searchktools/fast-static/core/logging"
	"github.com/searchktools/fast-static/core/pools"
	"github.com/searchktools/fast-static/core/userdb"
)

// App wires the logger, the credential store and the engine together
type App struct {
	cfg       *config.Config
	log       zerolog.Logger
	logCloser io.Closer
	users     *userdb.Pool
	engine    *core.Engine

	closeOnce sync.Once
	closeErr  error
}

// New creates an application instance from cfg
func New(cfg *config.Config) (*App, error) {
	logger, logCloser, err := logging.New(logging.Options{
		Enabled:   cfg.LogEnabled,
		Level:     cfg.LogLevel,
		Dir:       cfg.LogDir,
		QueueSize: cfg.LogQueueSize,
	})
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	table, err := userdb.OpenTable(cfg.DBPath)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("user table: %w", err)
	}
	users := userdb.NewPool(table, cfg.DBPoolSize, logger)

	site := http.NewSite(cfg.Root)
	site.Verifier = users
	site.LegacyFormDecoding = cfg.LegacyFormDecoding

	engine := core.NewEngine(core.Options{
		Port:      cfg.Port,
		TrigMode:  cfg.TrigMode,
		Timeout:   time.Duration(cfg.TimeoutMS) * time.Millisecond,
		OptLinger: cfg.OptLinger,
		MaxConns:  cfg.MaxConns,
		Threads:   cfg.Threads,
		Site:      site,
		Logger:    logger,
	})

	return &App{
		cfg:       cfg,
		log:       logger,
		logCloser: logCloser,
		users:     users,
		engine:    engine,
	}, nil
}

// Engine returns the underlying engine
func (a *App) Engine() *core.Engine {
	return a.engine
}

// Run starts the server and blocks until SIGINT or SIGTERM, then shuts
// down and logs the final statistics.
func (a *App) Run() error {
	prev := pools.ApplyGCConfig(pools.GCConfig{GOGC: a.cfg.GOGC})
	a.log.Debug().Int("gogc", a.cfg.GOGC).Int("previous", prev).Msg("gc tuned")

	if err := a.engine.Start(); err != nil {
		a.log.Error().Err(err).Msg("server init failed")
		a.Close()
		return err
	}
	a.log.Info().Str("env", a.cfg.Env).Int("db_pool", a.users.Size()).Msg("fast-static starting")

	stop := make(chan struct{})
	defer close(stop)
	go a.awaitSignal(stop)

	err := a.engine.Serve()
	if errors.Is(err, core.ErrServerClosed) {
		err = nil
	}

	stats := a.engine.Stats()
	a.log.Info().
		Uint64("accepted", stats.Accepted).
		Uint64("rejected", stats.Rejected).
		Uint64("evicted", stats.Evicted).
		Uint64("responses", stats.Responses.Total).
		Uint64("tasks", stats.Workers.TasksCompleted).
		Msg("final statistics")

	a.Close()
	return err
}

// Shutdown stops the engine; Run returns afterwards
func (a *App) Shutdown() error {
	return a.engine.Shutdown()
}

// Close releases the credential store and flushes the logger
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.users.Close()
		a.closeErr = a.logCloser.Close()
	})
	return a.closeErr
}

func (a *App) awaitSignal(stop <-chan struct{}) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		a.log.Info().Str("signal", sig.String()).Msg("shutting down")
		a.engine.Shutdown()
	case <-stop:
	}
}
