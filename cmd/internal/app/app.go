// Package app wires the nearby server runtime: config, logging, the ephemeral store,
// HTTP routes and the realtime gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"nearby/cmd/internal/api"
	"nearby/cmd/internal/metrics"
	"nearby/cmd/internal/realtime"
	"nearby/cmd/internal/room"
	"nearby/cmd/internal/session"

	"golang.org/x/sync/errgroup"
)

// Postgres does not expire rows on its own, so its sweeper is always on.
const defaultPostgresSweep = 5 * time.Minute

// App is the nearby server runtime: it owns the store, the HTTP server and the background sweeper.
type App struct {
	cfg Config
	log Logger

	store storeBundle
	mx    *metrics.Metrics

	rooms *room.Registry
	ws    *realtime.WSGateway
	rest  *api.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	st, err := newStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	if st.pg != nil && cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultPostgresSweep
		log.Info("store.sweep.default", "interval", cfg.SweepInterval)
	}

	mx := metrics.New()

	sessions := session.NewManager(log, st.store,
		session.WithTTL(cfg.TTL),
		session.WithMetrics(mx),
	)
	rooms := room.NewRegistry(log, st.store,
		room.WithTTL(cfg.TTL),
		room.WithNameMax(cfg.RoomNameMax),
		room.WithMetrics(mx),
	)

	history := realtime.NewHistory(log, st.store, cfg.HistoryLimit, cfg.TTL)
	mgr := realtime.NewManager(log, rooms, realtime.NewHub(log), history,
		realtime.WithSendInterval(cfg.SendInterval),
		realtime.WithMessageMaxChars(cfg.MessageMaxChars),
		realtime.WithManagerMetrics(mx),
	)
	ws := realtime.NewWSGateway(log, mgr, realtime.WSConfigFromEnv())

	apiCfg := api.LoadConfigFromEnv()
	apiCfg.RadiusKm = cfg.RadiusKm
	rest := api.NewHandler(log, apiCfg, sessions, rooms)

	return &App{
		cfg:   cfg,
		log:   log,
		store: st,
		mx:    mx,
		rooms: rooms,
		ws:    ws,
		rest:  rest,
	}, nil
}

// Handler returns the fully wrapped root handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.store.store, a.mx, a.ws, a.rest)

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	return WithRequestLogging(h, a.log)
}

// Run starts the HTTP server and the index sweeper, and blocks until context cancellation
// or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"http", base,
		"ws", wsBaseURL(base)+"/ws",
		"store", a.store.kind,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		return a.rooms.RunSweeper(gctx, a.cfg.SweepInterval, a.store.purgeExpired(a.log))
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()

	if cerr := a.store.Close(); cerr != nil {
		a.log.Error("store.close.fail", "err", cerr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
