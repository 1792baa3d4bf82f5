/*
Copyright (C) 2026 Signcast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/signcast/signcast/internal/action"
	"github.com/signcast/signcast/internal/api"
	"github.com/signcast/signcast/internal/audit"
	"github.com/signcast/signcast/internal/config"
	"github.com/signcast/signcast/internal/db"
	"github.com/signcast/signcast/internal/engine"
	"github.com/signcast/signcast/internal/eventbus"
	"github.com/signcast/signcast/internal/events"
	"github.com/signcast/signcast/internal/leadership"
	"github.com/signcast/signcast/internal/media"
	"github.com/signcast/signcast/internal/schedule"
	"github.com/signcast/signcast/internal/telemetry"
	"github.com/signcast/signcast/internal/version"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	metricsSrv *http.Server
	closers    []func() error

	db          *gorm.DB
	bus         *events.Bus
	manager     *engine.Manager
	mediaSvc    *media.Service
	actions     *action.Service
	schedules   *schedule.Service
	runner      *schedule.Runner
	leaderAware *schedule.LeaderAwareRunner
	natsBridge  *eventbus.Bridge
	auditSvc    *audit.Service
	api         *api.API
	tracer      *telemetry.TracerProvider

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(telemetry.TracingMiddleware("signcast-api"))
	router.Use(telemetry.MetricsMiddleware)
	// WebSocket connections outlive any reasonable request deadline.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       0,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func (s *Server) initDependencies() error {
	tracer, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		Enabled:        s.cfg.TracingEnabled,
		ServiceName:    "signcast",
		ServiceVersion: version.Version,
		OTLPEndpoint:   s.cfg.OTLPEndpoint,
		SampleRate:     s.cfg.TracingSampleRate,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	s.tracer = tracer
	s.DeferClose(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tracer.Shutdown(ctx)
	})

	gormDB, err := db.Connect(s.cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	s.db = gormDB
	s.DeferClose(func() error { return db.Close(gormDB) })

	if err := db.Migrate(gormDB); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	s.manager = engine.NewManager(s.bus, s.logger)
	s.DeferClose(func() error {
		s.manager.Dispose()
		return nil
	})

	mediaSvc, err := media.NewService(gormDB, s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("init media service: %w", err)
	}
	s.mediaSvc = mediaSvc

	s.actions = action.NewService(gormDB, s.manager, mediaSvc, s.bus, s.logger)
	s.schedules = schedule.NewService(gormDB, s.bus, s.logger)
	s.runner = schedule.NewRunner(gormDB, s.actions, s.bus, s.cfg.ScheduleTick, s.logger)

	if s.cfg.LeaderElectionEnabled {
		election, err := leadership.NewElection(leadership.ElectionConfig{
			RedisAddr:     s.cfg.RedisAddr,
			RedisPassword: s.cfg.RedisPassword,
			RedisDB:       s.cfg.RedisDB,
			InstanceID:    s.cfg.InstanceID,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("init leader election: %w", err)
		}
		s.leaderAware = schedule.NewLeaderAware(s.runner, election, s.logger)
	}

	if s.cfg.NATSEnabled {
		bridge, err := eventbus.NewBridge(s.cfg.NATSURL, s.cfg.InstanceID, s.bus, s.logger)
		if err != nil {
			return fmt.Errorf("init nats bridge: %w", err)
		}
		s.natsBridge = bridge
		s.DeferClose(bridge.Close)
	}

	s.auditSvc = audit.NewService(gormDB, s.bus, s.logger)
	s.api = api.New(gormDB, []byte(s.cfg.JWTSigningKey), s.actions, s.schedules, mediaSvc, s.manager, s.auditSvc, s.bus, s.logger)

	return nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		response := `{"status":"ok"`
		if s.leaderAware != nil {
			response += fmt.Sprintf(`,"leader":%t`, s.leaderAware.IsLeader())
		}
		response += `}`
		_, _ = w.Write([]byte(response))
	})

	// Filesystem-stored assets are served directly; S3 assets resolve to
	// their bucket URL and never hit this route.
	if s.cfg.S3Bucket == "" {
		fileServer := http.StripPrefix("/media/", http.FileServer(http.Dir(s.cfg.MediaRoot)))
		s.router.Handle("/media/*", fileServer)
	}

	s.api.Routes(s.router)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.leaderAware != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.leaderAware.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("leader-aware runner exited")
			}
		}()
	} else {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("schedule runner exited")
			}
		}()
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.auditSvc.Start(ctx)
	}()

	if s.natsBridge != nil {
		streamed := append([]events.EventType{}, events.EngineEventTypes...)
		streamed = append(streamed,
			events.EventExecutionSuperseded,
			events.EventScheduleTriggered,
			events.EventScheduleReleased,
		)
		s.natsBridge.Start(streamed...)
	}

	if s.cfg.MetricsBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		s.metricsSrv = &http.Server{
			Addr:              s.cfg.MetricsBind,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			s.logger.Info().Str("addr", s.cfg.MetricsBind).Msg("metrics server listening")
			if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error().Err(err).Msg("metrics server exited")
			}
		}()
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.leaderAware != nil {
		if err := s.leaderAware.Stop(); err != nil {
			s.logger.Error().Err(err).Msg("leader-aware runner stop failed")
		}
	}
	if s.bgCancel != nil {
		s.bgCancel()
		s.bgWG.Wait()
		s.bgCancel = nil
	}
}

// HTTPServer exposes the configured http.Server for the command layer.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := s.manager.StopAll(stopCtx); err != nil {
		s.logger.Error().Err(err).Msg("engine stop-all failed")
	}
	cancel()

	s.stopBackgroundWorkers()

	if s.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.metricsSrv.Shutdown(ctx); err != nil {
			s.logger.Error().Err(err).Msg("metrics server shutdown failed")
		}
		cancel()
	}

	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}
