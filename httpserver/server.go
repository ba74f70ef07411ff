package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ruteri/secret-compute-enclave/metrics"
	"go.uber.org/atomic"
)

type ServerConfig struct {
	ListenAddr  string
	MetricsAddr string
	EnablePprof bool
	Log         *slog.Logger

	DrainDuration            time.Duration
	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
}

// Handlers groups the endpoint sets served by the node. Admin and Host are
// optional and their routes are only mounted when set.
type Handlers struct {
	Public *Handler
	Admin  *AdminHandler
	Host   *HostHandler
}

// listener is served in the background and stopped on Shutdown.
type listener interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

type namedListener struct {
	name string
	addr string
	listener
}

// Server serves the node APIs and, when configured, the metrics endpoint.
type Server struct {
	cfg      *ServerConfig
	log      *slog.Logger
	handlers Handlers

	draining  atomic.Bool
	api       *http.Server
	listeners []namedListener
}

func New(cfg *ServerConfig, metricsSrv *metrics.MetricsServer, handlers Handlers) (*Server, error) {
	if handlers.Public == nil {
		return nil, errors.New("public handler is required")
	}

	srv := &Server{cfg: cfg, log: cfg.Log, handlers: handlers}
	srv.api = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	srv.listeners = []namedListener{{name: "api", addr: cfg.ListenAddr, listener: srv.api}}
	if cfg.MetricsAddr != "" && metricsSrv != nil {
		srv.listeners = append(srv.listeners, namedListener{name: "metrics", addr: cfg.MetricsAddr, listener: metricsSrv})
	}
	return srv, nil
}

func (srv *Server) routes() http.Handler {
	mux := chi.NewRouter()
	mux.Use(srv.httpLogger)

	mux.Route("/api/public", func(r chi.Router) {
		r.Get("/registration", srv.handlers.Public.HandleRegistration)
		r.Get("/io_exchange_pubkey", srv.handlers.Public.HandleIOExchangePubkey)
	})

	if host := srv.handlers.Host; host != nil {
		mux.Route("/api/host", func(r chi.Router) {
			r.Post("/init", host.HandleInit)
			r.Post("/handle", host.HandleHandle)
			r.Post("/query", host.HandleQuery)
			r.Post("/migrate", host.HandleMigrate)
			r.Post("/admin_change", host.HandleAdminChange)
		})
	}

	if admin := srv.handlers.Admin; admin != nil {
		mux.Mount("/admin", admin.AdminRouter())
	}

	mux.Get("/livez", srv.handleLivez)
	mux.Get("/readyz", srv.handleReadyz)
	mux.Get("/drain", srv.handleDrain)
	mux.Get("/undrain", srv.handleUndrain)

	if srv.cfg.EnablePprof {
		srv.log.Info("pprof API enabled")
		mux.Mount("/debug", middleware.Profiler())
	}
	return mux
}

func (srv *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(srv.log, next)
}

type healthStatus struct {
	Status string `json:"status"`
}

func writeHealth(w http.ResponseWriter, code int, status string) {
	writeJSON(w, code, healthStatus{Status: status})
}

func (srv *Server) handleLivez(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, "alive")
}

// handleReadyz reports ready when the node is not drained and holds its
// consensus seeds.
func (srv *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	switch {
	case srv.draining.Load():
		writeHealth(w, http.StatusServiceUnavailable, "draining")
	case !srv.handlers.Public.keys.IsInitialized():
		writeHealth(w, http.StatusServiceUnavailable, "not initialized")
	default:
		writeHealth(w, http.StatusOK, "ready")
	}
}

func (srv *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if srv.draining.Swap(true) {
		writeHealth(w, http.StatusOK, "already draining")
		return
	}
	srv.log.Info("Draining, readiness withdrawn", "drainDuration", srv.cfg.DrainDuration)
	time.AfterFunc(srv.cfg.DrainDuration, func() {
		srv.log.Info("Drain period elapsed")
	})
	writeHealth(w, http.StatusOK, "draining")
}

func (srv *Server) handleUndrain(w http.ResponseWriter, r *http.Request) {
	if !srv.draining.Swap(false) {
		writeHealth(w, http.StatusOK, "already ready")
		return
	}
	srv.log.Info("Drain cancelled, ready again")
	writeHealth(w, http.StatusOK, "ready")
}

// Router returns the API handler, mainly for tests.
func (srv *Server) Router() http.Handler {
	return srv.api.Handler
}

func (srv *Server) RunInBackground() {
	for _, l := range srv.listeners {
		go func() {
			srv.log.Info("Starting listener", "name", l.name, "addr", l.addr)
			if err := l.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				srv.log.Error("Listener failed", "name", l.name, "err", err)
			}
		}()
	}
}

// Shutdown stops the listeners in turn, each within the graceful shutdown
// period.
func (srv *Server) Shutdown() {
	for _, l := range srv.listeners {
		ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
		if err := l.Shutdown(ctx); err != nil {
			srv.log.Error("Graceful shutdown failed", "name", l.name, "err", err)
		} else {
			srv.log.Info("Listener stopped", "name", l.name)
		}
		cancel()
	}
}
