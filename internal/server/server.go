// Package server exposes the answer pipeline over HTTP: one question
// endpoint in front of retrieval and composition, a health endpoint
// backed by the storage gateway, and graceful shutdown around both.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/map-community/CHATBOT-AI-sub000/internal/compose"
	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
	qaerrors "github.com/map-community/CHATBOT-AI-sub000/internal/errors"
	"github.com/map-community/CHATBOT-AI-sub000/internal/retrieval"
	"github.com/map-community/CHATBOT-AI-sub000/internal/store"
	"github.com/map-community/CHATBOT-AI-sub000/internal/telemetry"
)

// Searcher runs the retrieval pipeline for one question.
type Searcher interface {
	Search(ctx context.Context, query string) (*retrieval.Result, error)
}

// Answerer turns a retrieval result into the answer payload.
type Answerer interface {
	Compose(ctx context.Context, res *retrieval.Result) (*compose.Response, error)
}

// Pinger reports backend reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

var (
	_ Searcher = (*retrieval.Orchestrator)(nil)
	_ Answerer = (*compose.Composer)(nil)
	_ Pinger   = (*store.Gateway)(nil)
)

// Server is the answer HTTP front-end.
type Server struct {
	cfg      *config.Config
	searcher Searcher
	answerer Answerer
	pinger   Pinger
	metrics  *telemetry.QueryMetrics
	logger   *slog.Logger

	timeout time.Duration
	engine  *gin.Engine
}

// Option configures optional server behavior.
type Option func(*Server)

// WithPinger enables backend pings on the health endpoint.
func WithPinger(p Pinger) Option {
	return func(s *Server) { s.pinger = p }
}

// WithMetrics enables per-query telemetry recording.
func WithMetrics(m *telemetry.QueryMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New wires the HTTP front-end around the retrieval and composition
// stages. The routes are registered here; Run binds the listener.
func New(cfg *config.Config, searcher Searcher, answerer Answerer, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		searcher: searcher,
		answerer: answerer,
		logger:   slog.Default(),
		timeout:  cfg.RequestTimeout(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = s.buildEngine()
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) buildEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(RequestID())
	engine.Use(RequestLogger(s.logger))
	engine.Use(Recovery(s.logger))
	engine.Use(cors.New(corsConfig(s.cfg.Server.AllowedOrigins)))

	engine.GET("/health", s.handleHealth)
	engine.POST("/ai/ai-response", s.handleAnswer)
	return engine
}

// corsConfig builds the CORS policy from the configured origins. A "*"
// entry, or no entry at all, admits every origin.
func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", requestIDHeader}

	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
			break
		}
	}
	if allowAll {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives, then
// drains in-flight requests within the configured shutdown budget.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("answer server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-errCh:
		return qaerrors.New(qaerrors.ErrCodeInternal, "answer server failed", err)
	case sig := <-stop:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("shutdown requested", slog.String("reason", ctx.Err().Error()))
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		return qaerrors.New(qaerrors.ErrCodeInternal, "graceful shutdown incomplete", err)
	}

	s.logger.Info("answer server stopped")
	return nil
}
