// Package api exposes the notification queue and the capture harness over
// HTTP for operators and preview tooling.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-notify/pkg/capture"
	"github.com/zoff-tech/go-notify/pkg/job"
	"github.com/zoff-tech/go-notify/pkg/queue"
)

// Queue is the part of queue.Queue the server needs.
type Queue interface {
	Enqueue(ctx context.Context, typ job.Type, msg job.Message, opts ...queue.EnqueueOption) (string, error)
	GetStatus(ctx context.Context, id string) (*job.Job, job.Status, bool)
	Cancel(ctx context.Context, id string) bool
	Stats(ctx context.Context) queue.Stats
	List(ctx context.Context, f queue.Filter) ([]queue.Entry, error)
}

type Server struct {
	queue    Queue
	captures *capture.Harness
	logger   *zap.Logger
	validate *validator.Validate
	http     *http.Server
}

// NewServer builds the admin server. captures may be nil when capture mode
// is off; the capture routes then answer 404.
func NewServer(addr string, q Queue, captures *capture.Harness, logger *zap.Logger) *Server {
	s := &Server{
		queue:    q,
		captures: captures,
		logger:   logger,
		validate: validator.New(),
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.healthHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", s.statsHandler)

		r.Route("/notifications", func(r chi.Router) {
			r.Post("/", s.enqueueHandler)
			r.Get("/", s.listHandler)
			r.Get("/{id}", s.getHandler)
			r.Delete("/{id}", s.cancelHandler)
		})

		r.Route("/captures", func(r chi.Router) {
			r.Use(s.requireCapture)
			r.Get("/", s.listCapturesHandler)
			r.Delete("/", s.clearCapturesHandler)
			r.Get("/stats", s.captureStatsHandler)
			r.Get("/{id}", s.getCaptureHandler)
		})
	})

	return otelhttp.NewHandler(r, "notify-api")
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("admin API listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) requireCapture(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.captures == nil {
			writeJSONResponse(s.logger, w, http.StatusNotFound, failure("capture mode is disabled"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(s.logger, w, http.StatusOK, success(nil))
}
