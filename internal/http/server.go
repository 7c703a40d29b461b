// Package http is the JSON boundary of the forecaster: inference, health
// and metrics.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/singleflight"

	"spendcast/internal/cache"
	"spendcast/internal/log"
	"spendcast/internal/middleware/ratelimit"
	"spendcast/internal/middleware/trace"
	"spendcast/internal/pipeline"
)

// Predictor serves inference from a stored checkpoint.
type Predictor interface {
	Predict(ctx context.Context, userID string, horizon int) (pipeline.Prediction, error)
}

// ArtifactReader reports whether a user has a trained model.
type ArtifactReader interface {
	LoadArtifact(ctx context.Context, userID string) (pipeline.Artifact, error)
}

// Pinger checks the checkpoint store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options tunes the server. Zero values take the defaults of DefaultOptions.
type Options struct {
	Addr           string
	CacheSize      int
	CacheTTL       time.Duration
	RequestsPerMin int
	MaxHorizon     int
	// PredictTimeout bounds one shared inference call. It does not follow
	// the context of whichever request started the call.
	PredictTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		Addr:           ":8082",
		CacheSize:      256,
		CacheTTL:       10 * time.Minute,
		RequestsPerMin: 60,
		MaxHorizon:     365,
		PredictTimeout: 45 * time.Second,
	}
}

type Server struct {
	http.Server
	predictor Predictor
	artifacts ArtifactReader
	pinger    Pinger
	logger    *log.Logger

	predictions *cache.LRUCache[PredictResponse]
	inflight    singleflight.Group
	limiter     *ratelimit.Limiter
	tracer      *trace.Middleware
	maxHorizon  int
	timeout     time.Duration

	stop         context.CancelFunc
	shutdownOnce sync.Once
}

// NewServer wires routes and middleware. pinger may be nil.
func NewServer(opts Options, predictor Predictor, artifacts ArtifactReader, pinger Pinger, logger *log.Logger) *Server {
	def := DefaultOptions()
	if opts.Addr == "" {
		opts.Addr = def.Addr
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = def.CacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = def.CacheTTL
	}
	if opts.MaxHorizon <= 0 {
		opts.MaxHorizon = def.MaxHorizon
	}
	if opts.PredictTimeout <= 0 {
		opts.PredictTimeout = def.PredictTimeout
	}
	if logger == nil {
		logger = log.Discard()
	}
	rl := ratelimit.DefaultConfig()
	if opts.RequestsPerMin > 0 {
		rl.RequestsPerMinute = opts.RequestsPerMin
	}

	s := &Server{
		predictor:   predictor,
		artifacts:   artifacts,
		pinger:      pinger,
		logger:      logger.WithComponent(log.ComponentHTTP),
		predictions: cache.NewLRUCache[PredictResponse](opts.CacheSize, opts.CacheTTL),
		limiter:     ratelimit.NewLimiter(rl),
		tracer:      trace.NewMiddleware(),
		maxHorizon:  opts.MaxHorizon,
		timeout:     opts.PredictTimeout,
		stop:        func() {},
	}

	mux := http.NewServeMux()
	limited := s.limiter.Middleware(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded, try again later")
	})
	mux.Handle("POST /api/predict", limited(http.HandlerFunc(s.handlePredict)))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	var h http.Handler = mux
	h = log.AccessLog(h)
	h = log.RequestIDMiddleware(trace.FromRequest)(h)
	h = log.Middleware(s.logger)(h)
	h = s.tracer.Handler(h)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start launches the cache and rate limiter sweepers. ListenAndServe is
// still up to the caller.
func (s *Server) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.stop = cancel

	sweeper := cache.NewSweeper(s.logger)
	sweeper.Register(s.predictions)
	go sweeper.Run(ctx, time.Minute)
	go s.limiter.Run(ctx, 5*time.Minute)
}

// Invalidate drops every cached prediction of userID.
func (s *Server) Invalidate(userID string) int {
	return s.predictions.DeletePrefix(userID + "\x00")
}

// Shutdown stops the sweepers and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}
