// Package api exposes evaluation, decision lookup and rule management over
// HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/Aidin1998/padcheck/internal/auth"
	"github.com/Aidin1998/padcheck/internal/compliance"
	"github.com/Aidin1998/padcheck/internal/rules"
)

// Evaluator is satisfied by compliance.Service.
type Evaluator interface {
	Evaluate(ctx context.Context, req compliance.Request) (*compliance.Result, error)
}

// RulesAdmin is satisfied by rules.Provider.
type RulesAdmin interface {
	Snapshot(ctx context.Context) *rules.Snapshot
	Update(ctx context.Context, next *rules.Snapshot, author string) (*rules.Snapshot, error)
	Invalidate()
}

// DecisionStore is satisfied by audit.GormSink.
type DecisionStore interface {
	Get(ctx context.Context, id string) (*compliance.Decision, error)
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Deps are the services behind the routes. Rules and Decisions may be
// nil, which disables their routes.
type Deps struct {
	Evaluator Evaluator
	Rules     RulesAdmin
	Decisions DecisionStore
	// Verifier guards rule management; nil disables those routes.
	Verifier *auth.Verifier
	Checks   map[string]HealthCheck
}

type Options struct {
	ServiceName   string
	CORSOrigins   []string
	RatePerSecond float64
	RateBurst     int
}

// Server represents the API server
type Server struct {
	router    *gin.Engine
	http      *http.Server
	logger    *zap.Logger
	deps      Deps
	sanitizer *bluemonday.Policy
	limiter   *ipLimiter
}

// NewServer builds the router with logging, recovery, tracing and CORS.
func NewServer(logger *zap.Logger, deps Deps, opts Options) *Server {
	if opts.ServiceName == "" {
		opts.ServiceName = "padcheck"
	}
	s := &Server{
		logger:    logger.Named("api"),
		deps:      deps,
		sanitizer: bluemonday.StrictPolicy(),
		limiter:   newIPLimiter(opts.RatePerSecond, opts.RateBurst),
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(otelgin.Middleware(opts.ServiceName))

	corsConfig := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if len(opts.CORSOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = opts.CORSOrigins
		corsConfig.AllowCredentials = true
	}
	router.Use(cors.New(corsConfig))

	s.router = router
	s.registerRoutes()
	return s
}

// Router returns the internal Gin engine for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.health)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/evaluations", s.rateLimit(), s.evaluate)
		if s.deps.Decisions != nil {
			v1.GET("/decisions/:id", s.getDecision)
		}
		if s.deps.Rules != nil && s.deps.Verifier != nil {
			admin := v1.Group("/rules", s.requireRole(auth.RoleRulesAdmin))
			{
				admin.GET("", s.getRules)
				admin.PUT("", s.putRules)
				admin.POST("/invalidate", s.invalidateRules)
			}
		}
	}
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string, readTimeout, writeTimeout time.Duration) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
	}
	s.logger.Info("Starting API server", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	s.logger.Info("Shutting down API server")
	return s.http.Shutdown(ctx)
}
