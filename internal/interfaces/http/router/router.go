package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/meschain/syncengine/internal/infrastructure/auth"
	"github.com/meschain/syncengine/internal/infrastructure/logger"
	"github.com/meschain/syncengine/internal/interfaces/http/handler"
	"github.com/meschain/syncengine/internal/interfaces/http/middleware"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
	apiUse     []gin.HandlerFunc
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// WithAPIMiddleware adds middleware to the versioned API group only
func WithAPIMiddleware(mw ...gin.HandlerFunc) RouterOption {
	return func(r *Router) {
		r.apiUse = append(r.apiUse, mw...)
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a RouteRegistrar to be registered later
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup registers all routes with the engine
func (r *Router) Setup() {
	api := r.engine.Group("/api/"+r.apiVersion, r.apiUse...)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}

// Config is what the HTTP surface is built from
type Config struct {
	Sync           handler.SyncService
	Ingestor       handler.Ingestor
	Store          handler.Pinger
	Metrics        http.Handler
	JWT            *auth.JWTService
	CORS           middleware.CORSConfig
	MaxBodySize    int64
	WebhookMaxBody int64
	TrustedProxies []string
	Version        string
	// TraceService names request spans. Empty leaves requests untraced.
	TraceService string
	Logger       *zap.Logger
}

// New builds the gin engine: webhooks, health and metrics at the root, the operator
// API under /api/v1 behind JWT auth.
func New(cfg Config) (*gin.Engine, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}
	engine.Use(middleware.RequestID())
	if cfg.TraceService != "" {
		engine.Use(middleware.Tracing(cfg.TraceService), middleware.SpanAttributes())
	}
	engine.Use(
		logger.GinMiddleware(log),
		logger.Recovery(log),
		middleware.CORS(cfg.CORS),
	)

	health := handler.NewHealthHandler(cfg.Store, cfg.Version)
	engine.GET("/health", health.Health)
	if cfg.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	webhooks := handler.NewWebhookHandler(cfg.Ingestor, cfg.WebhookMaxBody, log)
	webhooks.RegisterRoutes(&engine.RouterGroup)

	var apiMiddleware []gin.HandlerFunc
	if cfg.MaxBodySize > 0 {
		apiMiddleware = append(apiMiddleware, middleware.BodyLimit(cfg.MaxBodySize))
	}
	apiMiddleware = append(apiMiddleware, middleware.JWTAuth(cfg.JWT, log))

	NewRouter(engine, WithAPIMiddleware(apiMiddleware...)).
		Register(handler.NewSyncHandler(cfg.Sync, log)).
		Setup()

	if cfg.JWT == nil {
		log.Warn("Operator API authentication disabled, set auth.jwt_secret to enable it")
	}
	return engine, nil
}
