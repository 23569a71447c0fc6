package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/saasdash/backend/internal/infrastructure/auth"
	"github.com/saasdash/backend/internal/infrastructure/logger"
	"github.com/saasdash/backend/internal/interfaces/http/dto"
	"github.com/saasdash/backend/internal/interfaces/http/handler"
	"github.com/saasdash/backend/internal/interfaces/http/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// DefaultMaxBodyBytes bounds request bodies
const DefaultMaxBodyBytes = 1 << 20

// Handlers are the handlers mounted by New
type Handlers struct {
	Entitlements  *handler.EntitlementHandler
	Grants        *handler.GrantHandler
	Usage         *handler.UsageHandler
	Subscriptions *handler.SubscriptionHandler
	Health        *handler.HealthHandler
}

// Config wires the HTTP surface
type Config struct {
	Handlers  Handlers
	Verifier  middleware.KeyVerifier
	Customers middleware.CustomerFinder
	Logger    *zap.Logger

	// RateLimiter is optional; nil disables rate limiting
	RateLimiter *middleware.RateLimiter
	// Meter is optional; nil disables HTTP metrics
	Meter metric.Meter

	ServiceName    string
	TracingEnabled bool
	CORS           middleware.CORSConfig
	MaxBodyBytes   int64
	TrustedProxies []string
}

// New builds the gin engine with the global middleware chain, GET /health
// and the authenticated /api/v1 routes
func New(cfg Config) (*gin.Engine, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if err := middleware.SetupValidator(); err != nil {
		return nil, err
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}
	engine.HandleMethodNotAllowed = true

	engine.Use(
		middleware.RequestID(),
		logger.Recovery(log),
		middleware.Tracing(middleware.TracingConfig{ServiceName: cfg.ServiceName, Enabled: cfg.TracingEnabled}),
		logger.GinMiddleware(log, logger.WithQuietRoutes("/health")),
		middleware.SpanErrorMarker(),
		middleware.Secure(0),
		middleware.CORS(cfg.CORS),
		middleware.BodyLimit(cfg.MaxBodyBytes),
	)
	if cfg.Meter != nil {
		mw, err := middleware.HTTPMetrics(cfg.Meter)
		if err != nil {
			return nil, err
		}
		engine.Use(mw)
	}

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, dto.NewErrorResponse(dto.ErrCodeRouteNotFound, "route not found"))
	})
	engine.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, dto.NewErrorResponse(dto.ErrCodeRouteNotFound, "method not allowed"))
	})

	if cfg.Handlers.Health != nil {
		engine.GET("/health", cfg.Handlers.Health.Health)
	}

	apiMiddleware := []gin.HandlerFunc{
		middleware.APIKeyAuth(middleware.APIKeyConfig{Verifier: cfg.Verifier, Logger: log}),
		middleware.TracingAttributeInjector(),
	}
	if cfg.RateLimiter != nil {
		apiMiddleware = append(apiMiddleware, middleware.RateLimit(cfg.RateLimiter))
	}

	r := NewRouter(engine, WithMiddleware(apiMiddleware...))
	for _, g := range groups(cfg) {
		r.Register(g)
	}
	r.Setup()
	return engine, nil
}

// groups declares every API route with the scope its key needs. Customer
// routes resolve :id against the key's project after the scope check.
func groups(cfg Config) []*DomainGroup {
	h := cfg.Handlers
	check := ScopeCheck(middleware.RequireScope)
	var out []*DomainGroup

	if h.Entitlements != nil {
		out = append(out, NewDomainGroup("entitlements", "/entitlements", check).
			POST("/check", auth.ScopeEntitlementsCheck, h.Entitlements.Check))
	}

	customers := NewDomainGroup("customers", "/customers/:id", check).
		Use(middleware.CustomerAccess(cfg.Customers, "id"))
	if h.Entitlements != nil {
		customers.GET("/entitlements", auth.ScopeEntitlementsRead, h.Entitlements.List)
	}
	if h.Usage != nil {
		customers.GET("/usage", auth.ScopeUsageRead, h.Usage.Summary)
	}
	if h.Grants != nil {
		customers.
			GET("/grants", auth.ScopeEntitlementsRead, h.Grants.List).
			PUT("/overrides/:slug", auth.ScopeGrantsWrite, h.Grants.SetOverride).
			POST("/addons", auth.ScopeGrantsWrite, h.Grants.AddAddon).
			DELETE("/grants/:grantId", auth.ScopeGrantsWrite, h.Grants.Remove)
	}
	out = append(out, customers)

	if s := h.Subscriptions; s != nil {
		read, write := auth.ScopeSubscriptionsRead, auth.ScopeSubscriptionsWrite
		out = append(out, NewDomainGroup("subscriptions", "/subscriptions", check).
			POST("", write, s.Create).
			GET("/:id", read, s.Get).
			POST("/:id/phases", write, s.CreatePhase).
			DELETE("/:id/phases/:phaseId", write, s.RemovePhase).
			POST("/:id/end-trial", write, s.EndTrial).
			POST("/:id/cancel", write, s.Cancel).
			POST("/:id/change-plan", write, s.ChangePlan).
			POST("/:id/past-due", write, s.MarkPastDue).
			POST("/:id/recover", write, s.RecoverPayment))
	}
	return out
}
