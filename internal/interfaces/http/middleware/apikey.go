package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/entitlement"
	"github.com/saasdash/backend/internal/domain/shared"
	"github.com/saasdash/backend/internal/infrastructure/auth"
	"github.com/saasdash/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// Authorization header parts
const (
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
)

// KeyVerifier validates an API key and returns its principal
type KeyVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Principal, error)
}

// CustomerFinder loads customers for access checks
type CustomerFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*entitlement.Customer, error)
}

// APIKeyConfig holds configuration for API key authentication
type APIKeyConfig struct {
	Verifier KeyVerifier
	// SkipPaths are paths that don't require authentication
	SkipPaths []string
	Logger    *zap.Logger
}

// APIKeyAuth authenticates requests with a bearer API key and stores the
// principal in the gin context
func APIKeyAuth(cfg APIKeyConfig) gin.HandlerFunc {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		for _, p := range cfg.SkipPaths {
			if c.Request.URL.Path == p {
				c.Next()
				return
			}
		}

		header := c.GetHeader(AuthHeaderKey)
		if header == "" {
			AbortWithError(c, shared.ErrUnauthorized.WithMessage("missing authorization header"))
			return
		}
		token, ok := strings.CutPrefix(header, BearerPrefix)
		if !ok || token == "" {
			AbortWithError(c, shared.ErrUnauthorized.WithMessage("invalid authorization header format"))
			return
		}

		principal, err := cfg.Verifier.Verify(c.Request.Context(), token)
		if err != nil {
			if !isUnauthorized(err) {
				log.Error("API key verification failed", zap.String("request_id", GetRequestID(c)), zap.Error(err))
			}
			AbortWithError(c, err)
			return
		}

		c.Set(PrincipalKey, principal)
		customerID := ""
		if principal.CustomerID != nil {
			customerID = principal.CustomerID.String()
		}
		ctx, l := logger.WithPrincipal(c.Request.Context(), logger.GetGinLogger(c), principal.ProjectID.String(), customerID)
		c.Request = c.Request.WithContext(ctx)
		logger.SetGinLogger(c, l)

		c.Next()
	}
}

// GetPrincipal returns the authenticated principal, if any
func GetPrincipal(c *gin.Context) (*auth.Principal, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*auth.Principal)
	return p, ok && p != nil
}

// RequireScope rejects principals that were not granted scope
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := GetPrincipal(c)
		if !ok {
			AbortWithError(c, shared.ErrUnauthorized.WithMessage("missing api key"))
			return
		}
		if !principal.HasScope(scope) {
			AbortWithError(c, shared.ErrForbidden.WithMessage("api key lacks scope "+scope))
			return
		}
		c.Next()
	}
}

// CustomerAccess loads the customer named by the path parameter param and
// checks that the principal may act on it. Customers of other projects are
// reported as not found.
func CustomerAccess(customers CustomerFinder, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := GetPrincipal(c)
		if !ok {
			AbortWithError(c, shared.ErrUnauthorized.WithMessage("missing api key"))
			return
		}
		customerID, err := uuid.Parse(c.Param(param))
		if err != nil {
			AbortWithError(c, shared.ErrInvalidInput.WithMessage("invalid customer ID"))
			return
		}
		if !principal.CanAccessCustomer(customerID) {
			AbortWithError(c, shared.ErrForbidden.WithMessage("api key is bound to another customer"))
			return
		}

		customer, err := customers.FindByID(c.Request.Context(), customerID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if customer.ProjectID != principal.ProjectID {
			AbortWithError(c, shared.ErrNotFound.WithMessage("customer not found"))
			return
		}

		c.Set(CustomerKey, customer)
		c.Next()
	}
}

// GetCustomer returns the customer loaded by CustomerAccess
func GetCustomer(c *gin.Context) (*entitlement.Customer, bool) {
	v, ok := c.Get(CustomerKey)
	if !ok {
		return nil, false
	}
	customer, ok := v.(*entitlement.Customer)
	return customer, ok && customer != nil
}
