package middleware

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/application/guard"
	"github.com/saasdash/backend/internal/domain/billing"
	"github.com/saasdash/backend/internal/domain/entitlement"
	"github.com/saasdash/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// Feature middleware keys and headers
const (
	// FeatureResultKey holds the *guard.CheckResult of the last feature check
	FeatureResultKey     = "feature_result"
	IdempotencyKeyHeader = "Idempotency-Key"
	UsageHeader          = "X-Usage"
	UsageLimitHeader     = "X-Usage-Limit"
)

// FeatureChecker decides feature access
type FeatureChecker interface {
	Check(ctx context.Context, req guard.CheckRequest) (*guard.CheckResult, error)
}

// FeatureMiddlewareConfig holds configuration for feature middleware
type FeatureMiddlewareConfig struct {
	// Checker is required
	Checker FeatureChecker
	Logger  *zap.Logger
	// OnDenied is called when feature access is denied (optional)
	OnDenied func(c *gin.Context, featureSlug string, result *guard.CheckResult)
}

// denialErrors maps guard denial reasons to the errors rendered for them
var denialErrors = map[string]*shared.DomainError{
	shared.CodeUsageExceeded:        entitlement.ErrUsageExceeded,
	shared.CodeExpired:              entitlement.ErrExpired,
	shared.CodeFeatureNotInPlan:     entitlement.ErrFeatureNotInPlan,
	shared.CodeNoActiveSubscription: entitlement.ErrNoActiveSubscription,
	shared.CodeWorkspaceDisabled:    entitlement.ErrWorkspaceDisabled,
	shared.CodeProjectDisabled:      entitlement.ErrProjectDisabled,
	shared.CodeCustomerDisabled:     entitlement.ErrCustomerDisabled,
}

// DenialError returns the error rendered for a guard denial reason
func DenialError(reason string) *shared.DomainError {
	if err, ok := denialErrors[reason]; ok {
		return err
	}
	return shared.NewDomainError(reason, "Feature access denied")
}

// RequireFeature checks that the request's customer may use featureSlug and,
// when delta is positive, records that much usage. The customer is the one
// loaded by CustomerAccess, else the one the API key is bound to. The
// Idempotency-Key header is forwarded to the usage limiter.
// Panics if featureSlug is invalid.
func RequireFeature(cfg FeatureMiddlewareConfig, featureSlug string, delta int64) gin.HandlerFunc {
	if err := billing.ValidateFeatureSlug(featureSlug); err != nil {
		panic(fmt.Sprintf("invalid feature slug: %s", featureSlug))
	}
	if delta < 0 {
		panic(fmt.Sprintf("negative usage delta for %s", featureSlug))
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		customerID, ok := requestCustomer(c)
		if !ok {
			AbortWithError(c, shared.ErrInvalidInput.WithMessage("request does not name a customer"))
			return
		}

		req := guard.CheckRequest{
			CustomerID:     customerID,
			FeatureSlug:    featureSlug,
			IdempotencyKey: c.GetHeader(IdempotencyKeyHeader),
		}
		if delta > 0 {
			req.UsageDelta = &delta
		}

		result, err := cfg.Checker.Check(c.Request.Context(), req)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.Set(FeatureResultKey, result)
		setUsageHeaders(c, result)

		if !result.Success {
			log.Info("Feature access denied",
				zap.String("customer_id", customerID.String()),
				zap.String("feature_slug", featureSlug),
				zap.String("reason", result.DeniedReason),
			)
			if cfg.OnDenied != nil {
				cfg.OnDenied(c, featureSlug, result)
			}
			if !c.IsAborted() {
				AbortWithError(c, DenialError(result.DeniedReason))
			}
			return
		}

		c.Next()
	}
}

// GetFeatureResult returns the result stored by RequireFeature
func GetFeatureResult(c *gin.Context) (*guard.CheckResult, bool) {
	v, ok := c.Get(FeatureResultKey)
	if !ok {
		return nil, false
	}
	r, ok := v.(*guard.CheckResult)
	return r, ok && r != nil
}

func requestCustomer(c *gin.Context) (uuid.UUID, bool) {
	if customer, ok := GetCustomer(c); ok {
		return customer.ID, true
	}
	if principal, ok := GetPrincipal(c); ok && principal.CustomerID != nil {
		return *principal.CustomerID, true
	}
	return uuid.Nil, false
}

func setUsageHeaders(c *gin.Context, result *guard.CheckResult) {
	c.Header(UsageHeader, strconv.FormatInt(result.Usage, 10))
	if result.Limit != nil {
		c.Header(UsageLimitHeader, strconv.FormatInt(*result.Limit, 10))
	}
}
