package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/application/guard"
	"github.com/saasdash/backend/internal/domain/entitlement"
	"github.com/saasdash/backend/internal/interfaces/http/middleware"
)

// EntitlementLister resolves every entitlement of a customer
type EntitlementLister interface {
	ResolveAll(ctx context.Context, customerID uuid.UUID) ([]entitlement.CustomerEntitlement, error)
}

// EntitlementHandler serves feature checks and entitlement listings
type EntitlementHandler struct {
	BaseHandler
	guard     middleware.FeatureChecker
	resolver  EntitlementLister
	customers middleware.CustomerFinder
}

// NewEntitlementHandler creates a new entitlement handler
func NewEntitlementHandler(g middleware.FeatureChecker, resolver EntitlementLister, customers middleware.CustomerFinder) *EntitlementHandler {
	return &EntitlementHandler{guard: g, resolver: resolver, customers: customers}
}

// CheckRequest is the body of a feature check
type CheckRequest struct {
	CustomerID     string `json:"customer_id" binding:"required,uuid"`
	FeatureSlug    string `json:"feature_slug" binding:"required,feature_slug"`
	UsageDelta     *int64 `json:"usage_delta" binding:"omitempty,gte=0"`
	IdempotencyKey string `json:"idempotency_key" binding:"max=255"`
}

// EntitlementListResponse lists the entitlements of a customer
type EntitlementListResponse struct {
	CustomerID   uuid.UUID                         `json:"customer_id"`
	Entitlements []entitlement.CustomerEntitlement `json:"entitlements"`
}

// Check decides whether a customer may use a feature and optionally records
// usage. A denial is a 200 response whose value carries success=false.
func (h *EntitlementHandler) Check(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}
	var req CheckRequest
	if !h.BindJSON(c, &req) {
		return
	}
	customerID := uuid.MustParse(req.CustomerID)

	customer, err := h.customers.FindByID(c.Request.Context(), customerID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if !h.authorizeCustomer(c, principal, customer.ProjectID, customer.ID, "customer") {
		return
	}

	key := req.IdempotencyKey
	if key == "" {
		key = c.GetHeader(middleware.IdempotencyKeyHeader)
	}
	result, err := h.guard.Check(c.Request.Context(), guard.CheckRequest{
		CustomerID:     customerID,
		FeatureSlug:    req.FeatureSlug,
		UsageDelta:     req.UsageDelta,
		IdempotencyKey: key,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// List returns every entitlement of the customer in the path
func (h *EntitlementHandler) List(c *gin.Context) {
	customerID, ok := h.customerID(c)
	if !ok {
		return
	}
	ents, err := h.resolver.ResolveAll(c.Request.Context(), customerID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if ents == nil {
		ents = []entitlement.CustomerEntitlement{}
	}
	h.Success(c, EntitlementListResponse{CustomerID: customerID, Entitlements: ents})
}
