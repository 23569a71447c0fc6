package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	appentitlement "github.com/saasdash/backend/internal/application/entitlement"
	"github.com/saasdash/backend/internal/domain/entitlement"
	"github.com/saasdash/backend/internal/domain/shared"
)

// GrantManager manages overrides and add-ons
type GrantManager interface {
	SetOverride(ctx context.Context, customerID uuid.UUID, in appentitlement.GrantInput) (*entitlement.CustomerGrant, error)
	AddAddon(ctx context.Context, customerID uuid.UUID, in appentitlement.GrantInput) (*entitlement.CustomerGrant, error)
	RemoveGrant(ctx context.Context, customerID, grantID uuid.UUID) error
	ListGrants(ctx context.Context, customerID uuid.UUID) ([]*entitlement.CustomerGrant, error)
}

// GrantHandler serves customer overrides and add-ons
type GrantHandler struct {
	BaseHandler
	grants GrantManager
}

// NewGrantHandler creates a new grant handler
func NewGrantHandler(grants GrantManager) *GrantHandler {
	return &GrantHandler{grants: grants}
}

// GrantLimit is the limit part of a grant request. Exactly one of Limit and
// Unlimited must be set.
type GrantLimit struct {
	Limit     *int64     `json:"limit" binding:"omitempty,gte=0"`
	Unlimited bool       `json:"unlimited"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (l GrantLimit) input(slug string) (appentitlement.GrantInput, error) {
	if (l.Limit == nil) == !l.Unlimited {
		return appentitlement.GrantInput{}, shared.ErrInvalidInput.WithMessage("set either limit or unlimited")
	}
	in := appentitlement.GrantInput{FeatureSlug: slug, Limit: l.Limit}
	if l.ExpiresAt != nil {
		at := l.ExpiresAt.UTC()
		in.ExpiresAt = &at
	}
	return in, nil
}

// SetOverrideRequest is the body of an override update
type SetOverrideRequest struct {
	GrantLimit
}

// AddAddonRequest is the body of a new add-on
type AddAddonRequest struct {
	FeatureSlug string `json:"feature_slug" binding:"required,feature_slug"`
	GrantLimit
}

// GrantResponse is an override or add-on
type GrantResponse struct {
	ID          uuid.UUID  `json:"id"`
	CustomerID  uuid.UUID  `json:"customer_id"`
	FeatureSlug string     `json:"feature_slug"`
	Kind        string     `json:"kind"`
	Limit       *int64     `json:"limit"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toGrantResponse(g *entitlement.CustomerGrant) GrantResponse {
	return GrantResponse{
		ID:          g.ID,
		CustomerID:  g.CustomerID,
		FeatureSlug: g.FeatureSlug,
		Kind:        string(g.Kind),
		Limit:       g.Limit,
		ExpiresAt:   g.ExpiresAt,
		CreatedAt:   g.CreatedAt,
		UpdatedAt:   g.UpdatedAt,
	}
}

// SetOverride creates or replaces the override of the feature in the path
func (h *GrantHandler) SetOverride(c *gin.Context) {
	customerID, ok := h.customerID(c)
	if !ok {
		return
	}
	var req SetOverrideRequest
	if !h.BindJSON(c, &req) {
		return
	}
	in, err := req.input(c.Param("slug"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	grant, err := h.grants.SetOverride(c.Request.Context(), customerID, in)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toGrantResponse(grant))
}

// AddAddon grants an extra entitlement
func (h *GrantHandler) AddAddon(c *gin.Context) {
	customerID, ok := h.customerID(c)
	if !ok {
		return
	}
	var req AddAddonRequest
	if !h.BindJSON(c, &req) {
		return
	}
	in, err := req.input(req.FeatureSlug)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	grant, err := h.grants.AddAddon(c.Request.Context(), customerID, in)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, toGrantResponse(grant))
}

// Remove deletes a grant of the customer
func (h *GrantHandler) Remove(c *gin.Context) {
	customerID, ok := h.customerID(c)
	if !ok {
		return
	}
	grantID, ok := h.ParseUUIDParam(c, "grantId")
	if !ok {
		return
	}
	if err := h.grants.RemoveGrant(c.Request.Context(), customerID, grantID); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// List returns every grant of the customer
func (h *GrantHandler) List(c *gin.Context) {
	customerID, ok := h.customerID(c)
	if !ok {
		return
	}
	grants, err := h.grants.ListGrants(c.Request.Context(), customerID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]GrantResponse, 0, len(grants))
	for _, g := range grants {
		out = append(out, toGrantResponse(g))
	}
	h.Success(c, out)
}
