package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/subscription"
	"github.com/saasdash/backend/internal/interfaces/http/middleware"
)

// SubscriptionService runs the subscription lifecycle
type SubscriptionService interface {
	Get(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error)
	Create(ctx context.Context, customerID uuid.UUID) (*subscription.Subscription, error)
	CreatePhase(ctx context.Context, id uuid.UUID, in subscription.PhaseInput) (*subscription.Phase, error)
	RemovePhase(ctx context.Context, id, phaseID uuid.UUID) error
	EndTrial(ctx context.Context, id uuid.UUID, planVersionID *uuid.UUID) (*subscription.Phase, error)
	Cancel(ctx context.Context, id uuid.UUID, endAt *time.Time) (*subscription.Subscription, error)
	ChangePlan(ctx context.Context, id, planVersionID uuid.UUID, at *time.Time) (*subscription.Phase, error)
	MarkPastDue(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error)
	RecoverPayment(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error)
}

// SubscriptionHandler serves the subscription lifecycle
type SubscriptionHandler struct {
	BaseHandler
	subs      SubscriptionService
	customers middleware.CustomerFinder
	now       func() time.Time
}

// NewSubscriptionHandler creates a new subscription handler
func NewSubscriptionHandler(subs SubscriptionService, customers middleware.CustomerFinder) *SubscriptionHandler {
	return &SubscriptionHandler{subs: subs, customers: customers, now: time.Now}
}

// CreateSubscriptionRequest opens a subscription for a customer
type CreateSubscriptionRequest struct {
	CustomerID string `json:"customer_id" binding:"required,uuid"`
}

// CreatePhaseRequest appends a phase
type CreatePhaseRequest struct {
	PlanVersionID string     `json:"plan_version_id" binding:"required,uuid"`
	StartAt       time.Time  `json:"start_at" binding:"required"`
	EndAt         *time.Time `json:"end_at" binding:"omitempty,gtfield=StartAt"`
	Trial         bool       `json:"trial"`
}

// EndTrialRequest optionally moves the subscription to another plan version
type EndTrialRequest struct {
	PlanVersionID *string `json:"plan_version_id" binding:"omitempty,uuid"`
}

// CancelRequest schedules the cancellation at EndAt, or cancels now
type CancelRequest struct {
	EndAt *time.Time `json:"end_at"`
}

// ChangePlanRequest moves the subscription to another plan version
type ChangePlanRequest struct {
	PlanVersionID string     `json:"plan_version_id" binding:"required,uuid"`
	At            *time.Time `json:"at"`
}

// PhaseResponse is a subscription phase
type PhaseResponse struct {
	ID            uuid.UUID  `json:"id"`
	PlanVersionID uuid.UUID  `json:"plan_version_id"`
	StartAt       time.Time  `json:"start_at"`
	EndAt         *time.Time `json:"end_at"`
	Trial         bool       `json:"trial"`
}

// SubscriptionResponse is a subscription with its phases
type SubscriptionResponse struct {
	ID              uuid.UUID       `json:"id"`
	CustomerID      uuid.UUID       `json:"customer_id"`
	ProjectID       uuid.UUID       `json:"project_id"`
	Status          string          `json:"status"`
	EffectiveStatus string          `json:"effective_status"`
	CancelAt        *time.Time      `json:"cancel_at,omitempty"`
	CanceledAt      *time.Time      `json:"canceled_at,omitempty"`
	Version         int             `json:"version"`
	Phases          []PhaseResponse `json:"phases"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func toPhaseResponse(p *subscription.Phase) PhaseResponse {
	return PhaseResponse{
		ID:            p.ID,
		PlanVersionID: p.PlanVersionID,
		StartAt:       p.StartAt,
		EndAt:         p.EndAt,
		Trial:         p.Trial,
	}
}

func (h *SubscriptionHandler) toResponse(s *subscription.Subscription) SubscriptionResponse {
	phases := make([]PhaseResponse, 0, len(s.Phases))
	for _, p := range s.Phases {
		phases = append(phases, toPhaseResponse(p))
	}
	return SubscriptionResponse{
		ID:              s.ID,
		CustomerID:      s.CustomerID,
		ProjectID:       s.ProjectID,
		Status:          s.Status.String(),
		EffectiveStatus: s.EffectiveStatus(h.now()).String(),
		CancelAt:        s.CancelAt,
		CanceledAt:      s.CanceledAt,
		Version:         s.Version,
		Phases:          phases,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

// load reads the subscription in the path and checks the principal may act on it
func (h *SubscriptionHandler) load(c *gin.Context) (*subscription.Subscription, bool) {
	principal, ok := h.principal(c)
	if !ok {
		return nil, false
	}
	id, ok := h.ParseUUIDParam(c, "id")
	if !ok {
		return nil, false
	}
	sub, err := h.subs.Get(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return nil, false
	}
	if !h.authorizeCustomer(c, principal, sub.ProjectID, sub.CustomerID, "subscription") {
		return nil, false
	}
	return sub, true
}

// Create opens an idle subscription and makes it the customer's active one
func (h *SubscriptionHandler) Create(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}
	var req CreateSubscriptionRequest
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

	sub, err := h.subs.Create(c.Request.Context(), customerID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, h.toResponse(sub))
}

// Get returns a subscription with its phases
func (h *SubscriptionHandler) Get(c *gin.Context) {
	sub, ok := h.load(c)
	if !ok {
		return
	}
	h.Success(c, h.toResponse(sub))
}

// CreatePhase appends a phase
func (h *SubscriptionHandler) CreatePhase(c *gin.Context) {
	sub, ok := h.load(c)
	if !ok {
		return
	}
	var req CreatePhaseRequest
	if !h.BindJSON(c, &req) {
		return
	}
	in := subscription.PhaseInput{
		PlanVersionID: uuid.MustParse(req.PlanVersionID),
		StartAt:       req.StartAt.UTC(),
		EndAt:         utcPtr(req.EndAt),
		Trial:         req.Trial,
	}

	phase, err := h.subs.CreatePhase(c.Request.Context(), sub.ID, in)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, toPhaseResponse(phase))
}

// RemovePhase deletes a phase that has not started
func (h *SubscriptionHandler) RemovePhase(c *gin.Context) {
	sub, ok := h.load(c)
	if !ok {
		return
	}
	phaseID, ok := h.ParseUUIDParam(c, "phaseId")
	if !ok {
		return
	}
	if err := h.subs.RemovePhase(c.Request.Context(), sub.ID, phaseID); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// EndTrial converts a trialing subscription to active now
func (h *SubscriptionHandler) EndTrial(c *gin.Context) {
	sub, ok := h.load(c)
	if !ok {
		return
	}
	var req EndTrialRequest
	if c.Request.ContentLength != 0 && !h.BindJSON(c, &req) {
		return
	}
	var planVersionID *uuid.UUID
	if req.PlanVersionID != nil {
		id := uuid.MustParse(*req.PlanVersionID)
		planVersionID = &id
	}

	phase, err := h.subs.EndTrial(c.Request.Context(), sub.ID, planVersionID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toPhaseResponse(phase))
}

// Cancel terminates the subscription now or schedules it
func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	sub, ok := h.load(c)
	if !ok {
		return
	}
	var req CancelRequest
	if c.Request.ContentLength != 0 && !h.BindJSON(c, &req) {
		return
	}

	canceled, err := h.subs.Cancel(c.Request.Context(), sub.ID, utcPtr(req.EndAt))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, h.toResponse(canceled))
}

// ChangePlan moves the subscription to another plan version
func (h *SubscriptionHandler) ChangePlan(c *gin.Context) {
	sub, ok := h.load(c)
	if !ok {
		return
	}
	var req ChangePlanRequest
	if !h.BindJSON(c, &req) {
		return
	}

	phase, err := h.subs.ChangePlan(c.Request.Context(), sub.ID, uuid.MustParse(req.PlanVersionID), utcPtr(req.At))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toPhaseResponse(phase))
}

// MarkPastDue records a failed payment
func (h *SubscriptionHandler) MarkPastDue(c *gin.Context) {
	h.transition(c, h.subs.MarkPastDue)
}

// RecoverPayment returns a past-due subscription to active
func (h *SubscriptionHandler) RecoverPayment(c *gin.Context) {
	h.transition(c, h.subs.RecoverPayment)
}

func (h *SubscriptionHandler) transition(c *gin.Context, fn func(context.Context, uuid.UUID) (*subscription.Subscription, error)) {
	sub, ok := h.load(c)
	if !ok {
		return
	}
	updated, err := fn(c.Request.Context(), sub.ID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, h.toResponse(updated))
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
