// Package handler contains the HTTP handlers of the metering API.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/shared"
	"github.com/saasdash/backend/internal/infrastructure/auth"
	"github.com/saasdash/backend/internal/interfaces/http/dto"
	"github.com/saasdash/backend/internal/interfaces/http/middleware"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// Success sends a 200 response
func (h *BaseHandler) Success(c *gin.Context, val any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(val))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, val any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(val))
}

// NoContent sends a 204 no content response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// HandleError renders err in the response envelope with the status of its code
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	middleware.AbortWithError(c, err)
}

// BindJSON binds the request body and renders validation errors.
// It returns false when the response was already written.
func (h *BaseHandler) BindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		middleware.BindError(c, err)
		return false
	}
	return true
}

// ParseUUIDParam parses the path parameter name as a UUID
func (h *BaseHandler) ParseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		h.HandleError(c, shared.ErrInvalidInput.WithMessage("invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}

// principal returns the authenticated principal, or renders UNAUTHORIZED
func (h *BaseHandler) principal(c *gin.Context) (*auth.Principal, bool) {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		h.HandleError(c, shared.ErrUnauthorized.WithMessage("missing api key"))
		return nil, false
	}
	return p, true
}

// authorizeCustomer checks that p may act on the customer of projectID.
// Resources of other projects are reported as not found.
func (h *BaseHandler) authorizeCustomer(c *gin.Context, p *auth.Principal, projectID, customerID uuid.UUID, what string) bool {
	if projectID != p.ProjectID {
		h.HandleError(c, shared.ErrNotFound.WithMessage(what+" not found"))
		return false
	}
	if !p.CanAccessCustomer(customerID) {
		h.HandleError(c, shared.ErrForbidden.WithMessage("api key is bound to another customer"))
		return false
	}
	return true
}

// customerID returns the customer loaded by middleware.CustomerAccess
func (h *BaseHandler) customerID(c *gin.Context) (uuid.UUID, bool) {
	customer, ok := middleware.GetCustomer(c)
	if !ok {
		h.HandleError(c, shared.ErrInvalidInput.WithMessage("customer not resolved"))
		return uuid.Nil, false
	}
	return customer.ID, true
}
