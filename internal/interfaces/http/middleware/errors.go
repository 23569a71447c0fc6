package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/saasdash/backend/internal/domain/shared"
	"github.com/saasdash/backend/internal/infrastructure/logger"
	"github.com/saasdash/backend/internal/interfaces/http/dto"
	"go.uber.org/zap"
)

// AbortWithError renders err in the response envelope with the status of its
// code and stops the chain. Errors without a domain code are logged.
func AbortWithError(c *gin.Context, err error) {
	de := shared.AsDomainError(err)
	if de.Code == shared.CodeUnhandled {
		logger.GetGinLogger(c).Error("Unhandled error", zap.Error(err))
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(dto.GetHTTPStatus(de.Code), dto.NewDomainErrorResponse(de))
}

// abortWithCode renders a transport error that has no domain counterpart
func abortWithCode(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(dto.GetHTTPStatus(code), dto.NewErrorResponse(code, message))
}

func isUnauthorized(err error) bool {
	return errors.Is(err, shared.ErrUnauthorized)
}
