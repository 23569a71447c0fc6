// Package middleware provides the HTTP middleware of the metering API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/infrastructure/logger"
	"github.com/saasdash/backend/internal/interfaces/http/dto"
)

// Gin context keys
const (
	RequestIDKey    = "request_id"
	PrincipalKey    = "principal"
	CustomerKey     = "customer"
	RequestIDHeader = "X-Request-ID"
)

// MaxRequestIDLength bounds client supplied request IDs
const MaxRequestIDLength = 128

// RequestID tags the request with the caller's X-Request-ID, or a new UUID
// when the header is missing or unusable, and echoes it in the response.
// The ID also goes on the request context for the logger.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := cleanRequestID(c.GetHeader(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Writer.Header().Set(RequestIDHeader, id)

		ctx, _ := logger.WithRequestID(c.Request.Context(), logger.FromContext(c.Request.Context()), id)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// cleanRequestID drops characters that have no business in a log field or
// header and caps the length
func cleanRequestID(raw string) string {
	id := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.', r == ':':
			return r
		}
		return -1
	}, raw)
	if len(id) > MaxRequestIDLength {
		id = id[:MaxRequestIDLength]
	}
	return id
}

// GetRequestID returns the request ID set by RequestID
func GetRequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}

// BodyLimit refuses declared bodies over maxBytes up front and caps the
// reader for chunked ones; BindJSON turns the overflow into the same
// REQUEST_TOO_LARGE error.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			abortWithCode(c, dto.ErrCodeRequestTooLarge, "Request body exceeds maximum allowed size")
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
