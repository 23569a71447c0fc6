package logger

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/saasdash/backend/internal/domain/shared"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const ginLoggerKey = "logger"

// AccessLogOption tunes GinMiddleware
type AccessLogOption func(*accessLog)

type accessLog struct {
	quiet map[string]bool
}

// WithQuietRoutes logs successful requests to the given routes at debug, so
// probes such as /health stay out of the access log
func WithQuietRoutes(routes ...string) AccessLogOption {
	return func(a *accessLog) {
		for _, r := range routes {
			a.quiet[r] = true
		}
	}
}

// GinMiddleware stores a request-scoped logger in the gin and request
// contexts and writes one access line per request. The line is written
// from the final request logger, so fields added later (principal, trace)
// show up on it.
func GinMiddleware(logger *zap.Logger, opts ...AccessLogOption) gin.HandlerFunc {
	cfg := &accessLog{quiet: make(map[string]bool)}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(c *gin.Context) {
		start := time.Now()
		route := c.FullPath()
		SetGinLogger(c, logger.With(
			zap.String("request_id", c.GetString("request_id")),
			zap.String("method", c.Request.Method),
			zap.String("path", route),
		))

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", c.Errors.Errors()))
		}

		level := zapcore.InfoLevel
		switch {
		case status >= http.StatusInternalServerError:
			level = zapcore.ErrorLevel
		case status >= http.StatusBadRequest:
			level = zapcore.WarnLevel
		case cfg.quiet[route]:
			level = zapcore.DebugLevel
		}
		if ce := WithTraceContext(c.Request.Context(), GetGinLogger(c)).Check(level, "HTTP Request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

// Recovery turns a panic into an UNHANDLED_ERROR envelope and logs it with
// the request logger
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			l := logger
			if _, ok := c.Get(ginLoggerKey); ok {
				l = GetGinLogger(c)
			}
			l.Error("Panic recovered",
				zap.String("request_id", c.GetString("request_id")),
				zap.String("url", c.Request.URL.Path),
				zap.Any("panic", rec),
				zap.Stack("stacktrace"),
			)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"val": nil, "err": shared.ErrUnhandled})
		}()
		c.Next()
	}
}

// GetGinLogger retrieves the request logger from the gin context
func GetGinLogger(c *gin.Context) *zap.Logger {
	if l, ok := c.Get(ginLoggerKey); ok {
		if zl, ok := l.(*zap.Logger); ok {
			return zl
		}
	}
	return zap.NewNop()
}

// SetGinLogger replaces the request logger in both contexts
func SetGinLogger(c *gin.Context, l *zap.Logger) {
	c.Set(ginLoggerKey, l)
	c.Request = c.Request.WithContext(WithContext(c.Request.Context(), l))
}
