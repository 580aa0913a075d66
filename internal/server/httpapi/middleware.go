package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/logging"
	"github.com/dmitrijs2005/credkeeper/internal/server/auth"
	"github.com/dmitrijs2005/credkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/credkeeper/internal/server/ratelimit"
	"github.com/dmitrijs2005/credkeeper/internal/timex"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	accountIDKey    = "account_id"
)

// RequestID propagates X-Request-ID or assigns a fresh one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// routeLabel is the matched route template. The raw URL is never used: it
// may carry a token in the query string.
func routeLabel(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unmatched"
}

// Logger writes one access log line per request and records it in m.
func Logger(logger logging.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		status := c.Writer.Status()
		path := routeLabel(c)

		args := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", latency,
			"client_ip", c.ClientIP(),
			"request_id", c.GetString(requestIDKey),
		}
		if len(c.Errors) > 0 && status >= http.StatusInternalServerError {
			args = append(args, "error", c.Errors.Last().Err)
		}

		if status >= http.StatusInternalServerError {
			logger.Error(c.Request.Context(), "request", args...)
		} else {
			logger.Info(c.Request.Context(), "request", args...)
		}

		m.HTTPRequest(c.Request.Method, path, status, latency)
	}
}

func Recovery(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error(c.Request.Context(), "panic",
					"error", rec,
					"path", routeLabel(c),
					"request_id", c.GetString(requestIDKey),
				)
				c.AbortWithStatusJSON(internalError.status, internalError.body)
			}
		}()
		c.Next()
	}
}

// Authenticator validates access tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*auth.Claims, error)
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireAuth rejects requests without a valid access token and stores the
// account id for the handlers.
func RequireAuth(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := a.Authenticate(c.Request.Context(), bearerToken(c.GetHeader(common.AuthorizationHeaderName)))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Set(accountIDKey, claims.Subject)
		c.Next()
	}
}

func currentAccountID(c *gin.Context) string {
	return c.GetString(accountIDKey)
}

// RateLimit throttles per route and client address. A limiter failure lets
// the request through.
func RateLimit(l ratelimit.Limiter, clock timex.Clock, logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := routeLabel(c) + "|" + c.ClientIP()

		allowed, retryAfter, err := l.Allow(c.Request.Context(), key, clock.Now())
		if err != nil {
			logger.Warn(c.Request.Context(), "rate limiter unavailable", "error", err)
			c.Next()
			return
		}
		if !allowed {
			secs := int(retryAfter.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			abortWithError(c, common.ErrRateLimited)
			return
		}
		c.Next()
	}
}
