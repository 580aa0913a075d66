// Package httpapi is the HTTP surface of the server: gin routes, the
// refresh token cookie, error mapping and middleware.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/logging"
	"github.com/dmitrijs2005/credkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/credkeeper/internal/server/ratelimit"
	"github.com/dmitrijs2005/credkeeper/internal/timex"
	"github.com/gin-gonic/gin"
)

const readinessTimeout = 2 * time.Second

type Options struct {
	Accounts Accounts
	Resets   PasswordResets
	Cookie   RefreshCookie

	// Limiter guards the credential and recovery routes. Nil disables
	// rate limiting.
	Limiter ratelimit.Limiter
	Clock   timex.Clock
	Logger  logging.Logger
	Metrics *metrics.Metrics

	// Ready reports whether dependencies (the store) are reachable.
	Ready func(ctx context.Context) error
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(o Options) *gin.Engine {
	if o.Clock == nil {
		o.Clock = timex.SystemClock{}
	}
	if o.Logger == nil {
		o.Logger = logging.Nop{}
	}
	logger := o.Logger.With("module", "http")

	r := gin.New()
	r.Use(RequestID(), Logger(logger, o.Metrics), Recovery(logger))

	h := NewHandler(o.Accounts, o.Resets, o.Cookie)

	limited := func(hf gin.HandlerFunc) []gin.HandlerFunc {
		if o.Limiter == nil {
			return []gin.HandlerFunc{hf}
		}
		return []gin.HandlerFunc{RateLimit(o.Limiter, o.Clock, logger), hf}
	}

	a := r.Group("/auth")
	a.POST("/register", limited(h.Register)...)
	a.GET("/verify-email", h.VerifyEmail)
	a.POST("/verify-email", h.VerifyEmail)
	a.POST("/resend-verification", limited(h.ResendVerification)...)
	a.POST("/login", limited(h.Login)...)
	a.POST("/refresh", h.Refresh)
	a.POST("/logout", h.Logout)
	a.POST("/forgot-password", limited(h.ForgotPassword)...)
	a.POST("/reset-password", limited(h.ResetPassword)...)

	u := r.Group("/users", RequireAuth(o.Accounts))
	u.GET("/me", h.GetMe)
	u.PATCH("/me", h.UpdateMe)
	u.DELETE("/me", h.DeleteMe)
	u.PUT("/me/password", limited(h.ChangePassword)...)
	u.DELETE("/:id", h.DeleteAccount)

	r.GET("/healthz", liveness)
	r.GET("/readyz", readiness(o.Ready))
	r.GET("/metrics", gin.WrapH(o.Metrics.Handler()))

	return r
}

func liveness(c *gin.Context) {
	c.JSON(http.StatusOK, statusResponse{Status: "ok"})
}

func readiness(ready func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
			defer cancel()
			if err := ready(ctx); err != nil {
				_ = c.Error(err)
				c.JSON(http.StatusServiceUnavailable, statusResponse{Status: "not_ready"})
				return
			}
		}
		c.JSON(http.StatusOK, statusResponse{Status: "ready"})
	}
}
