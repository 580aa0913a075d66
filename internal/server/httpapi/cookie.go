package httpapi

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/gin-gonic/gin"
)

const refreshCookiePath = "/auth"

// RefreshCookie carries the refresh token. It is HttpOnly and
// SameSite=Strict and only sent to the /auth routes.
type RefreshCookie struct {
	Name   string
	Path   string
	MaxAge time.Duration
	Secure bool
}

func NewRefreshCookie(maxAge time.Duration, secure bool) RefreshCookie {
	return RefreshCookie{
		Name:   common.RefreshTokenCookieName,
		Path:   refreshCookiePath,
		MaxAge: maxAge,
		Secure: secure,
	}
}

func (rc RefreshCookie) Set(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(rc.Name, token, int(rc.MaxAge.Seconds()), rc.Path, "", rc.Secure, true)
}

func (rc RefreshCookie) Clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(rc.Name, "", -1, rc.Path, "", rc.Secure, true)
}

// Read returns the cookie value or "" when it is absent.
func (rc RefreshCookie) Read(c *gin.Context) string {
	v, err := c.Cookie(rc.Name)
	if err != nil {
		return ""
	}
	return v
}
