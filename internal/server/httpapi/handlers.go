package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/server/models"
	"github.com/dmitrijs2005/credkeeper/internal/server/services"
	"github.com/gin-gonic/gin"
)

// Accounts is the account and session API the handlers drive.
type Accounts interface {
	Authenticator
	Register(ctx context.Context, in services.RegisterInput) (*models.Profile, error)
	VerifyEmail(ctx context.Context, token string) (*models.Profile, error)
	ResendVerification(ctx context.Context, email string) error
	Login(ctx context.Context, email, password string) (*services.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*services.Session, error)
	Logout(ctx context.Context, refreshToken string)
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
	UpdateProfile(ctx context.Context, id string, upd services.ProfileUpdate) (*models.Profile, error)
	ChangePassword(ctx context.Context, id, current, next string) error
	DeleteAccount(ctx context.Context, actorID, targetID string) error
}

type PasswordResets interface {
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}

// Handler holds the route handlers. Input shape is validated here through
// binding tags; everything else is decided by the services.
type Handler struct {
	accounts Accounts
	resets   PasswordResets
	cookie   RefreshCookie
}

func NewHandler(accounts Accounts, resets PasswordResets, cookie RefreshCookie) *Handler {
	return &Handler{accounts: accounts, resets: resets, cookie: cookie}
}

// bcrypt ignores input past 72 bytes.
type registerRequest struct {
	Name     string `json:"name" binding:"max=200"`
	Email    string `json:"email" binding:"required,email,max=254"`
	Password string `json:"password" binding:"required,min=8,max=72"`
}

type emailRequest struct {
	Email string `json:"email" binding:"required,email,max=254"`
}

type tokenRequest struct {
	Token string `json:"token" form:"token" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,max=254"`
	Password string `json:"password" binding:"required,max=72"`
}

type resetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required,min=8,max=72"`
}

type updateProfileRequest struct {
	Name  *string `json:"name" binding:"omitempty,max=200"`
	Email *string `json:"email" binding:"omitempty,email,max=254"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required,max=72"`
	NewPassword     string `json:"newPassword" binding:"required,min=8,max=72"`
}

type accountURI struct {
	ID string `uri:"id" binding:"required,uuid"`
}

// sessionResponse never includes the refresh token; it travels in the
// cookie only.
type sessionResponse struct {
	AccessToken          string          `json:"accessToken"`
	TokenType            string          `json:"tokenType"`
	AccessTokenExpiresAt time.Time       `json:"accessTokenExpiresAt"`
	Profile              *models.Profile `json:"profile"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func (h *Handler) writeSession(c *gin.Context, sess *services.Session) {
	h.cookie.Set(c, sess.RefreshToken)
	c.JSON(http.StatusOK, sessionResponse{
		AccessToken:          sess.AccessToken,
		TokenType:            "Bearer",
		AccessTokenExpiresAt: sess.AccessTokenExpiresAt,
		Profile:              sess.Profile,
	})
}

func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalid(c, err)
		return
	}

	p, err := h.accounts.Register(c.Request.Context(), services.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// VerifyEmail accepts the token as a query parameter (the emailed link) or
// in a JSON body.
func (h *Handler) VerifyEmail(c *gin.Context) {
	var req tokenRequest
	var err error
	if c.Request.Method == http.MethodGet {
		err = c.ShouldBindQuery(&req)
	} else {
		err = c.ShouldBindJSON(&req)
	}
	if err != nil {
		abortInvalid(c, err)
		return
	}

	p, err := h.accounts.VerifyEmail(c.Request.Context(), req.Token)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) ResendVerification(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalid(c, err)
		return
	}

	if err := h.accounts.ResendVerification(c.Request.Context(), req.Email); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, statusResponse{Status: "sent"})
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalid(c, err)
		return
	}

	sess, err := h.accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		abortWithError(c, err)
		return
	}
	h.writeSession(c, sess)
}

func (h *Handler) Refresh(c *gin.Context) {
	sess, err := h.accounts.Refresh(c.Request.Context(), h.cookie.Read(c))
	if err != nil {
		h.cookie.Clear(c)
		abortWithError(c, err)
		return
	}
	h.writeSession(c, sess)
}

// Logout always succeeds and always clears the cookie.
func (h *Handler) Logout(c *gin.Context) {
	h.accounts.Logout(c.Request.Context(), h.cookie.Read(c))
	h.cookie.Clear(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) ForgotPassword(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalid(c, err)
		return
	}

	if err := h.resets.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, statusResponse{Status: "sent"})
}

func (h *Handler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalid(c, err)
		return
	}

	if err := h.resets.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		abortWithError(c, err)
		return
	}
	h.cookie.Clear(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) GetMe(c *gin.Context) {
	p, err := h.accounts.GetProfile(c.Request.Context(), currentAccountID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdateMe(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalid(c, err)
		return
	}

	p, err := h.accounts.UpdateProfile(c.Request.Context(), currentAccountID(c), services.ProfileUpdate{
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalid(c, err)
		return
	}

	if err := h.accounts.ChangePassword(c.Request.Context(), currentAccountID(c), req.CurrentPassword, req.NewPassword); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) DeleteMe(c *gin.Context) {
	id := currentAccountID(c)
	if err := h.accounts.DeleteAccount(c.Request.Context(), id, id); err != nil {
		abortWithError(c, err)
		return
	}
	h.cookie.Clear(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) DeleteAccount(c *gin.Context) {
	var uri accountURI
	if err := c.ShouldBindUri(&uri); err != nil {
		abortInvalid(c, err)
		return
	}
	if err := h.accounts.DeleteAccount(c.Request.Context(), currentAccountID(c), uri.ID); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
