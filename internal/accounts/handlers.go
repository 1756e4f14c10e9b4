package accounts

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/crimecast/crimecast/internal/audit"
	"github.com/crimecast/crimecast/internal/logging"
	"github.com/crimecast/crimecast/internal/session"
	"github.com/crimecast/crimecast/internal/validation"
	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for accounts
type Handler struct {
	manager  *Manager
	sessions *session.Manager
}

// NewHandler creates a new account handler
func NewHandler(manager *Manager, sessions *session.Manager) *Handler {
	return &Handler{manager: manager, sessions: sessions}
}

// RegisterRoutes sets up the unauthenticated account routes. loginGuards run
// before the login handler (rate limiting).
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, loginGuards ...gin.HandlerFunc) {
	r.POST("/auth/signup", h.Signup)
	r.POST("/auth/login", append(loginGuards, h.Login)...)
	r.POST("/auth/logout", h.Logout)
}

// RegisterProtectedRoutes sets up routes for any signed-in account
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/me", h.Me)
	r.PATCH("/me", h.UpdateMe)
	r.POST("/me/password", h.ChangePassword)
}

// RegisterAdminRoutes sets up administrator-only routes
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/accounts", h.ListAccounts)
	r.PATCH("/accounts/:id/active", validation.IDParamMiddleware(), h.SetActive)
	r.DELETE("/accounts/:id", validation.IDParamMiddleware(), h.DeleteAccount)
}

// SessionUser resolves a session's account, refusing missing or inactive ones.
// It satisfies session.Resolver.
func (m *Manager) SessionUser(ctx context.Context, id int64) (*session.User, error) {
	a, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.Active {
		return nil, ErrInvalidCredentials
	}
	return sessionUser(a), nil
}

func sessionUser(a *Account) *session.User {
	return &session.User{ID: a.ID, Email: a.Email, Name: a.Name, Role: string(a.Role)}
}

func sourceOf(c *gin.Context) audit.Source {
	return audit.Source{
		Address: c.ClientIP(),
		Context: c.Request.Method + " " + c.Request.URL.Path,
	}
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrDuplicateEmail):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "duplicate_email",
			"message": "An account with this email already exists",
		})
	case errors.Is(err, ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "invalid_credentials",
			"message": "Invalid email or password",
		})
	case errors.Is(err, ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": err.Error(),
		})
	case errors.Is(err, ErrNoFieldsToUpdate):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "no_fields",
			"message": "No fields to update",
		})
	case errors.Is(err, ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Account not found",
		})
	case errors.Is(err, ErrSelfDelete):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "self_delete",
			"message": "You cannot delete your own account",
		})
	case errors.Is(err, ErrSelfDeactivate):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "self_deactivate",
			"message": "You cannot deactivate your own account",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Something went wrong",
		})
	}
}

// SignupRequest is the body of POST /auth/signup.
type SignupRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
}

// Signup handles POST /auth/signup
func (h *Handler) Signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "email, password and name are required",
		})
		return
	}

	a, err := h.manager.CreateAccount(c.Request.Context(), NewAccount{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Phone:    req.Phone,
		Address:  req.Address,
	}, sourceOf(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"account": a})
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login handles POST /auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "email and password are required",
		})
		return
	}

	a, err := h.manager.Authenticate(c.Request.Context(), req.Email, req.Password, sourceOf(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.sessions.Login(c, sessionUser(a)); err != nil {
		logging.L(c.Request.Context()).Error("failed to save session", "account_id", a.ID, "error", err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": a})
}

// Logout handles POST /auth/logout. Anonymous callers get 204 too.
func (h *Handler) Logout(c *gin.Context) {
	if u, ok := session.CurrentUser(c); ok {
		h.manager.RecordLogout(c.Request.Context(), u.ID, u.Email, sourceOf(c))
	}
	if err := h.sessions.Logout(c); err != nil {
		logging.L(c.Request.Context()).Warn("failed to clear session", "error", err)
	}
	c.Status(http.StatusNoContent)
}

// Me handles GET /me
func (h *Handler) Me(c *gin.Context) {
	u, _ := session.CurrentUser(c)
	a, err := h.manager.Get(c.Request.Context(), u.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": a})
}

// UpdateProfileRequest is the body of PATCH /me. ProfilePicture is base64 in JSON.
type UpdateProfileRequest struct {
	Name           *string `json:"name"`
	Phone          *string `json:"phone"`
	Address        *string `json:"address"`
	ProfilePicture []byte  `json:"profilePicture"`
}

// UpdateMe handles PATCH /me
func (h *Handler) UpdateMe(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid profile update",
		})
		return
	}
	u, _ := session.CurrentUser(c)
	a, err := h.manager.UpdateProfile(c.Request.Context(), u.ID, ProfileUpdate{
		Name:           req.Name,
		Phone:          req.Phone,
		Address:        req.Address,
		ProfilePicture: req.ProfilePicture,
	}, sourceOf(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": a})
}

// ChangePasswordRequest is the body of POST /me/password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

// ChangePassword handles POST /me/password. The current password is
// re-verified first.
func (h *Handler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "currentPassword and newPassword are required",
		})
		return
	}
	ctx := c.Request.Context()
	u, _ := session.CurrentUser(c)

	a, err := h.manager.Get(ctx, u.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !h.manager.VerifyPassword(a, req.CurrentPassword) {
		writeError(c, ErrInvalidCredentials)
		return
	}
	if err := h.manager.ChangePassword(ctx, u.ID, req.NewPassword, sourceOf(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListAccounts handles GET /admin/accounts
func (h *Handler) ListAccounts(c *gin.Context) {
	list, err := h.manager.ListAccounts(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if list == nil {
		list = []*Account{}
	}
	c.JSON(http.StatusOK, gin.H{"accounts": list, "count": len(list)})
}

// SetActiveRequest is the body of PATCH /admin/accounts/:id/active.
type SetActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SetActive handles PATCH /admin/accounts/:id/active
func (h *Handler) SetActive(c *gin.Context) {
	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "active is required",
		})
		return
	}
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	actor, _ := session.CurrentUser(c)

	if err := h.manager.SetActive(c.Request.Context(), actor.ID, id, *req.Active, sourceOf(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "active": *req.Active})
}

// DeleteAccount handles DELETE /admin/accounts/:id
func (h *Handler) DeleteAccount(c *gin.Context) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	actor, _ := session.CurrentUser(c)

	if err := h.manager.DeleteAccount(c.Request.Context(), actor.ID, id, sourceOf(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
