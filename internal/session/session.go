// Package session keeps the signed-in user in a signed cookie and answers
// capability checks for handlers.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
)

const (
	// CookieName is the session cookie name.
	CookieName = "crimecast_session"

	// ContextKeyUser is the gin context key holding the *User.
	ContextKeyUser = "sessionUser"

	keyAccountID = "account_id"
	keyEmail     = "email"
	keyName      = "name"
	keyRole      = "role"

	maxAgeSeconds = 12 * 60 * 60
)

// MinSecretLength is the shortest accepted signing secret.
const MinSecretLength = 32

var ErrShortSecret = errors.New("session secret must be at least 32 bytes")

// Role values mirror the account roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Capability is something a request may be allowed to do.
type Capability string

const (
	CapSignedIn Capability = "signed_in"
	CapAdmin    Capability = "admin"
)

// User is the identity carried by a session.
type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// Check reports whether u holds capability. A nil user holds none.
func Check(u *User, capability Capability) bool {
	if u == nil || u.ID == 0 {
		return false
	}
	switch capability {
	case CapSignedIn:
		return true
	case CapAdmin:
		return u.Role == RoleAdmin
	default:
		return false
	}
}

// Resolver reloads a session user from the account store. It returns an
// error when the account no longer exists or has been deactivated.
type Resolver func(ctx context.Context, id int64) (*User, error)

// Manager reads and writes session cookies.
type Manager struct {
	store    *sessions.CookieStore
	resolver Resolver
	logger   *slog.Logger
}

// NewManager creates a cookie-backed session manager. secure marks cookies
// Secure with SameSite=None; otherwise SameSite=Lax for local development.
func NewManager(secret []byte, secure bool, resolver Resolver, logger *slog.Logger) (*Manager, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrShortSecret
	}
	if logger == nil {
		logger = slog.Default()
	}
	store := sessions.NewCookieStore(secret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   maxAgeSeconds,
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if secure {
		store.Options.SameSite = http.SameSiteNoneMode
	}
	return &Manager{store: store, resolver: resolver, logger: logger}, nil
}

// GenerateSecret returns a random secret suitable for development.
func GenerateSecret() []byte {
	return securecookie.GenerateRandomKey(MinSecretLength)
}

func (m *Manager) get(r *http.Request) *sessions.Session {
	sess, err := m.store.Get(r, CookieName)
	if err != nil {
		var scErr securecookie.Error
		if errors.As(err, &scErr) && scErr.IsDecode() {
			m.logger.Warn("session cookie invalid, using fresh session", "error", err)
		} else {
			m.logger.Error("session store error, using fresh session", "error", err)
		}
	}
	return sess
}

// Login stores u in a fresh session cookie.
func (m *Manager) Login(c *gin.Context, u *User) error {
	sess := m.get(c.Request)
	sess.Values[keyAccountID] = u.ID
	sess.Values[keyEmail] = u.Email
	sess.Values[keyName] = u.Name
	sess.Values[keyRole] = u.Role
	if err := sess.Save(c.Request, c.Writer); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	c.Set(ContextKeyUser, u)
	return nil
}

// Logout expires the session cookie.
func (m *Manager) Logout(c *gin.Context) error {
	sess := m.get(c.Request)
	for k := range sess.Values {
		delete(sess.Values, k)
	}
	sess.Options.MaxAge = -1
	if err := sess.Save(c.Request, c.Writer); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Middleware loads the session user, if any, into the gin context. With a
// resolver configured the user is reloaded so role changes and
// deactivation take effect on the next request.
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := m.get(c.Request)
		id, ok := sess.Values[keyAccountID].(int64)
		if !ok || id == 0 {
			c.Next()
			return
		}

		u := &User{
			ID:    id,
			Email: getString(sess, keyEmail),
			Name:  getString(sess, keyName),
			Role:  getString(sess, keyRole),
		}
		if m.resolver != nil {
			fresh, err := m.resolver(c.Request.Context(), id)
			if err != nil {
				m.logger.Info("session user no longer valid", "account_id", id, "error", err)
				c.Next()
				return
			}
			u = fresh
		}
		c.Set(ContextKeyUser, u)
		c.Next()
	}
}

// Require aborts the request unless the session user holds capability.
func Require(capability Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, _ := CurrentUser(c)
		if Check(u, capability) {
			c.Next()
			return
		}
		if u == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Sign in required",
			})
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Administrator access required",
		})
	}
}

// CurrentUser returns the session user from context (if signed in)
func CurrentUser(c *gin.Context) (*User, bool) {
	v, exists := c.Get(ContextKeyUser)
	if !exists {
		return nil, false
	}
	u, ok := v.(*User)
	return u, ok
}

func getString(s *sessions.Session, key string) string {
	if v, ok := s.Values[key].(string); ok {
		return v
	}
	return ""
}
