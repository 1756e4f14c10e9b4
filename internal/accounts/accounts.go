// Package accounts persists user accounts, verifies passwords and records
// every account action in the audit log.
//
// Authentication never reveals why it failed: an unknown email, an inactive
// account and a wrong password all return ErrInvalidCredentials after the
// same bcrypt comparison work.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/crimecast/crimecast/internal/audit"
	"github.com/crimecast/crimecast/internal/logging"
	"github.com/crimecast/crimecast/internal/metrics"
	"github.com/crimecast/crimecast/internal/traces"
	"github.com/crimecast/crimecast/internal/validation"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrPersistence        = errors.New("account storage failure")
	ErrAccountNotFound    = errors.New("account not found")
	ErrSelfDelete         = errors.New("cannot delete the signed-in account")
	ErrSelfDeactivate     = errors.New("cannot deactivate the signed-in account")
	ErrNoFieldsToUpdate   = errors.New("no fields to update")
	ErrInvalidInput       = errors.New("invalid input")
)

// Role is the account's access level.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// DefaultBcryptCost is used when no cost is configured.
const DefaultBcryptCost = 12

// Account is a stored identity. Email equality is case-sensitive.
type Account struct {
	ID             int64      `json:"id"`
	Email          string     `json:"email"`
	PasswordHash   string     `json:"-"`
	Name           string     `json:"name"`
	Phone          string     `json:"phone,omitempty"`
	Address        string     `json:"address,omitempty"`
	ProfilePicture []byte     `json:"profilePicture,omitempty"`
	Role           Role       `json:"role"`
	Active         bool       `json:"active"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastLogin      *time.Time `json:"lastLogin,omitempty"`
}

// NewAccount is the input to CreateAccount.
type NewAccount struct {
	Email    string
	Password string
	Name     string
	Phone    string
	Address  string
	Role     Role
}

// ProfileUpdate changes the non-nil fields only.
type ProfileUpdate struct {
	Name           *string
	Phone          *string
	Address        *string
	ProfilePicture []byte
}

// Empty reports whether the update would change nothing.
func (u ProfileUpdate) Empty() bool {
	return u.Name == nil && u.Phone == nil && u.Address == nil && u.ProfilePicture == nil
}

// Store persists accounts.
type Store interface {
	// Create inserts a and sets its ID. Returns ErrDuplicateEmail when the
	// email is taken.
	Create(ctx context.Context, a *Account) error
	Get(ctx context.Context, id int64) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	// List returns accounts newest first (created_at, then id, descending).
	List(ctx context.Context) ([]*Account, error)
	UpdateProfile(ctx context.Context, id int64, u ProfileUpdate) (*Account, error)
	SetActive(ctx context.Context, id int64, active bool) error
	SetPasswordHash(ctx context.Context, id int64, hash string) error
	SetLastLogin(ctx context.Context, id int64, at time.Time) error
	Delete(ctx context.Context, id int64) error
}

// Manager is the credential store handle shared by handlers.
type Manager struct {
	store  Store
	audit  *audit.Logger
	cost   int
	logger *slog.Logger
	now    func() time.Time

	// dummyHash is compared against when the email is unknown.
	dummyHash []byte
}

// Option configures a Manager.
type Option func(*Manager)

// WithBcryptCost sets the hashing cost; values outside bcrypt's range are ignored.
func WithBcryptCost(cost int) Option {
	return func(m *Manager) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			m.cost = cost
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates an account manager. auditLog may be nil.
func NewManager(store Store, auditLog *audit.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		audit:  auditLog,
		cost:   DefaultBcryptCost,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte("crimecast-timing-equalizer"), m.cost)
	if err != nil {
		// Only reachable with an invalid cost, which WithBcryptCost rejects.
		panic(fmt.Sprintf("accounts: dummy hash: %v", err))
	}
	m.dummyHash = hash
	return m
}

// persistErr logs a storage failure and hides the driver error from callers.
func (m *Manager) persistErr(ctx context.Context, op string, err error) error {
	logging.L(ctx).Error("account storage failure", "op", op, "error", err)
	return fmt.Errorf("%s: %w", op, ErrPersistence)
}

func (m *Manager) record(ctx context.Context, id int64, email string, action audit.Action, src audit.Source) {
	m.audit.Record(ctx, &id, email, action, src)
}

func (m *Manager) hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), m.cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func invalid(errs validation.ValidationErrors) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, errs.Error())
}

// CreateAccount validates and stores a new account and appends a signup entry.
func (m *Manager) CreateAccount(ctx context.Context, in NewAccount, src audit.Source) (*Account, error) {
	in.Name = validation.SanitizeString(in.Name, 255)
	in.Phone = validation.SanitizeString(in.Phone, 50)
	in.Address = validation.SanitizeString(in.Address, 500)
	if in.Role == "" {
		in.Role = RoleUser
	}
	if errs := validation.Validate(
		validation.Required("email", in.Email),
		validation.Email("email", in.Email),
		validation.Password("password", in.Password),
		validation.Required("name", in.Name),
		validation.Phone("phone", in.Phone),
	); len(errs) > 0 {
		return nil, invalid(errs)
	}
	if !in.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, in.Role)
	}

	hash, err := m.hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	a := &Account{
		Email:        in.Email,
		PasswordHash: hash,
		Name:         in.Name,
		Phone:        in.Phone,
		Address:      in.Address,
		Role:         in.Role,
		Active:       true,
		CreatedAt:    m.now().UTC(),
	}
	if err := m.store.Create(ctx, a); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, m.persistErr(ctx, "create account", err)
	}

	metrics.AccountsCreatedTotal.Inc()
	m.record(ctx, a.ID, a.Email, audit.ActionSignup, src)
	return a, nil
}

// Authenticate verifies credentials, stamps LastLogin and appends a login
// entry. Bad credentials are ErrInvalidCredentials; storage failures are
// ErrPersistence.
func (m *Manager) Authenticate(ctx context.Context, email, password string, src audit.Source) (acct *Account, err error) {
	ctx, span := traces.StartSpan(ctx, "accounts.Authenticate")
	defer func() {
		result := "success"
		if err != nil {
			result = "failure"
			span.SetStatus(codes.Error, "authentication failed")
		}
		metrics.AuthAttemptsTotal.WithLabelValues(result).Inc()
		span.End()
	}()

	a, err := m.store.GetByEmail(ctx, email)
	if err != nil {
		_ = bcrypt.CompareHashAndPassword(m.dummyHash, []byte(password))
		if !errors.Is(err, ErrAccountNotFound) {
			return nil, m.persistErr(ctx, "lookup account", err)
		}
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) != nil || !a.Active {
		return nil, ErrInvalidCredentials
	}

	now := m.now().UTC()
	if err := m.store.SetLastLogin(ctx, a.ID, now); err != nil {
		return nil, m.persistErr(ctx, "stamp last login", err)
	}
	a.LastLogin = &now
	span.SetAttributes(traces.AccountID(a.ID))

	m.record(ctx, a.ID, a.Email, audit.ActionLogin, src)
	return a, nil
}

// VerifyPassword reports whether password matches a's stored hash.
func (m *Manager) VerifyPassword(a *Account, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) == nil
}

// RecordLogout appends a logout entry for id.
func (m *Manager) RecordLogout(ctx context.Context, id int64, email string, src audit.Source) {
	m.record(ctx, id, email, audit.ActionLogout, src)
}

// Get returns one account.
func (m *Manager) Get(ctx context.Context, id int64) (*Account, error) {
	a, err := m.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, m.persistErr(ctx, "get account", err)
	}
	return a, nil
}

// UpdateProfile applies the non-nil fields of u and appends profile_update.
func (m *Manager) UpdateProfile(ctx context.Context, id int64, u ProfileUpdate, src audit.Source) (*Account, error) {
	if u.Empty() {
		return nil, ErrNoFieldsToUpdate
	}
	var checks []func() *validation.ValidationError
	if u.Name != nil {
		name := validation.SanitizeString(*u.Name, 255)
		u.Name = &name
		checks = append(checks, validation.Required("name", name))
	}
	if u.Phone != nil {
		phone := validation.SanitizeString(*u.Phone, 50)
		u.Phone = &phone
		checks = append(checks, validation.Phone("phone", phone))
	}
	if u.Address != nil {
		addr := validation.SanitizeString(*u.Address, 500)
		u.Address = &addr
	}
	if errs := validation.Validate(checks...); len(errs) > 0 {
		return nil, invalid(errs)
	}

	a, err := m.store.UpdateProfile(ctx, id, u)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, m.persistErr(ctx, "update profile", err)
	}
	m.record(ctx, a.ID, a.Email, audit.ActionProfileUpdate, src)
	return a, nil
}

// SetActive toggles an account's active flag. The entry is attributed to
// the acting administrator, who may not deactivate themselves.
func (m *Manager) SetActive(ctx context.Context, actorID, id int64, active bool, src audit.Source) error {
	if actorID == id && !active {
		return ErrSelfDeactivate
	}
	if err := m.store.SetActive(ctx, id, active); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return m.persistErr(ctx, "set active", err)
	}
	m.record(ctx, actorID, "", audit.ActionStatusChange, src)
	return nil
}

// ChangePassword re-hashes and stores a new password.
func (m *Manager) ChangePassword(ctx context.Context, id int64, newPassword string, src audit.Source) error {
	if errs := validation.Validate(validation.Password("password", newPassword)); len(errs) > 0 {
		return invalid(errs)
	}
	hash, err := m.hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := m.store.SetPasswordHash(ctx, id, hash); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return m.persistErr(ctx, "change password", err)
	}
	m.record(ctx, id, "", audit.ActionPasswordChange, src)
	return nil
}

// DeleteAccount permanently removes id. An actor can not delete itself.
func (m *Manager) DeleteAccount(ctx context.Context, actorID, id int64, src audit.Source) error {
	if actorID == id {
		return ErrSelfDelete
	}
	if err := m.store.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return m.persistErr(ctx, "delete account", err)
	}
	m.record(ctx, actorID, "", audit.ActionAccountDeleted, src)
	return nil
}

// ListAccounts returns every account, newest first.
func (m *Manager) ListAccounts(ctx context.Context) ([]*Account, error) {
	list, err := m.store.List(ctx)
	if err != nil {
		return nil, m.persistErr(ctx, "list accounts", err)
	}
	return list, nil
}

// EnsureAdmin creates an administrator with the given credentials unless an
// account with that email already exists. created reports whether one was made.
func (m *Manager) EnsureAdmin(ctx context.Context, email, password, name string) (created bool, err error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return false, nil
	}
	_, err = m.CreateAccount(ctx, NewAccount{
		Email:    email,
		Password: password,
		Name:     name,
		Role:     RoleAdmin,
	}, audit.Source{Context: "bootstrap", Address: "local"})
	switch {
	case err == nil:
		m.logger.Info("default administrator created", "email", email)
		return true, nil
	case errors.Is(err, ErrDuplicateEmail):
		return false, nil
	default:
		return false, err
	}
}
