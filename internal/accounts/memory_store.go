package accounts

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store for testing and
// database-less development.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[int64]*Account
	byEmail  map[string]int64
	nextID   int64
}

// NewMemoryStore creates a new in-memory account store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[int64]*Account),
		byEmail:  make(map[string]int64),
	}
}

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

func clone(a *Account) *Account {
	cp := *a
	if a.LastLogin != nil {
		t := *a.LastLogin
		cp.LastLogin = &t
	}
	if a.ProfilePicture != nil {
		cp.ProfilePicture = append([]byte(nil), a.ProfilePicture...)
	}
	return &cp
}

func (m *MemoryStore) Create(ctx context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.byEmail[a.Email]; taken {
		return ErrDuplicateEmail
	}
	m.nextID++
	a.ID = m.nextID
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	m.accounts[a.ID] = clone(a)
	m.byEmail[a.Email] = a.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id int64) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return clone(a), nil
}

func (m *MemoryStore) GetByEmail(ctx context.Context, email string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[email]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return clone(m.accounts[id]), nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, clone(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) UpdateProfile(ctx context.Context, id int64, u ProfileUpdate) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	if u.Name != nil {
		a.Name = *u.Name
	}
	if u.Phone != nil {
		a.Phone = *u.Phone
	}
	if u.Address != nil {
		a.Address = *u.Address
	}
	if u.ProfilePicture != nil {
		a.ProfilePicture = append([]byte(nil), u.ProfilePicture...)
	}
	return clone(a), nil
}

func (m *MemoryStore) mutate(id int64, fn func(a *Account)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	fn(a)
	return nil
}

func (m *MemoryStore) SetActive(ctx context.Context, id int64, active bool) error {
	return m.mutate(id, func(a *Account) { a.Active = active })
}

func (m *MemoryStore) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	return m.mutate(id, func(a *Account) { a.PasswordHash = hash })
}

func (m *MemoryStore) SetLastLogin(ctx context.Context, id int64, at time.Time) error {
	return m.mutate(id, func(a *Account) { a.LastLogin = &at })
}

func (m *MemoryStore) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	delete(m.byEmail, a.Email)
	delete(m.accounts, id)
	return nil
}
