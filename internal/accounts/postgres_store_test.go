//go:build integration

package accounts

import (
	"context"
	"testing"
	"time"

	"github.com/crimecast/crimecast/internal/audit"
	"github.com/crimecast/crimecast/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPostgresStore_AccountLifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()

	store := NewPostgresStore(db)
	auditStore := audit.NewPostgresStore(db)
	m := NewManager(store, audit.NewLogger(auditStore, nil, nil), WithBcryptCost(bcrypt.MinCost))

	a, err := m.CreateAccount(ctx, NewAccount{Email: "a@b.com", Password: "secret1", Name: "A", Phone: "555-0100"}, src)
	require.NoError(t, err)
	assert.NotZero(t, a.ID)

	_, err = m.CreateAccount(ctx, NewAccount{Email: "a@b.com", Password: "other2", Name: "B"}, src)
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	got, err := m.Authenticate(ctx, "a@b.com", "secret1", src)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Name)
	assert.Equal(t, "555-0100", got.Phone)

	stored, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastLogin)
	assert.WithinDuration(t, time.Now(), *stored.LastLogin, time.Minute)

	name := "Alice"
	updated, err := m.UpdateProfile(ctx, a.ID, ProfileUpdate{Name: &name, ProfilePicture: []byte{1, 2, 3}}, src)
	require.NoError(t, err)
	assert.Equal(t, "Alice", updated.Name)
	assert.Equal(t, []byte{1, 2, 3}, updated.ProfilePicture)

	entries, err := auditStore.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, audit.ActionProfileUpdate, entries[0].Action)
	assert.Equal(t, "a@b.com", entries[0].Email)

	admin, err := m.CreateAccount(ctx, NewAccount{Email: "admin@b.com", Password: "secret1", Name: "Admin", Role: RoleAdmin}, src)
	require.NoError(t, err)
	require.NoError(t, m.DeleteAccount(ctx, admin.ID, a.ID, src))

	_, err = store.Get(ctx, a.ID)
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.ErrorIs(t, store.SetActive(ctx, a.ID, false), ErrAccountNotFound)

	// History outlives the account.
	entries, err = auditStore.List(ctx, 10)
	require.NoError(t, err)
	var orphaned int
	for _, e := range entries {
		if e.AccountID == nil {
			orphaned++
		}
	}
	assert.Equal(t, 3, orphaned)
}

func TestPostgresStore_ListOrder(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()
	store := NewPostgresStore(db)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, email := range []string{"1@b.com", "2@b.com"} {
		require.NoError(t, store.Create(ctx, &Account{
			Email: email, PasswordHash: "x", Name: "N", Role: RoleUser, Active: true,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "2@b.com", list[0].Email)
}
