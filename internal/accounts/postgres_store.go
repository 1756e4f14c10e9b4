package accounts

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed account store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const accountColumns = `id, email, password_hash, name, phone, address, profile_picture,
	role, is_active, created_at, last_login`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	a := &Account{}
	var phone, address sql.NullString
	var role string
	var lastLogin sql.NullTime
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Name, &phone, &address,
		&a.ProfilePicture, &role, &a.Active, &a.CreatedAt, &lastLogin)
	if err != nil {
		return nil, err
	}
	a.Phone = phone.String
	a.Address = address.String
	a.Role = Role(role)
	if lastLogin.Valid {
		t := lastLogin.Time
		a.LastLogin = &t
	}
	return a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Create inserts a new account; the UNIQUE(email) constraint rejects duplicates.
func (p *PostgresStore) Create(ctx context.Context, a *Account) error {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO accounts (email, password_hash, name, phone, address, role, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, a.Email, a.PasswordHash, a.Name, nullString(a.Phone), nullString(a.Address),
		string(a.Role), a.Active, a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateEmail
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id int64) (*Account, error) {
	a, err := scanAccount(p.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	return a, err
}

func (p *PostgresStore) GetByEmail(ctx context.Context, email string) (*Account, error) {
	a, err := scanAccount(p.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	return a, err
}

func (p *PostgresStore) List(ctx context.Context) ([]*Account, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateProfile builds a SET clause from the non-nil fields.
func (p *PostgresStore) UpdateProfile(ctx context.Context, id int64, u ProfileUpdate) (*Account, error) {
	var sets []string
	var args []any
	n := 1
	add := func(col string, v any) {
		sets = append(sets, col+" = $"+strconv.Itoa(n))
		args = append(args, v)
		n++
	}
	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.Phone != nil {
		add("phone", nullString(*u.Phone))
	}
	if u.Address != nil {
		add("address", nullString(*u.Address))
	}
	if u.ProfilePicture != nil {
		add("profile_picture", u.ProfilePicture)
	}
	if len(sets) == 0 {
		return nil, ErrNoFieldsToUpdate
	}
	args = append(args, id)

	a, err := scanAccount(p.db.QueryRowContext(ctx,
		`UPDATE accounts SET `+strings.Join(sets, ", ")+` WHERE id = $`+strconv.Itoa(n)+
			` RETURNING `+accountColumns, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	return a, err
}

func (p *PostgresStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (p *PostgresStore) SetActive(ctx context.Context, id int64, active bool) error {
	return p.exec(ctx, `UPDATE accounts SET is_active = $1 WHERE id = $2`, active, id)
}

func (p *PostgresStore) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	return p.exec(ctx, `UPDATE accounts SET password_hash = $1 WHERE id = $2`, hash, id)
}

func (p *PostgresStore) SetLastLogin(ctx context.Context, id int64, at time.Time) error {
	return p.exec(ctx, `UPDATE accounts SET last_login = $1 WHERE id = $2`, at, id)
}

// Delete removes the account; audit rows keep their history with a NULL account_id.
func (p *PostgresStore) Delete(ctx context.Context, id int64) error {
	return p.exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
}
