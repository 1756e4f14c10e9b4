package audit

import (
	"context"
	"database/sql"

	"github.com/crimecast/crimecast/internal/pagination"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed audit store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// Append inserts an entry and sets its ID
func (p *PostgresStore) Append(ctx context.Context, e *Entry) error {
	var accountID sql.NullInt64
	if e.AccountID != nil {
		accountID = sql.NullInt64{Int64: *e.AccountID, Valid: true}
	}
	return p.db.QueryRowContext(ctx, `
		INSERT INTO audit_log (account_id, action, context, source_address, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, accountID, string(e.Action), e.Context, e.SourceAddress, e.Timestamp).Scan(&e.ID)
}

const entrySelect = `
	SELECT l.id, l.account_id, a.email, l.action, l.context, l.source_address, l.created_at
	FROM audit_log l
	LEFT JOIN accounts a ON a.id = l.account_id`

// List returns the newest entries with the account email joined in
func (p *PostgresStore) List(ctx context.Context, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, entrySelect+`
		ORDER BY l.created_at DESC, l.id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// ListBefore returns the entries strictly older than the cursor key
func (p *PostgresStore) ListBefore(ctx context.Context, before pagination.Cursor, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, entrySelect+`
		WHERE (l.created_at, l.id) < ($1, $2)
		ORDER BY l.created_at DESC, l.id DESC
		LIMIT $3
	`, before.Timestamp, before.ID, limit)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var accountID sql.NullInt64
		var email sql.NullString
		var action string
		if err := rows.Scan(&e.ID, &accountID, &email, &action, &e.Context, &e.SourceAddress, &e.Timestamp); err != nil {
			return nil, err
		}
		if accountID.Valid {
			id := accountID.Int64
			e.AccountID = &id
		}
		e.Email = email.String
		e.Action = Action(action)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
