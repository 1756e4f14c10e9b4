// Package audit records an append-only log of account actions.
//
// Writes are best-effort: a failing store or publisher is logged and never
// returned to the caller, so recording an action can not abort the action.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/crimecast/crimecast/internal/logging"
	"github.com/crimecast/crimecast/internal/metrics"
	"github.com/crimecast/crimecast/internal/pagination"
	"github.com/crimecast/crimecast/internal/traces"
)

// Action tags what happened.
type Action string

const (
	ActionSignup         Action = "signup"
	ActionLogin          Action = "login"
	ActionLogout         Action = "logout"
	ActionProfileUpdate  Action = "profile_update"
	ActionPasswordChange Action = "password_change"
	ActionStatusChange   Action = "status_change"
	ActionAccountDeleted Action = "account_deleted"
)

// Placeholders for unknown request metadata.
const (
	DefaultContext       = "N/A"
	DefaultSourceAddress = "unknown"
)

// List limits.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// Entry is one immutable audit fact.
type Entry struct {
	ID            int64     `json:"id"`
	AccountID     *int64    `json:"accountId,omitempty"`
	Email         string    `json:"email,omitempty"`
	Action        Action    `json:"action"`
	Context       string    `json:"context"`
	SourceAddress string    `json:"sourceAddress"`
	Timestamp     time.Time `json:"timestamp"`
}

// Source is the request metadata attached to an entry.
type Source struct {
	Address string
	Context string
}

// Store persists entries.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	// List returns the newest entries first (timestamp, then id, descending).
	List(ctx context.Context, limit int) ([]*Entry, error)
	// ListBefore continues a List from the entry keyed by before, exclusive.
	ListBefore(ctx context.Context, before pagination.Cursor, limit int) ([]*Entry, error)
}

// Publisher forwards entries to an external sink.
type Publisher interface {
	Publish(ctx context.Context, e *Entry)
}

// Logger writes entries to a store, the application log and an optional
// publisher.
type Logger struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewLogger creates an audit logger. publisher may be nil.
func NewLogger(store Store, publisher Publisher, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Record appends one entry. accountID may be nil for anonymous actions.
// A nil Logger is a no-op.
func (l *Logger) Record(ctx context.Context, accountID *int64, email string, action Action, src Source) {
	if l == nil {
		return
	}
	ctx, span := traces.StartSpan(ctx, "audit.Record", traces.AuditAction(string(action)))
	defer span.End()

	e := &Entry{
		AccountID:     accountID,
		Email:         email,
		Action:        action,
		Context:       src.Context,
		SourceAddress: src.Address,
		Timestamp:     l.now().UTC(),
	}
	if e.Context == "" {
		e.Context = DefaultContext
	}
	if e.SourceAddress == "" {
		e.SourceAddress = DefaultSourceAddress
	}

	attrs := []any{"audit", true, "action", e.Action, "source", e.SourceAddress, "context", e.Context}
	if accountID != nil {
		attrs = append(attrs, "account_id", *accountID)
	}
	logging.L(ctx).Info("audit event", attrs...)

	if l.store != nil {
		if err := l.store.Append(ctx, e); err != nil {
			metrics.AuditWritesTotal.WithLabelValues("store", "error").Inc()
			span.RecordError(err)
			l.logger.Error("failed to store audit entry", "error", err, "action", e.Action)
		} else {
			metrics.AuditWritesTotal.WithLabelValues("store", "ok").Inc()
		}
	}
	if l.publisher != nil {
		l.publisher.Publish(ctx, e)
	}
}

// List returns the most recent entries. limit is clamped to [1, MaxListLimit];
// zero or negative means DefaultListLimit.
func (l *Logger) List(ctx context.Context, limit int) ([]*Entry, error) {
	return l.store.List(ctx, ClampLimit(limit))
}

// Page is one slice of a newest-first walk over the log.
type Page struct {
	Entries    []*Entry
	NextCursor string
	HasMore    bool
}

// ListPage returns up to limit entries older than cursor. An empty cursor
// starts from the newest entry. Malformed cursors yield
// pagination.ErrInvalidCursor.
func (l *Logger) ListPage(ctx context.Context, cursor string, limit int) (*Page, error) {
	before, err := pagination.Decode(cursor)
	if err != nil {
		return nil, err
	}
	limit = ClampLimit(limit)

	var entries []*Entry
	if before == nil {
		entries, err = l.store.List(ctx, limit+1)
	} else {
		entries, err = l.store.ListBefore(ctx, *before, limit+1)
	}
	if err != nil {
		return nil, err
	}

	entries, next, more := pagination.ComputePage(entries, limit, func(e *Entry) (time.Time, int64) {
		return e.Timestamp, e.ID
	})
	return &Page{Entries: entries, NextCursor: next, HasMore: more}, nil
}

// ClampLimit normalizes a caller-supplied list limit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}
