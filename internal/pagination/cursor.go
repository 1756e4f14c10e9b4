// Package pagination provides keyset cursors over newest-first listings.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is the (timestamp, id) key of the last row a client has seen.
type Cursor struct {
	Timestamp time.Time
	ID        int64
}

// Encode returns an opaque cursor string from a timestamp and ID.
func Encode(ts time.Time, id int64) string {
	raw := fmt.Sprintf("%d|%d", ts.UnixNano(), id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses an opaque cursor string. Returns nil for empty input.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	nanosPart, idPart, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, ErrInvalidCursor
	}
	nanos, err := strconv.ParseInt(nanosPart, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return nil, ErrInvalidCursor
	}
	return &Cursor{Timestamp: time.Unix(0, nanos).UTC(), ID: id}, nil
}

// Older reports whether the row keyed (ts, id) comes after c in a
// newest-first listing. A nil cursor admits every row.
func (c *Cursor) Older(ts time.Time, id int64) bool {
	if c == nil {
		return true
	}
	if !ts.Equal(c.Timestamp) {
		return ts.Before(c.Timestamp)
	}
	return id < c.ID
}

// ComputePage takes a slice of items (fetched with limit+1), the requested limit,
// and a function to extract (timestamp, id) from the last item.
// Returns the trimmed items, next cursor, and has_more flag.
func ComputePage[T any](items []T, limit int, extractKey func(T) (time.Time, int64)) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	ts, id := extractKey(items[len(items)-1])
	return items, Encode(ts, id), true
}
