// Package pagination implements keyset paging over newest-first lists
// ordered by (created_at DESC, id DESC).
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCursor is returned by Parse for malformed cursors.
var ErrInvalidCursor = errors.New("invalid cursor")

const cursorVersion = "v1"

// Cursor is the position of the last row a client has seen.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// At returns the cursor positioned on a row.
func At(createdAt time.Time, id string) *Cursor {
	return &Cursor{CreatedAt: createdAt.UTC(), ID: id}
}

// String encodes the cursor as an opaque URL-safe token.
func (c *Cursor) String() string {
	raw := cursorVersion + ":" + strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + ":" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Precedes reports whether a row sorts strictly after the cursor, that is,
// whether it belongs on the next page.
func (c *Cursor) Precedes(createdAt time.Time, id string) bool {
	if createdAt.Equal(c.CreatedAt) {
		return id < c.ID
	}
	return createdAt.Before(c.CreatedAt)
}

// Parse decodes a token produced by String. An empty token yields a nil
// cursor, meaning the first page.
func Parse(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	parts := strings.SplitN(string(raw), ":", 3)
	if len(parts) != 3 || parts[0] != cursorVersion || parts[2] == "" {
		return nil, ErrInvalidCursor
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return At(time.Unix(0, nanos), parts[2]), nil
}

// Page is one slice of a listing.
type Page[T any] struct {
	Items      []T
	NextCursor string
	HasMore    bool
}

// NewPage trims rows fetched with limit+1 down to limit and derives the
// next cursor from the last row kept. Items is never nil.
func NewPage[T any](rows []T, limit int, key func(T) (time.Time, string)) Page[T] {
	if limit <= 0 || len(rows) <= limit {
		if rows == nil {
			rows = []T{}
		}
		return Page[T]{Items: rows}
	}
	rows = rows[:limit]
	createdAt, id := key(rows[len(rows)-1])
	return Page[T]{Items: rows, NextCursor: At(createdAt, id).String(), HasMore: true}
}

// Limit is the page-size contract of one endpoint.
type Limit struct {
	Default int
	Max     int
}

// Parse reads a limit query value. Empty or invalid input yields Default;
// values above Max are clamped.
func (l Limit) Parse(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return l.Default
	}
	return min(n, l.Max)
}
