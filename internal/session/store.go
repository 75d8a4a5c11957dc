package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no live session exists for an id, or the requested key is absent
var ErrNotFound = errors.New("session not found")

// Values is the content of one server-side session
type Values map[string]string

func (v Values) clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Store is a short-lived key-value store for server-side sessions.
// Entries expire after the ttl passed to Set.
type Store interface {
	Get(ctx context.Context, id string) (Values, error)
	Set(ctx context.Context, id string, values Values, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
	Close() error
}
