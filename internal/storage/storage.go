// Package storage provides the two key/value tiers credentials live in: a
// process-scoped ephemeral tier and a sqlite-backed durable tier shared by
// every instance on the machine.
package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("key not found")

// KV is a flat string key/value store. Every Set and Delete is a single
// atomic write.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Lookup returns the value under key, or "" when it is absent.
func Lookup(ctx context.Context, kv KV, key string) (string, error) {
	value, err := kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return value, err
}
