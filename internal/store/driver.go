// Package store provides persistence primitives and driver abstractions.
package store

import (
	"context"
	"errors"
)

// Common errors for store operations.
var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("store closed")
)

// Well-known slot keys. Each slot holds one JSON document.
const (
	SlotPreferences        = "preferences"
	SlotConnectivity       = "connectivity"
	SlotFavoriteCategories = "favorite_categories"
	SlotFavoritePapers     = "favorite_papers"
	SlotUserID             = "user_id"
)

// Driver defines the interface for a persistence backend.
// Implementations must be safe for concurrent use.
type Driver interface {
	// Init initializes the driver (create tables, load data, etc).
	Init(ctx context.Context) error

	// Close releases resources held by the driver.
	Close() error

	// Name returns the driver name (json, sqlite).
	Name() string

	// Get retrieves the raw document stored under key.
	// Returns ErrNotFound when the slot is empty.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores the raw document under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes the document under key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists all keys that currently hold a document.
	Keys(ctx context.Context) ([]string, error)
}
