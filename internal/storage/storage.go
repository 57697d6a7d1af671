package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Keys persisted by the client
const (
	KeyCart              = "cart"
	KeyUser              = "user"
	KeyRecentSearches    = "recentSearches"
	KeyPreferredLanguage = "preferredLanguage"
)

// ErrInvalidKey is returned for keys that cannot be stored safely
var ErrInvalidKey = errors.New("invalid storage key")

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

// Store is durable key/value storage for client state. Values are opaque
// JSON documents.
type Store interface {
	// Load returns the value for key; found is false when nothing is stored
	Load(ctx context.Context, key string) (value []byte, found bool, err error)
	Save(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

func validateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
