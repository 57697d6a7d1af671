package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateID generates a short prefixed identifier
func GenerateID(prefix string) string {
	id := uuid.New().String()

	return fmt.Sprintf("%s-%s", prefix, id[:8])
}

// NewIdempotencyKey returns a key for the Idempotency-Key header
func NewIdempotencyKey() string {
	return uuid.NewString()
}

// GetCurrentTime returns the current time in UTC
func GetCurrentTime() time.Time {
	return time.Now().UTC()
}
