package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write would violate a uniqueness rule.
var ErrConflict = errors.New("conflict")

// BaseModel carries the columns shared by every persisted record.
type BaseModel struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GenNewID returns a time-ordered UUID (v7) so primary keys sort by creation.
func GenNewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// UTCDate formats t as the YYYY-MM-DD key used for daily counters.
func UTCDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
