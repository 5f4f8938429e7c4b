package storage

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"pkt.systems/lockstore/internal/uuidv7"
)

// Lock is a short-lived ownership token over one (item type, identifier)
// pair. The token is unique and unguessable per acquisition; AcquiredAt is
// diagnostic only — locks never expire on their own, and a lock abandoned by
// a crashed holder stays held until an operator calls ForceUnlock.
//
// A Lock is valid only relative to backend state: the backend is the single
// source of truth for which token currently holds the lock.
type Lock struct {
	Token      string    `json:"token"`
	ID         string    `json:"id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// NewLock mints a lock for the identifier's text form with a fresh UUIDv7
// token and the current UTC time.
func NewLock(idText string) Lock {
	return Lock{
		Token:      uuidv7.NewString(),
		ID:         idText,
		AcquiredAt: time.Now().UTC(),
	}
}

// String renders the lock for diagnostics; backends use it for DisplayLock.
func (l Lock) String() string {
	if l.Token == "" {
		return ""
	}
	return fmt.Sprintf("locked %s: token=%s acquired=%s (%s)",
		l.ID, l.Token, l.AcquiredAt.Format(time.RFC3339), humanize.Time(l.AcquiredAt))
}
