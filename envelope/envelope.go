// Package envelope defines the stored-value envelope: a small record
// pairing raw bytes with an optional absolute expiry timestamp, shared by
// every Storage implementation.
package envelope

import (
	"fmt"
	"time"
)

// Envelope pairs stored bytes with an optional expiry. ExpiresAt is nil
// for entries that never expire; when set it is guaranteed strictly after
// the envelope's creation time.
type Envelope struct {
	Data      []byte     `json:"data"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// New builds an Envelope for data. expiresIn is the TTL: zero means "never
// expires"; a positive duration sets ExpiresAt to now+expiresIn. A
// negative duration is a caller error.
func New(data []byte, expiresIn time.Duration) (*Envelope, error) {
	if expiresIn < 0 {
		return nil, fmt.Errorf("envelope: expires_in must be >= 0, got %s", expiresIn)
	}
	e := &Envelope{Data: data}
	if expiresIn > 0 {
		t := time.Now().UTC().Add(expiresIn)
		e.ExpiresAt = &t
	}
	return e, nil
}

// Expired reports whether e should be treated as absent: it has an expiry
// and the current time is at or past it.
func (e *Envelope) Expired() bool {
	return e.ExpiresAt != nil && !time.Now().UTC().Before(*e.ExpiresAt)
}
