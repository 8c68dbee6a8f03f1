package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey is a durable record backing the X-API-Key auth surface (§6): keys
// are prefixed sk_swarm_ at issuance time (issued by an external collaborator
// per spec.md §1); the core only ever hashes the presented key and looks up
// this record.
type APIKey struct {
	ID        uuid.UUID `json:"id"`
	KeyHash   string    `json:"-"`
	KeyPrefix string    `json:"key_prefix"`
	Scopes    []string  `json:"scopes,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
