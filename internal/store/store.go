// Package store defines the durable record store the aggregator writes
// finalized generations to, with Redis and in-memory implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/inferflow/inferflow/internal/usage"
)

var ErrNotFound = errors.New("store: record not found")

// Record statuses over the generation lifecycle.
const (
	StatusQueued    = "queued"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Record is one generation request and its eventual result, keyed by
// correlation id.
type Record struct {
	CorrelationID string        `json:"correlationId"`
	OwnerKey      string        `json:"ownerKey,omitempty"`
	ModelName     string        `json:"modelName,omitempty"`
	Prompt        string        `json:"prompt,omitempty"`
	Response      string        `json:"response"`
	Status        string        `json:"status"`
	Error         string        `json:"error,omitempty"`
	Result        *usage.Record `json:"result,omitempty"`
	IsCompleted   bool          `json:"isCompleted"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Update carries the fields written at terminal-chunk time. Nil fields are
// left untouched.
type Update struct {
	Response    *string
	Status      *string
	Error       *string
	Result      *usage.Record
	IsCompleted *bool
}

// Store is the durable collaborator the protocol persists through.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	UpdateByID(ctx context.Context, correlationID string, update Update) error
	GetByID(ctx context.Context, correlationID string) (*Record, error)
	GetAllByOwnerKey(ctx context.Context, ownerKey string) ([]*Record, error)
}

func (u Update) applyTo(rec *Record) {
	if u.Response != nil {
		rec.Response = *u.Response
	}
	if u.Status != nil {
		rec.Status = *u.Status
	}
	if u.Error != nil {
		rec.Error = *u.Error
	}
	if u.Result != nil {
		rec.Result = u.Result
	}
	if u.IsCompleted != nil {
		rec.IsCompleted = *u.IsCompleted
	}
	rec.UpdatedAt = time.Now().UTC()
}

// Ptr is a small helper for building Updates.
func Ptr[T any](v T) *T { return &v }
