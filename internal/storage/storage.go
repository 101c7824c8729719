// Package storage defines the document store contract the generator server
// uses to persist table documents. The engine itself never touches a store;
// the host loads documents from one and hands them to the engine.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a document id is not in the store.
var ErrNotFound = errors.New("document not found")

// Record is one persisted document with its indexing metadata. Raw holds
// the document as JSON; the API stores the decoded document re-encoded in
// canonical JSON form, not the uploaded bytes.
type Record struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Namespace string    `json:"namespace" db:"namespace"`
	Version   string    `json:"version" db:"version"`
	Raw       []byte    `json:"raw" db:"raw"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// DocumentStore persists documents by id.
type DocumentStore interface {
	// Put inserts or replaces a record, returning the stored form with
	// timestamps filled in.
	Put(ctx context.Context, rec Record) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	List(ctx context.Context) ([]Record, error)
	Delete(ctx context.Context, id string) error
	Close() error
}
