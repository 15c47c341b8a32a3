package repository

import (
	"context"

	"github.com/camuchapp/storeassist/pkg/model"
)

// VectorStore resolves named collections of embedded documents
type VectorStore interface {
	// Collection returns a handle of an existing collection or model.ErrCollectionNotFound
	Collection(ctx context.Context, name string) (VectorCollection, error)

	// EnsureCollection returns a handle, creating the collection when it does not exist
	EnsureCollection(ctx context.Context, name string) (VectorCollection, error)
}

// VectorCollection is a single collection of documents
type VectorCollection interface {
	// Query returns up to k documents nearest to vector, most similar first
	Query(ctx context.Context, vector []float32, k int) ([]*model.Document, error)

	// Upsert inserts or replaces documents by ID
	Upsert(ctx context.Context, docs []*model.Document) error
}

// HistoryStore keeps the recent messages of conversation sessions
type HistoryStore interface {
	// Load returns messages of the session, oldest first. Unknown sessions yield an empty slice.
	Load(ctx context.Context, sessionID string) ([]model.Message, error)

	// Append adds messages to the session and trims it to the configured maximum
	Append(ctx context.Context, sessionID string, msgs ...model.Message) error

	// Clear drops the session
	Clear(ctx context.Context, sessionID string) error
}
