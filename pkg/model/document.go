package model

import "cloud.google.com/go/firestore"

// Document is an entry of the vector store
type Document struct {
	ID        string             `firestore:"id"`
	Text      string             `firestore:"text"`
	Metadata  map[string]any     `firestore:"metadata"`
	Embedding firestore.Vector32 `firestore:"embedding"`

	// Similarity is filled on query results only
	Similarity float64 `firestore:"-"`
}
