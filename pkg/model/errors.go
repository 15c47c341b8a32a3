package model

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrClassification means the provider failed or returned an unparseable intent
	ErrClassification = goerr.New("classification failed")

	// ErrGeneration means the completion provider failed inside an agent
	ErrGeneration = goerr.New("generation failed")

	// ErrSanitization means a generated statement failed the read-only gate
	ErrSanitization = goerr.New("statement rejected by sanitizer")

	// ErrExecution means the relational store rejected a statement
	ErrExecution = goerr.New("statement execution failed")

	// ErrRetrievalUnavailable means the vector store could not provide documents
	ErrRetrievalUnavailable = goerr.New("retrieval unavailable")

	// ErrCollectionNotFound means the vector collection does not exist
	ErrCollectionNotFound = goerr.New("collection not found")
)
