package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/snapclass/snapclass/internal/store"
)

// ErrNoReferences is returned when no ingestion has produced reference texts.
var ErrNoReferences = errors.New("no extracted reference texts")

// References are the two texts questions and grading are based on.
type References struct {
	Transcript string
	Document   string
}

// ReferenceLoader yields the current reference texts.
type ReferenceLoader interface {
	References(ctx context.Context) (References, error)
}

// StoreReferences reads the artifacts named by the last recorded ingestion.
type StoreReferences struct {
	Store *store.Store
}

func (s StoreReferences) References(ctx context.Context) (References, error) {
	ing, found, err := s.Store.Ingestion(ctx)
	if err != nil {
		return References{}, err
	}
	if !found {
		return References{}, ErrNoReferences
	}
	transcript, err := os.ReadFile(ing.AudioOutput)
	if err != nil {
		return References{}, fmt.Errorf("%w: read transcript: %v", ErrNoReferences, err)
	}
	document, err := os.ReadFile(ing.DocumentOutput)
	if err != nil {
		return References{}, fmt.Errorf("%w: read document: %v", ErrNoReferences, err)
	}
	return References{Transcript: string(transcript), Document: string(document)}, nil
}

// StaticReferences returns fixed texts.
type StaticReferences References

func (s StaticReferences) References(context.Context) (References, error) {
	return References(s), nil
}
