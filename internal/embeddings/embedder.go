// Package embeddings maps text to vectors through a pluggable provider.
package embeddings

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable is returned whenever no vector could be produced. Callers
// must never substitute a zero vector.
var ErrUnavailable = errors.New("embedding unavailable")

// Embedder defines the interface for generating text embeddings. The same
// instance must serve ingestion and queries so stored and query vectors share
// a space.
type Embedder interface {
	// Embed returns the vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the number of dimensions in the embedding vectors.
	Dimensions() int

	// Name identifies the embedding model. It is stored with every chunk and
	// acts as the vector space version.
	Name() string
}

// UnavailableError wraps a provider failure. It matches ErrUnavailable with
// errors.Is while keeping the cause reachable for errors.As.
type UnavailableError struct {
	Provider string
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrUnavailable, e.Provider, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

func unavailable(provider string, err error) error {
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return err
	}
	return &UnavailableError{Provider: provider, Err: err}
}

// StatusError is a non-2xx response from an HTTP embedding endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

func checkVector(provider string, v []float32) ([]float32, error) {
	if len(v) == 0 {
		return nil, unavailable(provider, errors.New("provider returned an empty vector"))
	}
	return v, nil
}
