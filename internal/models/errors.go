package models

import (
	"errors"
	"fmt"
)

// Error kinds. Callers classify failures with errors.Is against these sentinels.
var (
	// ErrInput means the query image is missing, unreadable, or undecodable.
	ErrInput = errors.New("invalid input image")
	// ErrFetch means an image locator could not be resolved to an image.
	ErrFetch = errors.New("image fetch failed")
	// ErrEmbedding means the embedding model failed or produced an invalid vector.
	ErrEmbedding = errors.New("embedding failed")
	// ErrStoreIntegrity means the persisted store is missing, empty, or misaligned.
	ErrStoreIntegrity = errors.New("embedding store integrity violated")
	// ErrStoreNotLoaded means a search ran before any store was loaded.
	ErrStoreNotLoaded = errors.New("embedding store not loaded")
)

// KindError attaches an error kind and the failing operation to an underlying error.
// Both the kind and the cause are reachable through errors.Is and errors.As.
type KindError struct {
	Kind error
	Op   string
	Err  error
}

func (e *KindError) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	case e.Op == "":
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *KindError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// InputError wraps err as ErrInput.
func InputError(op string, err error) error {
	return &KindError{Kind: ErrInput, Op: op, Err: err}
}

// FetchError wraps err as ErrFetch.
func FetchError(op string, err error) error {
	return &KindError{Kind: ErrFetch, Op: op, Err: err}
}

// EmbeddingError wraps err as ErrEmbedding.
func EmbeddingError(op string, err error) error {
	return &KindError{Kind: ErrEmbedding, Op: op, Err: err}
}

// StoreIntegrityError wraps err as ErrStoreIntegrity.
func StoreIntegrityError(op string, err error) error {
	return &KindError{Kind: ErrStoreIntegrity, Op: op, Err: err}
}
