// Package store writes embedding vectors into a vector index.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// IndexSpec describes the target index's contract. Every vector must match
// Dimension before it may be written.
type IndexSpec struct {
	VectorBucket   string
	IndexName      string
	Dimension      int
	DistanceMetric string
	NonFilterable  []string
}

// PutItem is one (key, vector, metadata) tuple bound for the index.
type PutItem struct {
	Key      string
	Vector   []float32
	Metadata map[string]any
}

// Outcome is the per-item result of a batch write. A nil Err means the
// vector is stored.
type Outcome struct {
	Key string
	Err error
}

// Writer upserts a batch of vectors keyed by item key. Re-submitting an
// already-written batch overwrites rather than duplicates, which is what
// makes retries safe. Put returns per-item outcomes; a non-nil error means
// the whole call failed and nothing can be said about individual items.
type Writer interface {
	Put(ctx context.Context, items []PutItem) ([]Outcome, error)
}

// WriteKind classifies a write failure.
type WriteKind string

const (
	// WriteTransient is a retryable store-side failure.
	WriteTransient WriteKind = "WriteTransient"
	// WriteRejected means the store refused the item (malformed metadata,
	// unknown index); terminal for the item.
	WriteRejected WriteKind = "WriteRejected"
	// WriteQuota means a store quota is exhausted; the pool cools down.
	WriteQuota WriteKind = "QuotaExceeded"
)

// WriteError is a classified write failure.
type WriteError struct {
	Kind WriteKind
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Retryable reports whether re-submitting could succeed.
func (e *WriteError) Retryable() bool { return e.Kind != WriteRejected }

// ClassifyWrite maps a store error onto the write failure taxonomy.
func ClassifyWrite(err error) *WriteError {
	var we *WriteError
	if errors.As(err, &we) {
		return we
	}

	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "TooManyRequestsException", "ThrottlingException", "SlowDown":
			return &WriteError{Kind: WriteTransient, Err: err}
		case "ServiceQuotaExceededException":
			return &WriteError{Kind: WriteQuota, Err: err}
		case "ServiceUnavailableException", "InternalServerException":
			return &WriteError{Kind: WriteTransient, Err: err}
		// Credential expiry is recoverable; rejecting the batch would be
		// terminal for items a token refresh saves.
		case "ExpiredToken", "ExpiredTokenException", "InvalidSignatureException", "UnrecognizedClientException", "RequestTimeout":
			return &WriteError{Kind: WriteTransient, Err: err}
		case "ValidationException", "NotFoundException", "AccessDeniedException", "KmsInvalidKeyUsageException", "KmsDisabledException":
			return &WriteError{Kind: WriteRejected, Err: err}
		}
		if ae.ErrorFault() == smithy.FaultServer {
			return &WriteError{Kind: WriteTransient, Err: err}
		}
		return &WriteError{Kind: WriteRejected, Err: err}
	}

	return &WriteError{Kind: WriteTransient, Err: err}
}
