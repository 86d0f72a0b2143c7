package embed

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/aws/smithy-go"
)

// Kind classifies an embedding failure. It decides whether the pipeline
// retries the item, gives up on it, or pauses the whole pool.
type Kind string

const (
	// RateLimited means the service throttled this request; retry with backoff.
	RateLimited Kind = "RateLimited"
	// InvalidInput means the content can never be embedded (empty, unsupported,
	// missing); terminal for the item.
	InvalidInput Kind = "InvalidInput"
	// ServiceUnavailable means the service is degraded; retry with backoff.
	ServiceUnavailable Kind = "ServiceUnavailable"
	// TransientNetwork covers timeouts and connection failures; retry.
	TransientNetwork Kind = "TransientNetwork"
	// QuotaExceeded means an account-level quota is exhausted; the whole pool
	// cools down, since every worker shares the quota.
	QuotaExceeded Kind = "QuotaExceeded"
)

// Error is an embedding failure with a classification.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether retrying the same call could succeed.
func (e *Error) Retryable() bool { return e.Kind != InvalidInput }

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Classify maps an error from the embed leg (content fetch or model
// invocation) onto the failure taxonomy. Already-classified errors pass
// through unchanged.
func Classify(err error) *Error {
	var ee *Error
	if errors.As(err, &ee) {
		return ee
	}

	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException", "ThrottledException", "SlowDown":
			return &Error{Kind: RateLimited, Err: err}
		case "ServiceQuotaExceededException":
			return &Error{Kind: QuotaExceeded, Err: err}
		case "ServiceUnavailableException", "InternalServerException", "ModelNotReadyException":
			return &Error{Kind: ServiceUnavailable, Err: err}
		case "ModelTimeoutException", "RequestTimeout", "RequestTimeoutException":
			return &Error{Kind: TransientNetwork, Err: err}
		// Credential-shaped failures are client faults on the wire, but a
		// token refresh fixes them; they must not terminally fail items.
		case "ExpiredToken", "ExpiredTokenException", "InvalidSignatureException", "UnrecognizedClientException":
			return &Error{Kind: TransientNetwork, Err: err}
		case "ValidationException", "ModelErrorException", "AccessDeniedException", "NoSuchKey", "NotFoundException", "ResourceNotFoundException":
			return &Error{Kind: InvalidInput, Err: err}
		}
		if ae.ErrorFault() == smithy.FaultServer {
			return &Error{Kind: ServiceUnavailable, Err: err}
		}
		return &Error{Kind: InvalidInput, Err: err}
	}

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &Error{Kind: InvalidInput, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: TransientNetwork, Err: err}
	}
	return &Error{Kind: TransientNetwork, Err: err}
}
