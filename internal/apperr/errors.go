package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig marks bad parameters. It is fatal and surfaced immediately.
	ErrConfig = errors.New("invalid config")

	// ErrExternalService marks failures of embedding, completion or web-fetch calls.
	ErrExternalService = errors.New("external service error")

	// ErrPartialIngestion marks a single document or page that could not be ingested.
	ErrPartialIngestion = errors.New("partial ingestion")

	// ErrIndexUnavailable marks a managed index that cannot be reached.
	// Index selection falls back to the in-process index on this error.
	ErrIndexUnavailable = errors.New("index unavailable")
)

// ExternalServiceError names the service that failed so that failure reasons
// read like "embedding service: ...".
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s service: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func (e *ExternalServiceError) Is(target error) bool {
	return target == ErrExternalService
}

// External wraps err as a failure of the named service. A nil err stays nil.
func External(service string, err error) error {
	if err == nil {
		return nil
	}
	var ext *ExternalServiceError
	if errors.As(err, &ext) && ext.Service == service {
		return err
	}
	return &ExternalServiceError{Service: service, Err: err}
}

type PartialIngestionError struct {
	SourceID string
	Err      error
}

func (e *PartialIngestionError) Error() string {
	return fmt.Sprintf("ingestion of %s failed: %v", e.SourceID, e.Err)
}

func (e *PartialIngestionError) Unwrap() error { return e.Err }

func (e *PartialIngestionError) Is(target error) bool {
	return target == ErrPartialIngestion
}

// Configf builds an ErrConfig with a formatted detail.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// Unavailable wraps err with ErrIndexUnavailable.
func Unavailable(backend string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrIndexUnavailable, backend, err)
}
