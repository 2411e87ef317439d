package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMissingCredentials = errors.New("api key and secret are required")
	ErrNoToken            = errors.New("provider returned no access token")
	ErrSubmissionRejected = errors.New("provider did not return a response id")
	ErrEmptyResult        = errors.New("provider returned an empty transaction list")
	ErrEntryNotFound      = errors.New("ledger entry not found")
	ErrAccountNotFound    = errors.New("account not found at provider")
	ErrCompanyNotFound    = errors.New("company not found at provider")
)

// ProviderError is any non-2xx HTTP response from the provider. Never
// retried at the transport layer.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// JobFailedError is raised when a submitted job reports the erroneo state.
type JobFailedError struct {
	ResponseID  string
	Description string
}

func (e *JobFailedError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("job %s failed at provider", e.ResponseID)
	}
	return fmt.Sprintf("job %s failed at provider: %s", e.ResponseID, e.Description)
}

// CodecError is a payload decryption or decoding failure. Fatal for that
// payload; callers at the callback boundary absorb it and mark the entry
// errored instead of propagating.
type CodecError struct {
	Op  string
	Err error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("codec %s: %v", e.Op, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}
