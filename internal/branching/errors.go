package branching

import (
	"fmt"
	"time"
)

// EndpointUnavailableError means a branch's compute never became ready within
// the caller's wait budget. The manager does not retry past the budget; the
// caller decides whether to try again with a larger one.
type EndpointUnavailableError struct {
	BranchID string
	Waited   time.Duration
}

func (e *EndpointUnavailableError) Error() string {
	return fmt.Sprintf("no endpoint available for branch %q after %s", e.BranchID, e.Waited)
}

// CredentialError means token minting failed. Surfaced immediately, never retried.
type CredentialError struct {
	Endpoint string
	Err      error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("generate credential for endpoint %q: %v", e.Endpoint, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// ConnectionError means the session could not be established after a
// credential was obtained.
type ConnectionError struct {
	BranchID string
	Host     string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to branch %q at %s: %v", e.BranchID, e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DefaultBranchProtectedError means the target of a delete (or of a
// destructive re-create) is the project's default branch.
type DefaultBranchProtectedError struct {
	BranchID string
}

func (e *DefaultBranchProtectedError) Error() string {
	return fmt.Sprintf("branch %q is the default branch and cannot be deleted", e.BranchID)
}

// BranchDeletionFailedError means the service rejected a deletion for any
// reason other than default-branch protection.
type BranchDeletionFailedError struct {
	BranchID string
	Err      error
}

func (e *BranchDeletionFailedError) Error() string {
	return fmt.Sprintf("delete branch %q: %v", e.BranchID, e.Err)
}

func (e *BranchDeletionFailedError) Unwrap() error { return e.Err }
