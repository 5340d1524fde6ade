// Package coordinator implements the HITL approval state machine: request,
// approve, reject, and steer a drafted Action through to execution, with an
// append-only audit trail as the sole source of causal truth per thread.
package coordinator

import "github.com/pkg/errors"

// NotFound reports a missing action, approval, or thread.
type NotFound struct {
	Resource string
	ID       string
}

func (e *NotFound) Error() string {
	return "not found: " + e.Resource + " " + e.ID
}

// Conflict reports an illegal state transition, e.g. steer after execution.
type Conflict struct {
	Reason string
}

func (e *Conflict) Error() string { return "conflict: " + e.Reason }

// IntegrationFailure wraps an external provider or chat call failure.
type IntegrationFailure struct {
	Provider string
	Status   string
	Message  string
}

func (e *IntegrationFailure) Error() string {
	return "integration failure: provider=" + e.Provider + " status=" + e.Status + ": " + e.Message
}

// CredentialFailure reports a missing or unrefreshable OAuth token.
type CredentialFailure struct {
	Owner   string
	Message string
}

func (e *CredentialFailure) Error() string {
	return "credential failure: owner=" + e.Owner + ": " + e.Message
}

// SignatureFailure reports a rejected webhook signature.
type SignatureFailure struct {
	Reason string
}

func (e *SignatureFailure) Error() string { return "signature failure: " + e.Reason }

// InvariantViolation guards against an internal bug, e.g. an inconsistent
// status pair about to be persisted. Never mutates state; the caller must
// abort the transaction.
type InvariantViolation struct {
	Detail string
}

func (e *InvariantViolation) Error() string { return "invariant violation: " + e.Detail }

func newNotFound(resource, id string) error   { return errors.WithStack(&NotFound{Resource: resource, ID: id}) }
func newConflict(reason string) error         { return errors.WithStack(&Conflict{Reason: reason}) }
func newInvariant(detail string) error        { return errors.WithStack(&InvariantViolation{Detail: detail}) }

// AsNotFound reports whether err (or a wrapped cause) is a NotFound.
func AsNotFound(err error) (*NotFound, bool) {
	var nf *NotFound
	ok := errors.As(err, &nf)
	return nf, ok
}

// AsConflict reports whether err (or a wrapped cause) is a Conflict.
func AsConflict(err error) (*Conflict, bool) {
	var c *Conflict
	ok := errors.As(err, &c)
	return c, ok
}

// AsIntegrationFailure reports whether err (or a wrapped cause) is an IntegrationFailure.
func AsIntegrationFailure(err error) (*IntegrationFailure, bool) {
	var f *IntegrationFailure
	ok := errors.As(err, &f)
	return f, ok
}
