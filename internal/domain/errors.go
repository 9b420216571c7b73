// Package domain provides the shared error taxonomy for plan execution.
package domain

import "errors"

// Structural errors. Detected before or at step dispatch; they abort the
// run immediately and are never retried.
var (
	// ErrDuplicateIdentifier indicates an agent or task was registered twice.
	ErrDuplicateIdentifier = errors.New("duplicate identifier")

	// ErrUnknownTask indicates a step targets a task that is not registered.
	ErrUnknownTask = errors.New("unknown task")

	// ErrUnresolvedReference indicates a binding references a step output or
	// loop variable that has not been produced in this run.
	ErrUnresolvedReference = errors.New("unresolved reference")

	// ErrDuplicateBinding indicates the same step id was bound twice within one run.
	ErrDuplicateBinding = errors.New("duplicate binding")

	// ErrMalformedPayload indicates an inbound sub-plan payload is missing
	// fields or cannot be decoded.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrInvalidSignature indicates an inbound sub-plan signature did not verify.
	ErrInvalidSignature = errors.New("invalid signature")
)

// Execution errors.
var (
	// ErrLoopBoundExceeded indicates a loop ran past the configured maximum
	// iteration count.
	ErrLoopBoundExceeded = errors.New("loop bound exceeded")

	// ErrBackendTimeout indicates a hosted or external call exceeded its deadline.
	ErrBackendTimeout = errors.New("backend timeout")

	// ErrBackendUnavailable indicates the hosted or external agent could not
	// be reached.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrRemoteExecution indicates the backend reported an application-level
	// failure. The remote detail is carried verbatim in the wrapping error.
	ErrRemoteExecution = errors.New("remote execution error")

	// ErrCancelled indicates the run was cancelled between steps.
	ErrCancelled = errors.New("cancelled")
)

// kinds maps sentinel errors to their wire-visible names.
var kinds = map[error]string{
	ErrDuplicateIdentifier: "DuplicateIdentifier",
	ErrUnknownTask:         "UnknownTask",
	ErrUnresolvedReference: "UnresolvedReference",
	ErrDuplicateBinding:    "DuplicateBinding",
	ErrMalformedPayload:    "MalformedPayload",
	ErrInvalidSignature:    "InvalidSignature",
	ErrLoopBoundExceeded:   "LoopBoundExceeded",
	ErrBackendTimeout:      "BackendTimeout",
	ErrBackendUnavailable:  "BackendUnavailable",
	ErrRemoteExecution:     "RemoteExecutionError",
	ErrCancelled:           "Cancelled",
}

// Kind returns the taxonomy name for err, or "Internal" when err does not
// wrap any sentinel.
func Kind(err error) string {
	for sentinel, name := range kinds {
		if errors.Is(err, sentinel) {
			return name
		}
	}
	return "Internal"
}

// ByKind returns the sentinel for a wire-visible kind name, or nil when the
// name is not part of the taxonomy. Used to map error kinds reported by a
// remote agent back onto local sentinels.
func ByKind(name string) error {
	for sentinel, n := range kinds {
		if n == name {
			return sentinel
		}
	}
	return nil
}
