/*
Copyright 2024 The Kubeflow authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    https://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package dispatcher

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorKind classifies dispatch failures.
type ErrorKind string

const (
	// ErrorKindConfiguration is a bad or missing template or request field. Never retried.
	ErrorKindConfiguration ErrorKind = "Configuration"
	// ErrorKindAuthentication is a failure to resolve the cluster connection. Never retried
	// locally; the caller's retry policy applies.
	ErrorKindAuthentication ErrorKind = "Authentication"
	// ErrorKindConflict means the run already exists or an earlier run is still active. It
	// surfaces as StatusAlreadyRunning, never as a failed result.
	ErrorKindConflict ErrorKind = "Conflict"
	// ErrorKindTransient is a network failure, throttling, timeout or 5xx from the cluster API.
	ErrorKindTransient ErrorKind = "Transient"
	// ErrorKindDispatch is a terminal dispatch failure: exhausted retries, the local timeout,
	// or a request the cluster API rejected.
	ErrorKindDispatch ErrorKind = "Dispatch"
)

// Reasons refine an ErrorKind.
const (
	ReasonInvalidRequest   = "InvalidRequest"
	ReasonUnknownTemplate  = "UnknownTemplate"
	ReasonInvalidTemplate  = "InvalidTemplate"
	ReasonTemplateSource   = "TemplateSourceUnavailable"
	ReasonCredentials      = "CredentialResolutionFailed"
	ReasonUnauthorized     = "Unauthorized"
	ReasonAlreadyExists    = "AlreadyExists"
	ReasonConcurrentRun    = "ConcurrentRun"
	ReasonServerError      = "ServerError"
	ReasonRetriesExhausted = "RetriesExhausted"
	ReasonRejected         = "Rejected"
	ReasonTimeout          = "Timeout"
	ReasonCancelled        = "Cancelled"
	ReasonInternal         = "Internal"
)

// ErrTimeout is the cause of every dispatch that ran out of its time budget.
var ErrTimeout = errors.New("dispatch timed out")

// Error is the structured error of a dispatch.
type Error struct {
	Kind    ErrorKind
	Reason  string
	Message string
	Cause   error
}

func newError(kind ErrorKind, reason string, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Reason:  reason,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%sError: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%sError: %s: %v", e.Kind, e.Message, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// MarshalJSON renders the error with its cause as a string.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := struct {
		Kind    ErrorKind `json:"kind"`
		Reason  string    `json:"reason,omitempty"`
		Message string    `json:"message"`
		Cause   string    `json:"cause,omitempty"`
	}{
		Kind:    e.Kind,
		Reason:  e.Reason,
		Message: e.Message,
	}
	if e.Cause != nil {
		out.Cause = e.Cause.Error()
	}
	return json.Marshal(out)
}

// IsKind reports whether err is, or wraps, an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
