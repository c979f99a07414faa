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
	"time"
)

// Request is a trigger request. It is never modified by the dispatcher.
type Request struct {
	// JobID identifies what produced the request, e.g. a cron job name or an event id.
	JobID string
	// JobType is passed to the workload, e.g. check or extract.
	JobType string
	// Namespace of the run. Empty selects the configured namespace.
	Namespace string
	// Environment tag of the run. Empty selects the configured environment.
	Environment string
	// Template names the workload template. Empty selects the configured default template.
	Template string
	// ScheduleWindow is the firing the run belongs to. Zero derives it from the clock.
	ScheduleWindow time.Time
	// TriggeredBy is recorded on the run, e.g. eventbridge or scheduler.
	TriggeredBy string
}

// Status is the outcome of a dispatch.
type Status string

const (
	StatusSucceeded      Status = "succeeded"
	StatusAlreadyRunning Status = "already-running"
	StatusFailed         Status = "failed"
)

// Phase is a state of a single dispatch.
type Phase string

const (
	PhaseReceived       Phase = "Received"
	PhaseResolving      Phase = "Resolving"
	PhaseChecking       Phase = "Checking"
	PhaseAlreadyRunning Phase = "AlreadyRunning"
	PhaseSubmitting     Phase = "Submitting"
	PhaseSubmitted      Phase = "Submitted"
	PhaseFailed         Phase = "Failed"
)

// Result is the outcome record of one dispatch.
type Result struct {
	Status Status `json:"status"`
	// Phase is the terminal phase: Submitted, AlreadyRunning or Failed.
	Phase Phase `json:"phase"`
	// FailedPhase is the phase a failed dispatch stopped in.
	FailedPhase Phase  `json:"failedPhase,omitempty"`
	Message     string `json:"message"`
	Error       *Error `json:"error,omitempty"`

	// ResourceName is the name of the created run, or of the run that made this one redundant.
	ResourceName string `json:"resourceName,omitempty"`
	Namespace    string `json:"namespace"`
	Template     string `json:"template"`
	JobID        string `json:"jobId,omitempty"`
	JobType      string `json:"jobType,omitempty"`
	Environment  string `json:"environment,omitempty"`
	RunID        string `json:"runId,omitempty"`

	ScheduleWindow time.Time `json:"scheduleWindow"`
	// SubmittedAt is when the run was created. For already-running results it is read back
	// from the existing run when available.
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
	// ApplicationState is the state of the existing run for already-running results.
	ApplicationState string `json:"applicationState,omitempty"`
	// Attempts counts the check-and-create rounds made against the cluster API.
	Attempts int `json:"attempts"`
}

// Failed reports whether the dispatch failed.
func (r Result) Failed() bool {
	return r.Status == StatusFailed
}

// ErrorKind returns the kind of the failure, or an empty string.
func (r Result) ErrorKind() string {
	if r.Error == nil {
		return ""
	}
	return string(r.Error.Kind)
}
