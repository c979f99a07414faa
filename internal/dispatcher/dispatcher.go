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

// Package dispatcher submits one SparkApplication per schedule window. A dispatch loads the
// named template, resolves short-lived cluster credentials, checks the cluster for an earlier
// run of the same window and creates the run under a deterministic name, retrying transient
// cluster API failures within a bounded time budget.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/yambo/spark-job-trigger/api/v1beta2"
	"github.com/yambo/spark-job-trigger/internal/cluster"
	"github.com/yambo/spark-job-trigger/internal/controlplane"
	"github.com/yambo/spark-job-trigger/internal/metrics"
	"github.com/yambo/spark-job-trigger/internal/template"
	"github.com/yambo/spark-job-trigger/pkg/common"
	"github.com/yambo/spark-job-trigger/pkg/util"
)

var (
	logger = log.Log.WithName("dispatcher")
)

// DefaultTimeout bounds a dispatch when Options.Timeout is not set.
const DefaultTimeout = 60 * time.Second

// TemplateResolver looks templates up by name.
type TemplateResolver interface {
	// Known reports whether name may be resolved. It must not perform I/O.
	Known(name string) bool
	Resolve(ctx context.Context, req template.Request) (*unstructured.Unstructured, error)
}

// Options configures a Dispatcher. It is fixed for the lifetime of the process.
type Options struct {
	ClusterName string
	// Namespace, Environment and Template fill the corresponding empty request fields.
	Namespace   string
	Environment string
	Template    string

	ConcurrencyPolicy v1beta2.ConcurrencyPolicy
	// Timeout bounds a whole dispatch, retries included.
	Timeout time.Duration
	Retry   RetryPolicy
	// WindowSchedule, if set, derives the window of requests without one from its latest firing.
	WindowSchedule cron.Schedule

	// Negative limits disable pruning of finished runs.
	SuccessfulRunHistoryLimit int
	FailedRunHistoryLimit     int
}

// Dispatcher submits trigger requests to the cluster. It keeps no state between dispatches
// and is safe for concurrent use.
type Dispatcher struct {
	options   Options
	templates TemplateResolver
	resolver  cluster.Resolver
	connector controlplane.Connector

	clock    clock.Clock
	metrics  *metrics.DispatchMetrics
	newRunID func() string
	random   func() float64
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithClock sets the clock used for windows and timestamps.
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) {
		d.clock = c
	}
}

// WithMetrics records every dispatch in m.
func WithMetrics(m *metrics.DispatchMetrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithRunIDGenerator replaces the random run identifier generator.
func WithRunIDGenerator(f func() string) Option {
	return func(d *Dispatcher) {
		d.newRunID = f
	}
}

// WithJitter replaces the source of backoff jitter. f must return values in [0, 1).
func WithJitter(f func() float64) Option {
	return func(d *Dispatcher) {
		d.random = f
	}
}

// New returns a dispatcher.
func New(options Options, templates TemplateResolver, resolver cluster.Resolver, connector controlplane.Connector, opts ...Option) *Dispatcher {
	if options.Timeout <= 0 {
		options.Timeout = DefaultTimeout
	}
	if options.Retry.Attempts < 1 {
		options.Retry = DefaultRetryPolicy()
	}
	if options.ConcurrencyPolicy == "" {
		options.ConcurrencyPolicy = v1beta2.ConcurrencyAllow
	}

	d := &Dispatcher{
		options:   options,
		templates: templates,
		resolver:  resolver,
		connector: connector,
		clock:     clock.RealClock{},
		newRunID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch submits req and returns its outcome. It never panics and never runs longer than
// the configured timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (result Result) {
	start := d.clock.Now()
	log := logger
	defer func() {
		if r := recover(); r != nil {
			result = failed(result, panicked(r))
		}
		d.record(log, result, d.clock.Since(start))
	}()

	req = d.withDefaults(req)
	window := d.scheduleWindow(req)

	result = Result{
		Phase:          PhaseReceived,
		Namespace:      req.Namespace,
		Template:       req.Template,
		JobID:          req.JobID,
		JobType:        req.JobType,
		Environment:    req.Environment,
		ScheduleWindow: window,
	}
	log = logger.WithValues("template", req.Template, "namespace", req.Namespace, "window", FormatWindow(window))
	if req.JobID != "" {
		log = log.WithValues("jobId", req.JobID)
	}

	return d.dispatch(ctx, log, req, result)
}

func (d *Dispatcher) withDefaults(req Request) Request {
	if req.Namespace == "" {
		req.Namespace = d.options.Namespace
	}
	if req.Environment == "" {
		req.Environment = d.options.Environment
	}
	if req.Template == "" {
		req.Template = d.options.Template
	}
	return req
}

// scheduleWindow returns, in order of precedence, the request window, the latest firing of
// the window schedule, or the current minute. Windows are UTC and truncated to the minute.
func (d *Dispatcher) scheduleWindow(req Request) time.Time {
	if !req.ScheduleWindow.IsZero() {
		return req.ScheduleWindow.UTC().Truncate(time.Minute)
	}
	now := d.clock.Now()
	if d.options.WindowSchedule != nil {
		if t, ok := util.PreviousFiring(d.options.WindowSchedule, now); ok {
			return t.UTC().Truncate(time.Minute)
		}
	}
	return now.UTC().Truncate(time.Minute)
}

func validateRequest(req Request) *Error {
	if req.Template == "" {
		return newError(ErrorKindConfiguration, ReasonInvalidRequest, nil, "no template given and no default template configured")
	}
	if msgs := validation.IsDNS1123Label(req.Namespace); len(msgs) > 0 {
		return newError(ErrorKindConfiguration, ReasonInvalidRequest, nil, "invalid namespace %q: %v", req.Namespace, msgs)
	}
	switch req.JobType {
	case "", common.JobTypeCheck, common.JobTypeExtract:
	default:
		return newError(ErrorKindConfiguration, ReasonInvalidRequest, nil, "unsupported job type %q", req.JobType)
	}
	for field, value := range map[string]string{"environment": req.Environment, "triggered-by": req.TriggeredBy} {
		if msgs := validation.IsValidLabelValue(value); len(msgs) > 0 {
			return newError(ErrorKindConfiguration, ReasonInvalidRequest, nil, "invalid %s %q: %v", field, value, msgs)
		}
	}
	return nil
}

// progress is the part of a running dispatch its caller can observe.
type progress struct {
	attempts atomic.Int32
	phase    atomic.Value
}

func (p *progress) enter(result *Result, phase Phase) {
	result.Phase = phase
	p.phase.Store(phase)
}

// observe returns result as of the last phase and attempt the worker reached.
func (p *progress) observe(result Result) Result {
	if phase, ok := p.phase.Load().(Phase); ok {
		result.Phase = phase
	}
	result.Attempts = int(p.attempts.Load())
	return result
}

// dispatch runs the phases of a dispatch. Everything after the local checks, history pruning
// included, runs in its own goroutine so that a cluster call ignoring cancellation cannot hold
// the caller past the timeout.
func (d *Dispatcher) dispatch(ctx context.Context, log logr.Logger, req Request, result Result) Result {
	if err := validateRequest(req); err != nil {
		return failed(result, err)
	}
	if !d.templates.Known(req.Template) {
		return failed(result, newError(ErrorKindConfiguration, ReasonUnknownTemplate, template.ErrUnknownTemplate,
			"template %q is not configured", req.Template))
	}

	ctx, cancel := context.WithTimeout(ctx, d.options.Timeout)
	defer cancel()

	p := &progress{}
	done := make(chan Result, 1)
	pruned := make(chan struct{})
	go func() {
		defer close(pruned)
		delivered := false
		defer func() {
			r := recover()
			switch {
			case r == nil:
			case delivered:
				log.Error(fmt.Errorf("%v", r), "Pruning past runs panicked")
			default:
				done <- failed(p.observe(result), panicked(r))
			}
		}()

		res, cp := d.submit(ctx, log, req, result, p)
		done <- res
		delivered = true
		if res.Status == StatusSucceeded && cp != nil {
			d.pruneHistory(ctx, log, cp, req.Namespace, req.Template)
		}
	}()

	var out Result
	select {
	case out = <-done:
	case <-ctx.Done():
		select {
		case out = <-done:
		default:
			return failed(p.observe(result), d.contextError(ctx))
		}
	}

	if out.Status == StatusSucceeded {
		select {
		case <-pruned:
		case <-ctx.Done():
			log.Info("Stopped waiting for pruning of past runs", "error", ctx.Err().Error())
		}
	}
	return out
}

// submit resolves the template and the cluster, then runs the check-and-create rounds.
func (d *Dispatcher) submit(ctx context.Context, log logr.Logger, req Request, result Result, p *progress) (Result, controlplane.Interface) {
	p.enter(&result, PhaseResolving)

	tmpl, err := d.templates.Resolve(ctx, template.Request{
		Name:        req.Template,
		Environment: req.Environment,
		JobType:     req.JobType,
	})
	if err != nil {
		return failed(result, d.templateError(ctx, req.Template, err)), nil
	}

	endpoint, err := d.resolver.Resolve(ctx, d.options.ClusterName)
	if err != nil {
		return failed(result, d.credentialError(ctx, err)), nil
	}
	cp, err := d.connector.Connect(endpoint)
	if err != nil {
		return failed(result, newError(ErrorKindAuthentication, ReasonCredentials, err,
			"failed to connect to cluster %s", d.options.ClusterName)), nil
	}

	now := d.clock.Now()
	result.RunID = d.newRunID()
	run := renderRun(tmpl, req, result.ScheduleWindow, result.RunID, now)
	result.ResourceName = run.GetName()
	log = log.WithValues("name", run.GetName(), "runId", result.RunID)

	var existing *unstructured.Unstructured
	operation := func() error {
		attempt := p.attempts.Add(1)
		p.enter(&result, PhaseChecking)
		log.V(1).Info("Checking for an existing run", "attempt", attempt)

		found, err := cp.Get(ctx, run.GetNamespace(), run.GetName())
		switch {
		case err == nil:
			existing = found
			return backoff.Permanent(newError(ErrorKindConflict, ReasonAlreadyExists, nil,
				"run %s already exists", found.GetName()))
		case !controlplane.IsNotFound(err):
			return classify(err, "get")
		}

		if d.options.ConcurrencyPolicy == v1beta2.ConcurrencyForbid {
			apps, err := cp.List(ctx, run.GetNamespace(), map[string]string{common.LabelTemplate: req.Template})
			if err != nil {
				return classify(err, "list")
			}
			for i := range apps {
				if !v1beta2.ApplicationStateOf(&apps[i]).IsFinished() {
					existing = &apps[i]
					return backoff.Permanent(newError(ErrorKindConflict, ReasonConcurrentRun, nil,
						"run %s of template %s has not finished", apps[i].GetName(), req.Template))
				}
			}
		}

		p.enter(&result, PhaseSubmitting)
		log.V(1).Info("Creating run", "attempt", attempt)
		err = cp.Create(ctx, run.DeepCopy())
		switch {
		case err == nil:
			return nil
		case controlplane.IsAlreadyExists(err):
			existing = run
			return backoff.Permanent(newError(ErrorKindConflict, ReasonAlreadyExists, err,
				"run %s was created concurrently", run.GetName()))
		}
		return classify(err, "create")
	}
	notify := func(err error, delay time.Duration) {
		log.Info("Retrying after transient error", "attempt", p.attempts.Load(), "delay", delay, "error", err.Error())
	}

	err = backoff.RetryNotify(operation, d.options.Retry.backOff(ctx, d.random), notify)
	result.Attempts = int(p.attempts.Load())

	switch {
	case err == nil:
		result.Status = StatusSucceeded
		result.Phase = PhaseSubmitted
		result.SubmittedAt = &now
		result.Message = fmt.Sprintf("SparkApplication %s/%s created", run.GetNamespace(), run.GetName())
		return result, cp
	case IsKind(err, ErrorKindConflict):
		result.Status = StatusAlreadyRunning
		result.Phase = PhaseAlreadyRunning
		result.ResourceName = existing.GetName()
		result.SubmittedAt = submittedAt(existing)
		result.ApplicationState = string(v1beta2.ApplicationStateOf(existing))
		var conflict *Error
		if errors.As(err, &conflict) {
			result.Message = conflict.Message
		}
		return result, cp
	case ctx.Err() != nil:
		return failed(result, d.contextError(ctx)), cp
	case IsKind(err, ErrorKindTransient):
		return failed(result, newError(ErrorKindDispatch, ReasonRetriesExhausted, err,
			"giving up after %d attempts", result.Attempts)), cp
	}

	var dispatchErr *Error
	if !errors.As(err, &dispatchErr) {
		dispatchErr = newError(ErrorKindDispatch, ReasonInternal, err, "dispatch failed")
	}
	return failed(result, dispatchErr), cp
}

// classify maps a cluster API error to a retryable transient error or a permanent one.
func classify(err error, verb string) error {
	switch {
	case controlplane.IsTransient(err):
		return newError(ErrorKindTransient, ReasonServerError, err, "%s failed", verb)
	case controlplane.IsUnauthorized(err):
		return backoff.Permanent(newError(ErrorKindAuthentication, ReasonUnauthorized, err, "%s rejected the credentials", verb))
	}
	return backoff.Permanent(newError(ErrorKindDispatch, ReasonRejected, err, "%s failed", verb))
}

func (d *Dispatcher) templateError(ctx context.Context, name string, err error) *Error {
	if ctx.Err() != nil {
		return d.contextError(ctx)
	}
	switch {
	case errors.Is(err, template.ErrUnknownTemplate):
		return newError(ErrorKindConfiguration, ReasonUnknownTemplate, err, "template %q is not configured", name)
	case template.IsConfigurationError(err):
		return newError(ErrorKindConfiguration, ReasonInvalidTemplate, err, "template %q is unusable", name)
	}
	return newError(ErrorKindDispatch, ReasonTemplateSource, err, "failed to load template %q", name)
}

func (d *Dispatcher) credentialError(ctx context.Context, err error) *Error {
	if ctx.Err() != nil {
		return d.contextError(ctx)
	}
	return newError(ErrorKindAuthentication, ReasonCredentials, err, "failed to resolve credentials of cluster %s", d.options.ClusterName)
}

func (d *Dispatcher) contextError(ctx context.Context) *Error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return newError(ErrorKindDispatch, ReasonCancelled, ctx.Err(), "dispatch cancelled")
	}
	return newError(ErrorKindDispatch, ReasonTimeout, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err()),
		"dispatch did not finish within %s", d.options.Timeout)
}

func failed(result Result, err *Error) Result {
	result.Status = StatusFailed
	result.FailedPhase = result.Phase
	result.Phase = PhaseFailed
	result.Error = err
	result.Message = err.Error()
	return result
}

func panicked(r any) *Error {
	return newError(ErrorKindDispatch, ReasonInternal, nil, "dispatch panicked: %v", r)
}

// record logs the outcome and updates the metrics.
func (d *Dispatcher) record(log logr.Logger, result Result, duration time.Duration) {
	log = log.WithValues("status", result.Status, "attempts", result.Attempts, "duration", duration)
	switch result.Status {
	case StatusSucceeded:
		log.Info("Submitted SparkApplication", "name", result.ResourceName, "runId", result.RunID)
	case StatusAlreadyRunning:
		log.Info("SparkApplication already running", "name", result.ResourceName, "state", result.ApplicationState)
	default:
		log.Error(result.Error, "Dispatch failed", "kind", result.Error.Kind, "reason", result.Error.Reason)
	}
	d.metrics.HandleDispatch(result.Template, string(result.Status), result.ErrorKind(), result.Attempts, duration)
}
