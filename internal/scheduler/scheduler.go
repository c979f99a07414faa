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

// Package scheduler fires dispatches from in-process cron schedules, as an alternative to an
// external timer invoking the Lambda entrypoint.
package scheduler

import (
	"context"
	"fmt"
	"sort"

	"github.com/robfig/cron/v3"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/yambo/spark-job-trigger/internal/config"
	"github.com/yambo/spark-job-trigger/internal/dispatcher"
	"github.com/yambo/spark-job-trigger/internal/metrics"
	"github.com/yambo/spark-job-trigger/pkg/common"
	"github.com/yambo/spark-job-trigger/pkg/util"
)

var (
	logger = log.Log.WithName("scheduler")
)

// Dispatcher submits trigger requests.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatcher.Request) dispatcher.Result
}

// Runner fires one dispatch per cron activation of every configured job. Activations of a
// job are skipped while its previous dispatch is still in progress.
type Runner struct {
	dispatcher Dispatcher
	metrics    *metrics.SchedulerMetrics
	clock      clock.Clock

	cron *cron.Cron
	jobs map[string]scheduledJob
}

type scheduledJob struct {
	config.JobConfig
	schedule cron.Schedule
}

// Option customizes a Runner.
type Option func(*Runner)

// WithClock sets the clock used to derive schedule windows.
func WithClock(c clock.Clock) Option {
	return func(r *Runner) {
		r.clock = c
	}
}

// WithMetrics counts every firing in m.
func WithMetrics(m *metrics.SchedulerMetrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// NewRunner returns a runner for jobs. Schedules are interpreted in timezone.
func NewRunner(d Dispatcher, jobs []config.JobConfig, timezone string, opts ...Option) (*Runner, error) {
	r := &Runner{
		dispatcher: d,
		clock:      clock.RealClock{},
		jobs:       make(map[string]scheduledJob, len(jobs)),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.cron = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	for _, job := range jobs {
		if _, exists := r.jobs[job.Name]; exists {
			return nil, fmt.Errorf("job %s is defined more than once", job.Name)
		}
		schedule, err := util.ParseSchedule(job.Schedule, timezone)
		if err != nil {
			return nil, fmt.Errorf("job %s: %v", job.Name, err)
		}
		r.jobs[job.Name] = scheduledJob{JobConfig: job, schedule: schedule}
	}
	return r, nil
}

// JobNames returns the names of the scheduled jobs in lexical order.
func (r *Runner) JobNames() []string {
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start runs the cron loop until ctx is done, then waits for running dispatches to finish.
func (r *Runner) Start(ctx context.Context) error {
	for _, name := range r.JobNames() {
		job := r.jobs[name]
		r.cron.Schedule(job.schedule, cron.FuncJob(func() {
			r.Fire(ctx, job.Name)
		}))
		logger.Info("Scheduled job", "job", job.Name, "schedule", job.Schedule, "next", job.schedule.Next(r.clock.Now()))
	}

	r.cron.Start()
	logger.Info("Scheduler started", "jobs", len(r.jobs))
	<-ctx.Done()

	logger.Info("Stopping scheduler")
	<-r.cron.Stop().Done()
	return nil
}

// Fire dispatches job for its latest activation.
func (r *Runner) Fire(ctx context.Context, name string) dispatcher.Result {
	job, ok := r.jobs[name]
	if !ok {
		err := &dispatcher.Error{
			Kind:    dispatcher.ErrorKindConfiguration,
			Reason:  dispatcher.ReasonInvalidRequest,
			Message: fmt.Sprintf("job %s is not scheduled", name),
		}
		return dispatcher.Result{
			Status:  dispatcher.StatusFailed,
			Phase:   dispatcher.PhaseFailed,
			Message: err.Error(),
			Error:   err,
		}
	}

	now := r.clock.Now()
	window, ok := util.PreviousFiring(job.schedule, now)
	if !ok {
		window = now
	}

	result := r.dispatcher.Dispatch(ctx, dispatcher.Request{
		JobID:          job.Name,
		JobType:        job.JobType,
		Namespace:      job.Namespace,
		Environment:    job.Environment,
		Template:       job.Template,
		ScheduleWindow: window,
		TriggeredBy:    common.TriggeredByScheduler,
	})
	r.metrics.HandleFiring(job.Name, string(result.Status))
	return result
}
