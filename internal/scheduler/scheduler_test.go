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

package scheduler_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	clocktesting "k8s.io/utils/clock/testing"

	"github.com/yambo/spark-job-trigger/internal/config"
	"github.com/yambo/spark-job-trigger/internal/dispatcher"
	"github.com/yambo/spark-job-trigger/internal/metrics"
	"github.com/yambo/spark-job-trigger/internal/scheduler"
	"github.com/yambo/spark-job-trigger/pkg/common"
)

type recordingDispatcher struct {
	mu       sync.Mutex
	requests []dispatcher.Request
}

func (d *recordingDispatcher) Dispatch(_ context.Context, req dispatcher.Request) dispatcher.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req)
	return dispatcher.Result{Status: dispatcher.StatusSucceeded, Template: req.Template}
}

func (d *recordingDispatcher) Requests() []dispatcher.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dispatcher.Request(nil), d.requests...)
}

var jobs = []config.JobConfig{
	{Name: "check", Schedule: "50 1 * * *", JobType: common.JobTypeCheck, Template: "yambo-check-job", Namespace: "spark-jobs", Environment: "dev"},
	{Name: "extract", Schedule: "0 2 * * *", JobType: common.JobTypeExtract, Template: "yambo-extract-job", Namespace: "spark-jobs", Environment: "dev"},
}

var _ = Describe("Runner", func() {
	var d *recordingDispatcher

	BeforeEach(func() {
		d = &recordingDispatcher{}
	})

	It("Should reject invalid schedules", func() {
		_, err := scheduler.NewRunner(d, []config.JobConfig{{Name: "bad", Schedule: "every day"}}, "UTC")
		Expect(err).To(MatchError(ContainSubstring("job bad")))
	})

	It("Should reject duplicate job names", func() {
		_, err := scheduler.NewRunner(d, append(jobs, jobs[0]), "UTC")
		Expect(err).To(MatchError(ContainSubstring("more than once")))
	})

	It("Should list the jobs", func() {
		r, err := scheduler.NewRunner(d, jobs, "UTC")
		Expect(err).NotTo(HaveOccurred())
		Expect(r.JobNames()).To(Equal([]string{"check", "extract"}))
	})

	Context("When a job fires", func() {
		It("Should dispatch with the activation time as window", func() {
			clock := clocktesting.NewFakeClock(time.Date(2026, 2, 12, 2, 0, 0, 300*int(time.Millisecond), time.UTC))
			r, err := scheduler.NewRunner(d, jobs, "UTC", scheduler.WithClock(clock), scheduler.WithMetrics(metrics.NewSchedulerMetrics("")))
			Expect(err).NotTo(HaveOccurred())

			result := r.Fire(context.Background(), "extract")
			Expect(result.Status).To(Equal(dispatcher.StatusSucceeded))

			requests := d.Requests()
			Expect(requests).To(HaveLen(1))
			req := requests[0]
			Expect(req.JobID).To(Equal("extract"))
			Expect(req.JobType).To(Equal(common.JobTypeExtract))
			Expect(req.Namespace).To(Equal("spark-jobs"))
			Expect(req.Environment).To(Equal("dev"))
			Expect(req.Template).To(Equal("yambo-extract-job"))
			Expect(req.TriggeredBy).To(Equal(common.TriggeredByScheduler))
			Expect(req.ScheduleWindow).To(BeTemporally("==", time.Date(2026, 2, 12, 2, 0, 0, 0, time.UTC)))
		})

		It("Should interpret schedules in the configured time zone", func() {
			clock := clocktesting.NewFakeClock(time.Date(2026, 2, 12, 1, 5, 0, 0, time.UTC))
			r, err := scheduler.NewRunner(d, jobs, "Europe/Berlin", scheduler.WithClock(clock))
			Expect(err).NotTo(HaveOccurred())

			r.Fire(context.Background(), "extract")
			Expect(d.Requests()[0].ScheduleWindow).To(BeTemporally("==", time.Date(2026, 2, 12, 1, 0, 0, 0, time.UTC)))
		})

		It("Should fail for unknown jobs without dispatching", func() {
			r, err := scheduler.NewRunner(d, jobs, "UTC")
			Expect(err).NotTo(HaveOccurred())

			result := r.Fire(context.Background(), "transform")
			Expect(result.Status).To(Equal(dispatcher.StatusFailed))
			Expect(result.Error.Kind).To(Equal(dispatcher.ErrorKindConfiguration))
			Expect(d.Requests()).To(BeEmpty())
		})
	})

	Context("When started", func() {
		It("Should fire on schedule and stop with the context", func() {
			r, err := scheduler.NewRunner(d, []config.JobConfig{
				{Name: "frequent", Schedule: "@every 1s", JobType: common.JobTypeCheck, Template: "yambo-check-job"},
			}, "UTC")
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithCancel(context.Background())
			stopped := make(chan error, 1)
			go func() {
				stopped <- r.Start(ctx)
			}()

			Eventually(func() int { return len(d.Requests()) }, 5*time.Second, 100*time.Millisecond).Should(BeNumerically(">=", 1))
			Expect(d.Requests()[0].JobID).To(Equal("frequent"))

			cancel()
			Eventually(stopped, 5*time.Second).Should(Receive(BeNil()))
		})
	})
})
