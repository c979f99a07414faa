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

package dispatcher_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/yambo/spark-job-trigger/api/v1beta2"
	"github.com/yambo/spark-job-trigger/internal/cluster"
	"github.com/yambo/spark-job-trigger/internal/controlplane"
	"github.com/yambo/spark-job-trigger/internal/dispatcher"
	"github.com/yambo/spark-job-trigger/internal/template"
	"github.com/yambo/spark-job-trigger/pkg/common"
	"github.com/yambo/spark-job-trigger/pkg/util"
)

var sparkApplications = schema.GroupResource{Group: v1beta2.Group, Resource: v1beta2.SparkApplicationResource}

var _ = Describe("Dispatch", func() {
	var (
		ctx context.Context
		h   *harness
	)

	BeforeEach(func() {
		ctx = context.Background()
		h = newHarness()
	})

	Context("When the same window is dispatched twice", func() {
		It("Should submit once and report the second call as already running", func() {
			d := h.build()

			first := d.Dispatch(ctx, windowRequest())
			Expect(first.Status).To(Equal(dispatcher.StatusSucceeded))
			Expect(first.Phase).To(Equal(dispatcher.PhaseSubmitted))
			Expect(first.Error).To(BeNil())
			Expect(first.ResourceName).To(MatchRegexp(`(?i)^extract-job-20260212T0200-[0-9a-f]{8}$`))
			Expect(first.Attempts).To(Equal(1))
			Expect(first.SubmittedAt).NotTo(BeNil())

			second := d.Dispatch(ctx, windowRequest())
			Expect(second.Status).To(Equal(dispatcher.StatusAlreadyRunning))
			Expect(second.Phase).To(Equal(dispatcher.PhaseAlreadyRunning))
			Expect(second.ResourceName).To(Equal(first.ResourceName))
			Expect(second.RunID).NotTo(Equal(first.RunID))

			Expect(h.apps()).To(HaveLen(1))
			Expect(h.creates.Load()).To(Equal(int32(1)))
		})

		It("Should resolve credentials on every call", func() {
			d := h.build()
			d.Dispatch(ctx, windowRequest())
			d.Dispatch(ctx, windowRequest())
			Expect(h.resolved.Load()).To(Equal(int32(2)))
			Expect(h.connects.Load()).To(Equal(int32(2)))
		})
	})

	Context("When the run is submitted", func() {
		It("Should render the template as a run of the request", func() {
			d := h.build(dispatcher.WithRunIDGenerator(func() string { return "run-1" }))

			result := d.Dispatch(ctx, windowRequest())
			Expect(result.Status).To(Equal(dispatcher.StatusSucceeded))
			Expect(result.RunID).To(Equal("run-1"))

			apps := h.apps()
			Expect(apps).To(HaveLen(1))
			run := apps[0]
			Expect(run.GetName()).To(Equal(result.ResourceName))
			Expect(run.GetNamespace()).To(Equal(testNamespace))
			Expect(run.GetUID()).To(BeEmpty())
			Expect(run.GetLabels()).To(And(
				HaveKeyWithValue("team", "data"),
				HaveKeyWithValue(common.LabelApp, common.LabelAppValue),
				HaveKeyWithValue(common.LabelJobType, common.JobTypeExtract),
				HaveKeyWithValue(common.LabelEnvironment, testEnvironment),
				HaveKeyWithValue(common.LabelTriggeredBy, common.TriggeredByEventBridge),
				HaveKeyWithValue(common.LabelTemplate, testTemplate),
				HaveKeyWithValue(common.LabelScheduleWindow, "20260212T0200"),
			))
			Expect(run.GetAnnotations()).To(And(
				HaveKeyWithValue(common.AnnotationRunID, "run-1"),
				HaveKeyWithValue(common.AnnotationScheduleWindow, "2026-02-12T02:00:00Z"),
				HaveKeyWithValue(common.AnnotationSubmittedAt, "2026-02-12T02:07:30Z"),
				HaveKeyWithValue(common.AnnotationJobID, "nightly-extract"),
			))
			_, found, err := unstructured.NestedMap(run.Object, "status")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeFalse())
		})

		It("Should derive different names for different job types", func() {
			d := h.build()
			check := windowRequest()
			check.JobType = common.JobTypeCheck

			Expect(d.Dispatch(ctx, windowRequest()).Status).To(Equal(dispatcher.StatusSucceeded))
			Expect(d.Dispatch(ctx, check).Status).To(Equal(dispatcher.StatusSucceeded))
			Expect(h.apps()).To(HaveLen(2))
		})

		It("Should fill empty request fields from the options", func() {
			d := h.build()

			result := d.Dispatch(ctx, dispatcher.Request{ScheduleWindow: windowRequest().ScheduleWindow})
			Expect(result.Status).To(Equal(dispatcher.StatusSucceeded))
			Expect(result.Template).To(Equal(testTemplate))
			Expect(result.Namespace).To(Equal(testNamespace))
			Expect(result.Environment).To(Equal(testEnvironment))
		})
	})

	Context("When the request has no schedule window", func() {
		It("Should use the current minute", func() {
			d := h.build()
			req := windowRequest()
			req.ScheduleWindow = time.Time{}

			result := d.Dispatch(ctx, req)
			Expect(result.ScheduleWindow).To(Equal(time.Date(2026, 2, 12, 2, 7, 0, 0, time.UTC)))
		})

		It("Should use the latest firing of the window schedule", func() {
			schedule, err := util.ParseSchedule("0 2 * * *", "UTC")
			Expect(err).NotTo(HaveOccurred())
			h.options.WindowSchedule = schedule
			d := h.build()
			req := windowRequest()
			req.ScheduleWindow = time.Time{}

			result := d.Dispatch(ctx, req)
			Expect(result.ScheduleWindow).To(Equal(time.Date(2026, 2, 12, 2, 0, 0, 0, time.UTC)))
			Expect(result.ResourceName).To(MatchRegexp(`^extract-job-20260212t0200-`))
		})
	})

	Context("When the template is unknown", func() {
		It("Should fail with a configuration error without any network call", func() {
			d := h.build()
			req := windowRequest()
			req.Template = "transform-job"

			result := d.Dispatch(ctx, req)
			Expect(result.Status).To(Equal(dispatcher.StatusFailed))
			Expect(result.Error.Kind).To(Equal(dispatcher.ErrorKindConfiguration))
			Expect(result.Error.Reason).To(Equal(dispatcher.ReasonUnknownTemplate))
			Expect(errors.Is(result.Error, template.ErrUnknownTemplate)).To(BeTrue())
			Expect(h.networkCalls()).To(BeZero())
		})
	})

	Context("When the request is invalid", func() {
		It("Should fail with a configuration error without any network call", func() {
			d := h.build()
			req := windowRequest()
			req.Namespace = "Spark_Jobs"

			result := d.Dispatch(ctx, req)
			Expect(result.Error.Kind).To(Equal(dispatcher.ErrorKindConfiguration))
			Expect(result.Error.Reason).To(Equal(dispatcher.ReasonInvalidRequest))
			Expect(result.FailedPhase).To(Equal(dispatcher.PhaseReceived))
			Expect(h.networkCalls()).To(BeZero())
		})

		It("Should reject unsupported job types", func() {
			d := h.build()
			req := windowRequest()
			req.JobType = "transform"

			result := d.Dispatch(ctx, req)
			Expect(result.Error.Kind).To(Equal(dispatcher.ErrorKindConfiguration))
			Expect(h.networkCalls()).To(BeZero())
		})
	})

	Context("When the template cannot be loaded", func() {
		It("Should report a missing manifest as a configuration error", func() {
			h.source.err = fmt.Errorf("%w: s3://yambo-dev-manifests/spark-jobs/extract-job.yaml", template.ErrTemplateNotFound)
			d := h.build()

			result := d.Dispatch(ctx, windowRequest())
			Expect(result.Error.Kind).To(Equal(dispatcher.ErrorKindConfiguration))
			Expect(result.Error.Reason).To(Equal(dispatcher.ReasonInvalidTemplate))
			Expect(h.resolved.Load()).To(BeZero())
		})

		It("Should report an unavailable source as a dispatch error", func() {
			h.source.err = errBoom
			d := h.build()

			result := d.Dispatch(ctx, windowRequest())
			Expect(result.Error.Kind).To(Equal(dispatcher.ErrorKindDispatch))
			Expect(result.Error.Reason).To(Equal(dispatcher.ReasonTemplateSource))
			Expect(result.Phase).To(Equal(dispatcher.PhaseFailed))
			Expect(result.FailedPhase).To(Equal(dispatcher.PhaseResolving))
		})
	})

	Context("When credentials cannot be resolved", func() {
		It("Should fail with an authentication error without retrying", func() {
			h.resolveErr = errors.New("AccessDeniedException: not authorized to perform eks:DescribeCluster")
			d := h.build()

			result := d.Dispatch(ctx, windowRequest())
			Expect(result.Status).To(Equal(dispatcher.StatusFailed))
			Expect(result.Error.Kind).To(Equal(dispatcher.ErrorKindAuthentication))
			Expect(result.Error.Cause).To(MatchError(h.resolveErr))
			Expect(h.resolved.Load()).To(Equal(int32(1)))
			Expect(h.connects.Load()).To(BeZero())
			Expect(h.gets.Load()).To(BeZero())
			Expect(result.Attempts).To(BeZero())
		})

		It("Should not retry when the cluster rejects the token", func() {
			h.funcs.Get = func(_ context.Context, _ client.WithWatch, _ client.ObjectKey, _ client.Object, _ ...client.GetOption) error {
				return apierrors.NewUnauthorized("token expired")
			}
			d := h.build()

			result := d.Dispatch(ctx, windowRequest())
			Expect(result.Error.Kind).To(Equal(dispatcher.ErrorKindAuthentication))
			Expect(result.Error.Reason).To(Equal(dispatcher.ReasonUnauthorized))
			Expect(h.gets.Load()).To(Equal(int32(1)))
		})
	})

	Context("When the control plane always fails with 5xx", func() {
		BeforeEach(func() {
			h.funcs.Get = func(_ context.Context, _ client.WithWatch, _ client.ObjectKey, _ client.Object, _ ...client.GetOption) error {
				return apierrors.NewInternalError(errBoom)
			}
		})

		It("Should make exactly the configured number of attempts", func() {
			d := h.build()

			start := time.Now()
			result := d.Dispatch(ctx, windowRequest())
			elapsed := time.Since(start)

			Expect(result.Status).To(Equal(dispatcher.StatusFailed))
			Expect(result.Error.Kind).To(Equal(dispatcher.ErrorKindDispatch))
			Expect(result.Error.Reason).To(Equal(dispatcher.ReasonRetriesExhausted))
			Expect(dispatcher.IsKind(result.Error.Cause, dispatcher.ErrorKindTransient)).To(BeTrue())
			Expect(result.Attempts).To(Equal(3))
			Expect(h.gets.Load()).To(Equal(int32(3)))
			Expect(h.creates.Load()).To(BeZero())
			Expect(elapsed).To(BeNumerically("<", h.options.Retry.MaxTotalDelay()+500*time.Millisecond))
		})

		It("Should wait close to the ceiling with maximal jitter", func() {
			d := h.build(dispatcher.WithJitter(func() float64 { return 0.999 }))

			start := time.Now()
			result := d.Dispatch(ctx, windowRequest())
			elapsed := time.Since(start)

			Expect(result.Attempts).To(Equal(3))
			Expect(elapsed).To(BeNumerically(">=", 59*time.Millisecond))
			Expect(elapsed).To(BeNumerically("<", h.options.Retry.MaxTotalDelay()+500*time.Millisecond))
		})

		It("Should honour the configured number of attempts", func() {
			h.options.Retry.Attempts = 5
			h.options.Retry.BaseDelay = time.Millisecond
			d := h.build()

			result := d.Dispatch(ctx, windowRequest())
			Expect(result.Attempts).To(Equal(5))
			Expect(h.gets.Load()).To(Equal(int32(5)))
		})
	})

	Context("When the control plane recovers from transient errors", func() {
		It("Should submit on a later attempt", func() {
			failures := 2
			h.funcs.Create = func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
				if failures > 0 {
					failures--
					return apierrors.NewServiceUnavailable("etcd leader changed")
				}
				return c.Create(ctx, obj, opts...)
			}
			d := h.build()

			result := d.Dispatch(ctx, windowRequest())
			Expect(result.Status).To(Equal(dispatcher.StatusSucceeded))
			Expect(result.Attempts).To(Equal(3))
			Expect(h.apps()).To(HaveLen(1))
		})
	})

	Context("When the control plane rejects the run", func() {
		It("Should fail without retrying", func() {
			h.funcs.Create = func(_ context.Context, _ client.WithWatch, obj client.Object, _ ...client.CreateOption) error {
				return apierrors.NewForbidden(sparkApplications, obj.GetName(), errors.New("RBAC: access denied"))
			}
			d := h.build()

			result := d.Dispatch(ctx, windowRequest())
			Expect(result.Error.Kind).To(Equal(dispatcher.ErrorKindDispatch))
			Expect(result.Error.Reason).To(Equal(dispatcher.ReasonRejected))
			Expect(result.FailedPhase).To(Equal(dispatcher.PhaseSubmitting))
			Expect(h.creates.Load()).To(Equal(int32(1)))
		})
	})

	Context("When a concurrent dispatch creates the run first", func() {
		It("Should treat the conflict as already running", func() {
			h.funcs.Create = func(_ context.Context, _ client.WithWatch, obj client.Object, _ ...client.CreateOption) error {
				return apierrors.NewAlreadyExists(sparkApplications, obj.GetName())
			}
			d := h.build()

			result := d.Dispatch(ctx, windowRequest())
			Expect(result.Status).To(Equal(dispatcher.StatusAlreadyRunning))
			Expect(result.Error).To(BeNil())
			Expect(result.ResourceName).To(MatchRegexp(`^extract-job-20260212t0200-`))
			Expect(result.Attempts).To(Equal(1))
			Expect(h.creates.Load()).To(Equal(int32(1)))
		})
	})

	Context("When a control-plane call never returns", func() {
		var release chan struct{}

		BeforeEach(func() {
			release = make(chan struct{})
			h.options.Timeout = 200 * time.Millisecond
		})

		AfterEach(func() {
			close(release)
		})

		It("Should time out within the budget even if the call ignores cancellation", func() {
			h.funcs.Get = func(_ context.Context, _ client.WithWatch, _ client.ObjectKey, _ client.Object, _ ...client.GetOption) error {
				<-release
				return nil
			}
			d := h.build()

			start := time.Now()
			result := d.Dispatch(ctx, windowRequest())
			elapsed := time.Since(start)

			Expect(result.Status).To(Equal(dispatcher.StatusFailed))
			Expect(result.Error.Kind).To(Equal(dispatcher.ErrorKindDispatch))
			Expect(result.Error.Reason).To(Equal(dispatcher.ReasonTimeout))
			Expect(errors.Is(result.Error, dispatcher.ErrTimeout)).To(BeTrue())
			Expect(errors.Is(result.Error, context.DeadlineExceeded)).To(BeTrue())
			Expect(result.Attempts).To(Equal(1))
			Expect(result.FailedPhase).To(Equal(dispatcher.PhaseChecking))
			Expect(elapsed).To(BeNumerically("<", h.options.Timeout+150*time.Millisecond))
		})

		It("Should cancel in-flight calls", func() {
			cancelled := make(chan struct{})
			h.funcs.Get = func(ctx context.Context, _ client.WithWatch, _ client.ObjectKey, _ client.Object, _ ...client.GetOption) error {
				<-ctx.Done()
				close(cancelled)
				return ctx.Err()
			}
			d := h.build()

			result := d.Dispatch(ctx, windowRequest())
			Expect(result.Error.Reason).To(Equal(dispatcher.ReasonTimeout))
			Eventually(cancelled).Should(BeClosed())
		})
	})

	Context("When the caller cancels", func() {
		It("Should report the dispatch as cancelled", func() {
			cancelled, cancel := context.WithCancel(ctx)
			h.funcs.Get = func(ctx context.Context, _ client.WithWatch, _ client.ObjectKey, _ client.Object, _ ...client.GetOption) error {
				cancel()
				<-ctx.Done()
				return ctx.Err()
			}
			d := h.build()

			result := d.Dispatch(cancelled, windowRequest())
			Expect(result.Error.Kind).To(Equal(dispatcher.ErrorKindDispatch))
			Expect(result.Error.Reason).To(Equal(dispatcher.ReasonCancelled))
		})
	})

	Context("When a collaborator panics", func() {
		It("Should return a failed result", func() {
			h.funcs.Get = func(_ context.Context, _ client.WithWatch, _ client.ObjectKey, _ client.Object, _ ...client.GetOption) error {
				panic("unexpected nil pointer")
			}
			d := h.build()

			var result dispatcher.Result
			Expect(func() { result = d.Dispatch(ctx, windowRequest()) }).NotTo(Panic())
			Expect(result.Status).To(Equal(dispatcher.StatusFailed))
			Expect(result.Error.Reason).To(Equal(dispatcher.ReasonInternal))
			Expect(result.FailedPhase).To(Equal(dispatcher.PhaseChecking))
		})

		It("Should return a failed result when the template lookup panics", func() {
			resolver := cluster.ResolverFunc(func(_ context.Context, _ string) (*cluster.Endpoint, error) {
				return nil, errBoom
			})
			connector := controlplane.ConnectorFunc(func(_ *cluster.Endpoint) (controlplane.Interface, error) {
				return nil, errBoom
			})
			d := dispatcher.New(h.options, panickingTemplates{}, resolver, connector)

			var result dispatcher.Result
			Expect(func() { result = d.Dispatch(ctx, windowRequest()) }).NotTo(Panic())
			Expect(result.Status).To(Equal(dispatcher.StatusFailed))
			Expect(result.Error.Reason).To(Equal(dispatcher.ReasonInternal))
			Expect(result.Template).To(Equal(testTemplate))
		})
	})

	Context("When the run of the window has already finished", func() {
		It("Should still report it as already running", func() {
			name := dispatcher.RunName(windowRequest(), windowRequest().ScheduleWindow)
			h.objects = append(h.objects, pastRun(name, v1beta2.ApplicationStateCompleted, time.Date(2026, 2, 12, 2, 0, 5, 0, time.UTC)))
			d := h.build()

			result := d.Dispatch(ctx, windowRequest())
			Expect(result.Status).To(Equal(dispatcher.StatusAlreadyRunning))
			Expect(result.ResourceName).To(Equal(name))
			Expect(result.ApplicationState).To(Equal(string(v1beta2.ApplicationStateCompleted)))
			Expect(result.SubmittedAt).NotTo(BeNil())
			Expect(h.creates.Load()).To(BeZero())
		})
	})

	Context("When an earlier run of the template is still running", func() {
		BeforeEach(func() {
			h.objects = append(h.objects, pastRun("extract-job-20260211t0200-00000000", v1beta2.ApplicationStateRunning, time.Date(2026, 2, 11, 2, 0, 5, 0, time.UTC)))
		})

		It("Should submit with the Allow policy", func() {
			d := h.build()

			result := d.Dispatch(ctx, windowRequest())
			Expect(result.Status).To(Equal(dispatcher.StatusSucceeded))
			Expect(h.apps()).To(HaveLen(2))
		})

		It("Should skip with the Forbid policy", func() {
			h.options.ConcurrencyPolicy = v1beta2.ConcurrencyForbid
			d := h.build()

			result := d.Dispatch(ctx, windowRequest())
			Expect(result.Status).To(Equal(dispatcher.StatusAlreadyRunning))
			Expect(result.ResourceName).To(Equal("extract-job-20260211t0200-00000000"))
			Expect(result.ApplicationState).To(Equal(string(v1beta2.ApplicationStateRunning)))
			Expect(h.creates.Load()).To(BeZero())
		})
	})

	Context("When finished runs exceed the history limits", func() {
		BeforeEach(func() {
			for day := 1; day <= 3; day++ {
				created := time.Date(2026, 2, day, 2, 0, 5, 0, time.UTC)
				h.objects = append(h.objects,
					pastRun(fmt.Sprintf("extract-job-202602%02dt0200-completed", day), v1beta2.ApplicationStateCompleted, created),
					pastRun(fmt.Sprintf("extract-job-202602%02dt0200-failed", day), v1beta2.ApplicationStateFailed, created))
			}
		})

		It("Should delete the oldest finished runs after a submission", func() {
			h.options.SuccessfulRunHistoryLimit = 1
			h.options.FailedRunHistoryLimit = 2
			d := h.build()

			result := d.Dispatch(ctx, windowRequest())
			Expect(result.Status).To(Equal(dispatcher.StatusSucceeded))

			var names []string
			for _, app := range h.apps() {
				names = append(names, app.GetName())
			}
			Expect(names).To(ConsistOf(
				result.ResourceName,
				"extract-job-20260203t0200-completed",
				"extract-job-20260203t0200-failed",
				"extract-job-20260202t0200-failed",
			))
		})

		It("Should keep every run when pruning is disabled", func() {
			d := h.build()

			Expect(d.Dispatch(ctx, windowRequest()).Status).To(Equal(dispatcher.StatusSucceeded))
			Expect(h.apps()).To(HaveLen(7))
		})

		It("Should not change the result when pruning fails", func() {
			h.options.SuccessfulRunHistoryLimit = 0
			h.funcs.Delete = func(_ context.Context, _ client.WithWatch, _ client.Object, _ ...client.DeleteOption) error {
				return apierrors.NewInternalError(errBoom)
			}
			d := h.build()

			Expect(d.Dispatch(ctx, windowRequest()).Status).To(Equal(dispatcher.StatusSucceeded))
			Expect(h.apps()).To(HaveLen(7))
		})
	})

	Context("When pruning hangs after a submission", func() {
		var release chan struct{}

		BeforeEach(func() {
			release = make(chan struct{})
			h.options.Timeout = 200 * time.Millisecond
			h.options.SuccessfulRunHistoryLimit = 1
		})

		AfterEach(func() {
			close(release)
		})

		It("Should report the submission within the budget", func() {
			h.funcs.List = func(_ context.Context, _ client.WithWatch, _ client.ObjectList, _ ...client.ListOption) error {
				<-release
				return nil
			}
			d := h.build()

			start := time.Now()
			result := d.Dispatch(ctx, windowRequest())
			elapsed := time.Since(start)

			Expect(result.Status).To(Equal(dispatcher.StatusSucceeded))
			Expect(result.Phase).To(Equal(dispatcher.PhaseSubmitted))
			Expect(h.creates.Load()).To(Equal(int32(1)))
			Expect(elapsed).To(BeNumerically("<", h.options.Timeout+150*time.Millisecond))
		})
	})

	Context("When pruning panics after a submission", func() {
		It("Should still report the submission", func() {
			h.options.SuccessfulRunHistoryLimit = 1
			h.funcs.List = func(_ context.Context, _ client.WithWatch, _ client.ObjectList, _ ...client.ListOption) error {
				panic("list of past runs failed")
			}
			d := h.build()

			var result dispatcher.Result
			Expect(func() { result = d.Dispatch(ctx, windowRequest()) }).NotTo(Panic())
			Expect(result.Status).To(Equal(dispatcher.StatusSucceeded))
			Expect(result.Error).To(BeNil())
			Expect(h.lists.Load()).To(Equal(int32(1)))
		})
	})
})

// panickingTemplates fails the local template lookup.
type panickingTemplates struct{}

func (panickingTemplates) Known(string) bool {
	panic("template registry is not initialised")
}

func (panickingTemplates) Resolve(context.Context, template.Request) (*unstructured.Unstructured, error) {
	return nil, errBoom
}
