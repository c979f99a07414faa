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
	"sync/atomic"
	"time"

	. "github.com/onsi/gomega"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	clocktesting "k8s.io/utils/clock/testing"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	"github.com/yambo/spark-job-trigger/api/v1beta2"
	"github.com/yambo/spark-job-trigger/internal/cluster"
	"github.com/yambo/spark-job-trigger/internal/controlplane"
	"github.com/yambo/spark-job-trigger/internal/dispatcher"
	"github.com/yambo/spark-job-trigger/internal/template"
	"github.com/yambo/spark-job-trigger/pkg/common"
)

const (
	testNamespace   = "spark-jobs"
	testTemplate    = "extract-job"
	testEnvironment = "dev"
)

const extractJobManifest = `
apiVersion: sparkoperator.k8s.io/v1beta2
kind: SparkApplication
metadata:
  name: extract-job
  namespace: default
  resourceVersion: "1234"
  uid: 0b5b3f4e-1111-2222-3333-444455556666
  labels:
    team: data
spec:
  type: Python
  mode: cluster
  image: registry.example.com/yambo-spark:latest
  mainApplicationFile: local:///opt/spark/work-dir/src/spark_jobs/main.py
  sparkVersion: 3.5.0
  driver:
    cores: 2
  executor:
    instances: 3
status:
  applicationState:
    state: COMPLETED
`

// templateSource serves one manifest and counts loads.
type templateSource struct {
	calls atomic.Int32
	err   error
}

func (s *templateSource) Load(_ context.Context, _ template.Request) (*unstructured.Unstructured, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return template.ParseManifest([]byte(extractJobManifest))
}

// harness wires a dispatcher to a fake control plane and counts every collaborator call.
type harness struct {
	source   *templateSource
	client   client.WithWatch
	clock    *clocktesting.FakeClock
	resolved atomic.Int32
	connects atomic.Int32
	gets     atomic.Int32
	lists    atomic.Int32
	creates  atomic.Int32

	resolveErr error
	funcs      interceptor.Funcs
	objects    []client.Object
	options    dispatcher.Options
}

func newHarness() *harness {
	return &harness{
		source: &templateSource{},
		clock:  clocktesting.NewFakeClock(time.Date(2026, 2, 12, 2, 7, 30, 0, time.UTC)),
		options: dispatcher.Options{
			ClusterName: "yambo-dev",
			Namespace:   testNamespace,
			Environment: testEnvironment,
			Template:    testTemplate,
			Timeout:     5 * time.Second,
			Retry: dispatcher.RetryPolicy{
				Attempts:  3,
				BaseDelay: 20 * time.Millisecond,
				Factor:    2,
			},
			SuccessfulRunHistoryLimit: -1,
			FailedRunHistoryLimit:     -1,
		},
	}
}

func (h *harness) build(opts ...dispatcher.Option) *dispatcher.Dispatcher {
	scheme, err := controlplane.NewScheme()
	Expect(err).NotTo(HaveOccurred())

	funcs := h.funcs
	funcs.Get = counted(&h.gets, funcs.Get)
	funcs.List = countedList(&h.lists, funcs.List)
	funcs.Create = countedCreate(&h.creates, funcs.Create)

	h.client = fake.NewClientBuilder().
		WithScheme(scheme).
		WithRESTMapper(controlplane.NewRESTMapper()).
		WithObjects(h.objects...).
		WithInterceptorFuncs(funcs).
		Build()

	resolver := cluster.ResolverFunc(func(_ context.Context, clusterName string) (*cluster.Endpoint, error) {
		h.resolved.Add(1)
		if h.resolveErr != nil {
			return nil, h.resolveErr
		}
		return &cluster.Endpoint{Name: clusterName, Server: "https://eks.example.com", BearerToken: "k8s-aws-v1.token"}, nil
	})
	connector := controlplane.ConnectorFunc(func(_ *cluster.Endpoint) (controlplane.Interface, error) {
		h.connects.Add(1)
		return controlplane.New(h.client, nil), nil
	})
	registry := template.NewRegistry(h.source, testTemplate)

	opts = append([]dispatcher.Option{dispatcher.WithClock(h.clock)}, opts...)
	return dispatcher.New(h.options, registry, resolver, connector, opts...)
}

// apps lists every SparkApplication in the fake control plane.
func (h *harness) apps() []unstructured.Unstructured {
	list := v1beta2.NewSparkApplicationList()
	Expect(h.client.List(context.Background(), list)).To(Succeed())
	return list.Items
}

func (h *harness) networkCalls() int32 {
	return h.source.calls.Load() + h.resolved.Load() + h.connects.Load() + h.gets.Load() + h.lists.Load() + h.creates.Load()
}

func counted(n *atomic.Int32, next func(context.Context, client.WithWatch, client.ObjectKey, client.Object, ...client.GetOption) error) func(context.Context, client.WithWatch, client.ObjectKey, client.Object, ...client.GetOption) error {
	return func(ctx context.Context, c client.WithWatch, key client.ObjectKey, obj client.Object, opts ...client.GetOption) error {
		n.Add(1)
		if next != nil {
			return next(ctx, c, key, obj, opts...)
		}
		return c.Get(ctx, key, obj, opts...)
	}
}

func countedList(n *atomic.Int32, next func(context.Context, client.WithWatch, client.ObjectList, ...client.ListOption) error) func(context.Context, client.WithWatch, client.ObjectList, ...client.ListOption) error {
	return func(ctx context.Context, c client.WithWatch, list client.ObjectList, opts ...client.ListOption) error {
		n.Add(1)
		if next != nil {
			return next(ctx, c, list, opts...)
		}
		return c.List(ctx, list, opts...)
	}
}

func countedCreate(n *atomic.Int32, next func(context.Context, client.WithWatch, client.Object, ...client.CreateOption) error) func(context.Context, client.WithWatch, client.Object, ...client.CreateOption) error {
	return func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
		n.Add(1)
		if next != nil {
			return next(ctx, c, obj, opts...)
		}
		return c.Create(ctx, obj, opts...)
	}
}

// pastRun returns a run of the test template in another window.
func pastRun(name string, state v1beta2.ApplicationStateType, created time.Time) *unstructured.Unstructured {
	app := v1beta2.NewSparkApplication()
	app.SetName(name)
	app.SetNamespace(testNamespace)
	app.SetLabels(map[string]string{common.LabelTemplate: testTemplate})
	app.SetCreationTimestamp(metav1.NewTime(created))
	Expect(unstructured.SetNestedField(app.Object, "Python", "spec", "type")).To(Succeed())
	if state != v1beta2.ApplicationStateNew {
		Expect(unstructured.SetNestedField(app.Object, string(state), "status", "applicationState", "state")).To(Succeed())
	}
	return app
}

func windowRequest() dispatcher.Request {
	return dispatcher.Request{
		JobID:          "nightly-extract",
		JobType:        common.JobTypeExtract,
		Namespace:      testNamespace,
		Environment:    testEnvironment,
		Template:       testTemplate,
		ScheduleWindow: time.Date(2026, 2, 12, 2, 0, 0, 0, time.UTC),
		TriggeredBy:    common.TriggeredByEventBridge,
	}
}

var errBoom = errors.New("boom")
