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

// Package controlplane talks to the Kubernetes API server that hosts the SparkApplication
// resource.
package controlplane

import (
	"context"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	sparkjobtrigger "github.com/yambo/spark-job-trigger"
	"github.com/yambo/spark-job-trigger/api/v1beta2"
	"github.com/yambo/spark-job-trigger/internal/cluster"
	"github.com/yambo/spark-job-trigger/pkg/util"
)

var (
	logger = log.Log.WithName("controlplane")
)

// Interface is the set of SparkApplication operations a dispatch needs.
type Interface interface {
	// Get returns the SparkApplication namespace/name. A missing object yields a NotFound error.
	Get(ctx context.Context, namespace, name string) (*unstructured.Unstructured, error)
	// Create creates app. An existing object of the same name yields an AlreadyExists error.
	Create(ctx context.Context, app *unstructured.Unstructured) error
	// List returns the SparkApplications in namespace carrying every label of selector.
	List(ctx context.Context, namespace string, selector map[string]string) ([]unstructured.Unstructured, error)
	// Delete deletes app in the background.
	Delete(ctx context.Context, app *unstructured.Unstructured) error
}

// Client implements Interface on a controller-runtime client. Every call waits for the
// rate limiter first.
type Client struct {
	client  client.Client
	limiter util.Limiter
}

var _ Interface = &Client{}

// New wraps c. A nil limiter disables throttling.
func New(c client.Client, limiter util.Limiter) *Client {
	if limiter == nil {
		limiter = util.NewRateLimiter(0, 0)
	}
	return &Client{client: c, limiter: limiter}
}

// NewScheme returns the scheme of the objects the trigger reads and writes.
func NewScheme() (*runtime.Scheme, error) {
	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		return nil, err
	}
	if err := v1beta2.AddToScheme(scheme); err != nil {
		return nil, err
	}
	return scheme, nil
}

// NewRESTMapper returns a static mapper for the SparkApplication resource, so that no
// discovery request is made on the short-lived connection.
func NewRESTMapper() meta.RESTMapper {
	mapper := meta.NewDefaultRESTMapper([]schema.GroupVersion{v1beta2.SchemeGroupVersion})
	mapper.AddSpecific(v1beta2.SparkApplicationGVK, v1beta2.SparkApplicationGVR,
		v1beta2.SchemeGroupVersion.WithResource("sparkapplication"), meta.RESTScopeNamespace)
	return mapper
}

// NewForConfig returns a client for the API server described by cfg.
func NewForConfig(cfg *rest.Config, limiter util.Limiter) (*Client, error) {
	scheme, err := NewScheme()
	if err != nil {
		return nil, fmt.Errorf("failed to build scheme: %v", err)
	}
	c, err := client.New(cfg, client.Options{
		Scheme: scheme,
		Mapper: NewRESTMapper(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %v", err)
	}
	return New(c, limiter), nil
}

// Get implements Interface.
func (c *Client) Get(ctx context.Context, namespace, name string) (*unstructured.Unstructured, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	app := v1beta2.NewSparkApplication()
	if err := c.client.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, app); err != nil {
		return nil, err
	}
	return app, nil
}

// Create implements Interface.
func (c *Client) Create(ctx context.Context, app *unstructured.Unstructured) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := c.client.Create(ctx, app); err != nil {
		return err
	}
	logger.V(1).Info("Created SparkApplication", "name", app.GetName(), "namespace", app.GetNamespace())
	return nil
}

// List implements Interface.
func (c *Client) List(ctx context.Context, namespace string, selector map[string]string) ([]unstructured.Unstructured, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	list := v1beta2.NewSparkApplicationList()
	if err := c.client.List(ctx, list, client.InNamespace(namespace), client.MatchingLabels(selector)); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// Delete implements Interface.
func (c *Client) Delete(ctx context.Context, app *unstructured.Unstructured) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.client.Delete(ctx, app, client.PropagationPolicy(metav1.DeletePropagationBackground))
}

// Connector builds clients for resolved endpoints.
type Connector interface {
	Connect(endpoint *cluster.Endpoint) (Interface, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(endpoint *cluster.Endpoint) (Interface, error)

// Connect implements Connector.
func (f ConnectorFunc) Connect(endpoint *cluster.Endpoint) (Interface, error) {
	return f(endpoint)
}

// RESTConnector connects through a controller-runtime client. The limiter is shared by every
// connection so that throttling spans dispatches of one process.
type RESTConnector struct {
	limiter util.Limiter
	timeout time.Duration
}

var _ Connector = &RESTConnector{}

// NewRESTConnector returns a connector throttled to qps requests per second with the given
// burst. timeout bounds each HTTP request; zero leaves it to the caller's context.
func NewRESTConnector(qps float64, burst int, timeout time.Duration) *RESTConnector {
	return &RESTConnector{
		limiter: util.NewRateLimiter(qps, burst),
		timeout: timeout,
	}
}

// Connect implements Connector.
func (c *RESTConnector) Connect(endpoint *cluster.Endpoint) (Interface, error) {
	cfg := endpoint.RESTConfig()
	// Throttling is done by the shared limiter.
	cfg.QPS = -1
	cfg.Timeout = c.timeout
	cfg.UserAgent = sparkjobtrigger.UserAgent()
	return NewForConfig(cfg, c.limiter)
}
