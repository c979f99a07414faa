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

// Package cluster resolves the endpoint and short-lived credentials of the cluster that
// SparkApplications are submitted to. Credentials are resolved on every call and never cached.
package cluster

import (
	"context"
	"time"

	"k8s.io/client-go/rest"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

var (
	logger = log.Log.WithName("cluster")
)

// Endpoint is the connection context of one dispatch.
type Endpoint struct {
	// Name is the cluster name the endpoint was resolved for.
	Name string
	// Server is the URL of the API server.
	Server string
	// CAData holds PEM-encoded certificate authority data of the API server.
	CAData []byte
	// BearerToken authenticates the caller. It is never logged.
	BearerToken string
	// ExpiresAt is when BearerToken stops being accepted. Zero if unknown.
	ExpiresAt time.Time

	config *rest.Config
}

// RESTConfig returns a new client configuration for the endpoint.
func (e *Endpoint) RESTConfig() *rest.Config {
	if e.config != nil {
		return rest.CopyConfig(e.config)
	}
	return &rest.Config{
		Host:        e.Server,
		BearerToken: e.BearerToken,
		TLSClientConfig: rest.TLSClientConfig{
			CAData: e.CAData,
		},
	}
}

// Resolver resolves the connection context of a cluster.
type Resolver interface {
	Resolve(ctx context.Context, clusterName string) (*Endpoint, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, clusterName string) (*Endpoint, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, clusterName string) (*Endpoint, error) {
	return f(ctx, clusterName)
}
