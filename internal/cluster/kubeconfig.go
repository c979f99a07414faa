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

package cluster

import (
	"context"
	"fmt"

	"k8s.io/client-go/rest"
	ctrl "sigs.k8s.io/controller-runtime"
)

// KubeconfigResolver resolves the cluster of the ambient kubeconfig or in-cluster config.
// The cluster name is informational only.
type KubeconfigResolver struct {
	load func() (*rest.Config, error)
}

var _ Resolver = &KubeconfigResolver{}

// NewKubeconfigResolver returns a resolver using the controller-runtime config lookup:
// --kubeconfig, $KUBECONFIG, in-cluster, then ~/.kube/config.
func NewKubeconfigResolver() *KubeconfigResolver {
	return &KubeconfigResolver{load: ctrl.GetConfig}
}

// Resolve implements Resolver.
func (r *KubeconfigResolver) Resolve(_ context.Context, clusterName string) (*Endpoint, error) {
	cfg, err := r.load()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	return &Endpoint{
		Name:        clusterName,
		Server:      cfg.Host,
		CAData:      cfg.CAData,
		BearerToken: cfg.BearerToken,
		config:      cfg,
	}, nil
}
