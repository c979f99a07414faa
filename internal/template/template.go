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

// Package template resolves workload templates: the SparkApplication manifests a trigger
// request may name, loaded from S3, a local directory, or generated from the job type.
package template

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

var (
	logger = log.Log.WithName("template")
)

var (
	// ErrUnknownTemplate is returned for names that are not in the registry.
	ErrUnknownTemplate = errors.New("unknown template")
	// ErrTemplateNotFound is returned when a registered template has no manifest in its source.
	ErrTemplateNotFound = errors.New("template not found")
	// ErrInvalidTemplate is returned when a manifest holds no usable SparkApplication.
	ErrInvalidTemplate = errors.New("invalid template")
)

// Request identifies the template to load and the context it is rendered for.
type Request struct {
	Name        string
	Environment string
	JobType     string
}

// Source loads the SparkApplication of a template.
type Source interface {
	Load(ctx context.Context, req Request) (*unstructured.Unstructured, error)
}

// Registry restricts a Source to a fixed set of template names.
type Registry struct {
	names  map[string]struct{}
	source Source
}

// NewRegistry returns a registry serving the given names from source.
func NewRegistry(source Source, names ...string) *Registry {
	r := &Registry{
		names:  make(map[string]struct{}, len(names)),
		source: source,
	}
	for _, name := range names {
		r.names[name] = struct{}{}
	}
	return r
}

// Known reports whether name is registered. It never performs I/O.
func (r *Registry) Known(name string) bool {
	_, ok := r.names[name]
	return ok
}

// Names returns the registered names in lexical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.names))
	for name := range r.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve loads the template named by req. Unregistered names fail with ErrUnknownTemplate
// before the source is consulted.
func (r *Registry) Resolve(ctx context.Context, req Request) (*unstructured.Unstructured, error) {
	if !r.Known(req.Name) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, req.Name)
	}
	app, err := r.source.Load(ctx, req)
	if err != nil {
		return nil, err
	}
	logger.V(1).Info("Resolved template", "template", req.Name, "environment", req.Environment, "name", app.GetName())
	return app, nil
}

// IsConfigurationError reports whether err means the template itself is unusable, as opposed
// to a failure reaching its source.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrUnknownTemplate) || errors.Is(err, ErrTemplateNotFound) || errors.Is(err, ErrInvalidTemplate)
}
