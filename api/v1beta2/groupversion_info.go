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

// Package v1beta2 contains the wire types of the sparkoperator.k8s.io/v1beta2 API group that
// the trigger submits. Objects travel as unstructured content; these types describe the fields
// the trigger renders or reads back.
package v1beta2

import (
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

const (
	Group   = "sparkoperator.k8s.io"
	Version = "v1beta2"

	SparkApplicationKind     = "SparkApplication"
	SparkApplicationListKind = "SparkApplicationList"
	SparkApplicationResource = "sparkapplications"
)

var (
	// SchemeGroupVersion is group version used to register these objects.
	SchemeGroupVersion = schema.GroupVersion{Group: Group, Version: Version}

	// SparkApplicationGVK is the GroupVersionKind of SparkApplication objects.
	SparkApplicationGVK = SchemeGroupVersion.WithKind(SparkApplicationKind)

	// SparkApplicationListGVK is the GroupVersionKind of SparkApplication lists.
	SparkApplicationListGVK = SchemeGroupVersion.WithKind(SparkApplicationListKind)

	// SparkApplicationGVR is the GroupVersionResource of SparkApplication objects.
	SparkApplicationGVR = SchemeGroupVersion.WithResource(SparkApplicationResource)
)

// AddToScheme registers SparkApplication as an unstructured kind so that typed clients,
// REST mappers and fake clients can resolve it without generated deep-copy code.
func AddToScheme(scheme *runtime.Scheme) error {
	scheme.AddKnownTypeWithName(SparkApplicationGVK, &unstructured.Unstructured{})
	scheme.AddKnownTypeWithName(SparkApplicationListGVK, &unstructured.UnstructuredList{})
	return nil
}

// NewSparkApplication returns an empty unstructured SparkApplication.
func NewSparkApplication() *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	u.SetGroupVersionKind(SparkApplicationGVK)
	return u
}

// NewSparkApplicationList returns an empty unstructured SparkApplicationList.
func NewSparkApplicationList() *unstructured.UnstructuredList {
	l := &unstructured.UnstructuredList{}
	l.SetGroupVersionKind(SparkApplicationListGVK)
	return l
}

// ApplicationStateOf reads .status.applicationState.state from an unstructured SparkApplication.
func ApplicationStateOf(u *unstructured.Unstructured) ApplicationStateType {
	if u == nil {
		return ApplicationStateNew
	}
	state, _, _ := unstructured.NestedString(u.Object, "status", "applicationState", "state")
	return ApplicationStateType(state)
}

// ToUnstructured converts a typed SparkApplication into unstructured content.
func ToUnstructured(app *SparkApplication) (*unstructured.Unstructured, error) {
	content, err := runtime.DefaultUnstructuredConverter.ToUnstructured(app)
	if err != nil {
		return nil, err
	}
	u := &unstructured.Unstructured{Object: content}
	u.SetGroupVersionKind(SparkApplicationGVK)
	return u, nil
}
