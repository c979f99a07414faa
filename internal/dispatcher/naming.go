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

package dispatcher

import (
	"strings"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/yambo/spark-job-trigger/api/v1beta2"
	"github.com/yambo/spark-job-trigger/pkg/common"
	"github.com/yambo/spark-job-trigger/pkg/util"
)

const (
	// WindowLayout is the compact form of a schedule window used in names and labels.
	WindowLayout = "20060102T1504"

	hashLength = 8
)

// FormatWindow returns the compact form of window, in UTC.
func FormatWindow(window time.Time) string {
	return window.UTC().Format(WindowLayout)
}

// RunName returns the deterministic name of the run of req in window:
// <template>-<yyyymmddthhmm>-<hash>, where the hash covers namespace, template, window, job
// type and environment. Kubernetes names are lower case, so the window separator is too.
// The template part is shortened so that the name is a valid DNS-1123 label.
func RunName(req Request, window time.Time) string {
	stamp := FormatWindow(window)
	hash := util.ShortHash(req.Namespace, req.Template, stamp, req.JobType, req.Environment)
	suffix := "-" + strings.ToLower(stamp) + "-" + hash

	prefix := strings.ToLower(req.Template)
	if limit := validation.DNS1123LabelMaxLength - len(suffix); len(prefix) > limit {
		prefix = prefix[:limit]
	}
	prefix = strings.TrimRight(prefix, "-.")
	return prefix + suffix
}

// renderRun instantiates tmpl as the run of req. Server-populated metadata and status are
// dropped; name, namespace, labels and annotations identify the run.
func renderRun(tmpl *unstructured.Unstructured, req Request, window time.Time, runID string, now time.Time) *unstructured.Unstructured {
	run := tmpl.DeepCopy()
	run.SetGroupVersionKind(v1beta2.SparkApplicationGVK)

	run.SetGenerateName("")
	run.SetResourceVersion("")
	run.SetUID("")
	run.SetCreationTimestamp(metav1.Time{})
	run.SetDeletionTimestamp(nil)
	run.SetManagedFields(nil)
	unstructured.RemoveNestedField(run.Object, "metadata", "generation")
	unstructured.RemoveNestedField(run.Object, "metadata", "selfLink")
	unstructured.RemoveNestedField(run.Object, "status")

	run.SetName(RunName(req, window))
	run.SetNamespace(req.Namespace)

	labels := run.GetLabels()
	if labels == nil {
		labels = map[string]string{}
	}
	labels[common.LabelApp] = common.LabelAppValue
	labels[common.LabelJobType] = req.JobType
	labels[common.LabelEnvironment] = req.Environment
	labels[common.LabelTriggeredBy] = req.TriggeredBy
	labels[common.LabelTemplate] = req.Template
	labels[common.LabelScheduleWindow] = FormatWindow(window)
	run.SetLabels(labels)

	annotations := run.GetAnnotations()
	if annotations == nil {
		annotations = map[string]string{}
	}
	annotations[common.AnnotationRunID] = runID
	annotations[common.AnnotationSubmittedAt] = now.UTC().Format(time.RFC3339)
	annotations[common.AnnotationScheduleWindow] = window.UTC().Format(time.RFC3339)
	if req.JobID != "" {
		annotations[common.AnnotationJobID] = req.JobID
	}
	run.SetAnnotations(annotations)

	return run
}

// submittedAt reads the submission timestamp recorded on a run, falling back to its creation
// timestamp.
func submittedAt(run *unstructured.Unstructured) *time.Time {
	if value, ok := run.GetAnnotations()[common.AnnotationSubmittedAt]; ok {
		if t, err := time.Parse(time.RFC3339, value); err == nil {
			return &t
		}
	}
	if ts := run.GetCreationTimestamp(); !ts.IsZero() {
		t := ts.UTC()
		return &t
	}
	return nil
}
