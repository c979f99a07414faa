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
	"context"
	"fmt"
	"sort"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/yambo/spark-job-trigger/api/v1beta2"
	"github.com/yambo/spark-job-trigger/internal/controlplane"
	"github.com/yambo/spark-job-trigger/pkg/common"
)

// pruneHistory deletes finished runs of templateName beyond the configured history limits.
// Failures are logged and never change the dispatch result.
func (d *Dispatcher) pruneHistory(ctx context.Context, log logr.Logger, cp controlplane.Interface, namespace, templateName string) {
	successLimit, failureLimit := d.options.SuccessfulRunHistoryLimit, d.options.FailedRunHistoryLimit
	if successLimit < 0 && failureLimit < 0 {
		return
	}

	apps, err := cp.List(ctx, namespace, map[string]string{common.LabelTemplate: templateName})
	if err != nil {
		log.Error(err, "Failed to list past runs")
		return
	}

	var completedApps, failedApps []*unstructured.Unstructured
	for i := range apps {
		switch v1beta2.ApplicationStateOf(&apps[i]) {
		case v1beta2.ApplicationStateCompleted:
			completedApps = append(completedApps, &apps[i])
		case v1beta2.ApplicationStateFailed:
			failedApps = append(failedApps, &apps[i])
		}
	}

	var toDelete []*unstructured.Unstructured
	toDelete = append(toDelete, pastRunsToDelete(completedApps, successLimit)...)
	toDelete = append(toDelete, pastRunsToDelete(failedApps, failureLimit)...)

	var errs []error
	for _, app := range toDelete {
		if err := cp.Delete(ctx, app); err != nil && !controlplane.IsNotFound(err) {
			errs = append(errs, fmt.Errorf("failed to delete past run %s: %v", app.GetName(), err))
			continue
		}
		log.V(1).Info("Deleted past run", "name", app.GetName(), "state", v1beta2.ApplicationStateOf(app))
	}
	if err := utilerrors.NewAggregate(errs); err != nil {
		log.Error(err, "Failed to prune past runs")
	}
}

// pastRunsToDelete returns the runs beyond the newest limit ones. A negative limit keeps all.
func pastRunsToDelete(apps []*unstructured.Unstructured, limit int) []*unstructured.Unstructured {
	if limit < 0 || len(apps) <= limit {
		return nil
	}
	sortRunsInPlace(apps)
	return apps[limit:]
}

// sortRunsInPlace sorts runs by decreasing creation timestamp. Runs created in the same second
// are ordered by decreasing name, which embeds the schedule window.
func sortRunsInPlace(apps []*unstructured.Unstructured) {
	sort.Slice(apps, func(i, j int) bool {
		ti, tj := apps[i].GetCreationTimestamp(), apps[j].GetCreationTimestamp()
		if !ti.Equal(&tj) {
			return ti.After(tj.Time)
		}
		return apps[i].GetName() > apps[j].GetName()
	})
}
