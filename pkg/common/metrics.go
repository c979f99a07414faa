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

package common

// Dispatch metric names.
const (
	MetricDispatchCount = "spark_job_dispatch_count"

	MetricDispatchFailureCount = "spark_job_dispatch_failure_count"

	MetricDispatchAttempts = "spark_job_dispatch_attempts"

	MetricDispatchDurationSeconds = "spark_job_dispatch_duration_seconds"

	MetricSchedulerFiringCount = "spark_job_scheduler_firing_count"
)

// Metric label names.
const (
	MetricLabelStatus = "status"

	MetricLabelKind = "kind"

	MetricLabelTemplate = "template"

	MetricLabelJob = "job"
)
