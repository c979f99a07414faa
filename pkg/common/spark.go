/*
Copyright 2017 Google LLC

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

// Process environment variables, as set on the trigger Lambda.
const (
	EnvEKSClusterName = "EKS_CLUSTER_NAME"

	EnvAWSRegion = "AWS_REGION"

	EnvNamespace = "NAMESPACE"

	EnvJobName = "JOB_NAME"

	EnvEnvironment = "ENVIRONMENT"

	EnvECRRepositoryURL = "ECR_REPOSITORY_URL"
)

// Defaults shared by every entrypoint.
const (
	DefaultNamespace = "spark-jobs"

	DefaultTemplateName = "yambo-extract-job"

	DefaultManifestBucketFormat = "yambo-%s-manifests"

	DefaultManifestKeyPrefix = "spark-jobs/"

	DefaultServiceAccount = "spark-job-sa"

	DefaultMainApplicationFile = "local:///opt/spark/work-dir/src/spark_jobs/main.py"

	DefaultSparkVersion = "3.5.0"
)

// Job types understood by the Spark entrypoint.
const (
	JobTypeCheck = "check"

	JobTypeExtract = "extract"
)

// Labels added to every SparkApplication created by the trigger.
const (
	// LabelApp groups all runs of the pipeline.
	LabelApp = "app"

	// LabelAppValue is the value of LabelApp.
	LabelAppValue = "yambo-spark-job"

	// LabelJobType records the job type (check or extract) of the run.
	LabelJobType = "job-type"

	// LabelEnvironment records the deployment environment of the run.
	LabelEnvironment = "environment"

	// LabelTriggeredBy records which entrypoint submitted the run.
	LabelTriggeredBy = "triggered-by"

	// LabelAnnotationPrefix is the prefix of every label and annotation owned by the trigger.
	LabelAnnotationPrefix = "sparkjobtrigger.yambo.io/"

	// LabelTemplate is the name of the template the run was rendered from.
	LabelTemplate = LabelAnnotationPrefix + "template"

	// LabelScheduleWindow is the compact schedule window (yyyymmddThhmm) of the run.
	LabelScheduleWindow = LabelAnnotationPrefix + "window"
)

// Annotations added to every SparkApplication created by the trigger.
const (
	// AnnotationRunID is a random identifier unique to one submission.
	AnnotationRunID = LabelAnnotationPrefix + "run-id"

	// AnnotationSubmittedAt is the RFC3339 submission timestamp.
	AnnotationSubmittedAt = LabelAnnotationPrefix + "submitted-at"

	// AnnotationScheduleWindow is the RFC3339 schedule window of the run.
	AnnotationScheduleWindow = LabelAnnotationPrefix + "schedule-window"

	// AnnotationJobID is the identifier of the trigger that produced the run.
	AnnotationJobID = LabelAnnotationPrefix + "job-id"
)

// Values of LabelTriggeredBy.
const (
	TriggeredByEventBridge = "eventbridge"

	TriggeredByScheduler = "scheduler"

	TriggeredByCLI = "cli"
)
