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

package config

import (
	"fmt"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/yambo/spark-job-trigger/api/v1beta2"
	"github.com/yambo/spark-job-trigger/pkg/common"
	"github.com/yambo/spark-job-trigger/pkg/util"
)

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []error

	switch c.CredentialMode {
	case CredentialModeEKS:
		if c.ClusterName == "" {
			errs = append(errs, fmt.Errorf("%s is required when %s is %s", KeyClusterName, KeyCredentialMode, CredentialModeEKS))
		}
	case CredentialModeKubeconfig:
	default:
		errs = append(errs, fmt.Errorf("unsupported %s %q", KeyCredentialMode, c.CredentialMode))
	}

	if c.Environment == "" {
		errs = append(errs, fmt.Errorf("%s is required", KeyEnvironment))
	}

	if msgs := validation.IsDNS1123Label(c.Namespace); len(msgs) > 0 {
		errs = append(errs, fmt.Errorf("invalid %s %q: %v", KeyNamespace, c.Namespace, msgs))
	}

	if len(c.Templates) == 0 {
		errs = append(errs, fmt.Errorf("at least one template must be configured"))
	}
	names := c.Templates
	if c.DefaultTemplate != "" && !util.ContainsString(names, c.DefaultTemplate) {
		names = append(names[:len(names):len(names)], c.DefaultTemplate)
	}
	for _, name := range names {
		// Template names prefix run names and label the runs.
		if msgs := validation.IsDNS1123Label(name); len(msgs) > 0 {
			errs = append(errs, fmt.Errorf("invalid template name %q: %v", name, msgs))
		}
	}

	switch c.TemplateSource {
	case TemplateSourceS3:
		if c.ManifestBucketFormat == "" {
			errs = append(errs, fmt.Errorf("%s is required when %s is %s", KeyManifestBucket, KeyTemplateSource, TemplateSourceS3))
		}
	case TemplateSourceFile:
		if c.TemplateDir == "" {
			errs = append(errs, fmt.Errorf("%s is required when %s is %s", KeyTemplateDir, KeyTemplateSource, TemplateSourceFile))
		}
	case TemplateSourceBuiltin:
		if c.ImageRepository == "" {
			errs = append(errs, fmt.Errorf("%s is required when %s is %s", KeyImageRepository, KeyTemplateSource, TemplateSourceBuiltin))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported %s %q", KeyTemplateSource, c.TemplateSource))
	}

	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyTimeout))
	}
	if c.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("%s must be at least 1", KeyRetryAttempts))
	}
	if c.RetryBaseDelay < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyRetryBaseDelay))
	}
	if c.RetryFactor < 1 {
		errs = append(errs, fmt.Errorf("%s must be at least 1", KeyRetryFactor))
	}

	switch c.ConcurrencyPolicy {
	case v1beta2.ConcurrencyAllow, v1beta2.ConcurrencyForbid:
	default:
		errs = append(errs, fmt.Errorf("unsupported %s %q", KeyConcurrencyPolicy, c.ConcurrencyPolicy))
	}

	if c.WindowSchedule != "" {
		if _, err := util.ParseSchedule(c.WindowSchedule, c.WindowTimeZone); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %v", KeyWindowSchedule, err))
		}
	}

	for i, job := range c.Jobs {
		if job.Name == "" {
			errs = append(errs, fmt.Errorf("jobs[%d]: name is required", i))
		}
		if _, err := util.ParseSchedule(job.Schedule, c.WindowTimeZone); err != nil {
			errs = append(errs, fmt.Errorf("jobs[%d]: %v", i, err))
		}
		if job.JobType != common.JobTypeCheck && job.JobType != common.JobTypeExtract {
			errs = append(errs, fmt.Errorf("jobs[%d]: unsupported jobType %q", i, job.JobType))
		}
	}

	return utilerrors.NewAggregate(errs)
}
