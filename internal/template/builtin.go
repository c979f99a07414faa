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

package template

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/utils/ptr"

	"github.com/yambo/spark-job-trigger/api/v1beta2"
	"github.com/yambo/spark-job-trigger/pkg/common"
)

const (
	builtinDriverCores     = 2
	builtinDriverMemory    = "4096m"
	builtinExecutorCores   = 4
	builtinExecutorMemory  = "8192m"
	builtinExtractExecutor = 3
	builtinFailureRetries  = 2
	builtinRetryInterval   = 60
)

// BuiltinSource generates the PySpark application of the job runner image instead of
// reading a manifest. The job type and environment are passed to the application as
// arguments.
type BuiltinSource struct {
	imageRepository string
}

var _ Source = &BuiltinSource{}

// NewBuiltinSource returns a source generating applications that run <imageRepository>:latest.
func NewBuiltinSource(imageRepository string) *BuiltinSource {
	return &BuiltinSource{imageRepository: imageRepository}
}

// Load implements Source.
func (s *BuiltinSource) Load(_ context.Context, req Request) (*unstructured.Unstructured, error) {
	jobType := req.JobType
	if jobType == "" {
		jobType = common.JobTypeExtract
	}
	image := fmt.Sprintf("%s:latest", s.imageRepository)

	executorInstances := int32(0)
	if jobType == common.JobTypeExtract {
		executorInstances = builtinExtractExecutor
	}

	app := &v1beta2.SparkApplication{
		TypeMeta: metav1.TypeMeta{
			APIVersion: v1beta2.SchemeGroupVersion.String(),
			Kind:       v1beta2.SparkApplicationKind,
		},
		ObjectMeta: metav1.ObjectMeta{
			Name: req.Name,
		},
		Spec: v1beta2.SparkApplicationSpec{
			Type:                v1beta2.SparkApplicationTypePython,
			PythonVersion:       ptr.To("3"),
			Mode:                v1beta2.DeployModeCluster,
			Image:               ptr.To(image),
			ImagePullPolicy:     ptr.To(string(corev1.PullAlways)),
			MainApplicationFile: ptr.To(common.DefaultMainApplicationFile),
			Arguments: []string{
				"--job-type", jobType,
				"--environment", req.Environment,
			},
			SparkVersion: common.DefaultSparkVersion,
			RestartPolicy: v1beta2.RestartPolicy{
				Type:                   v1beta2.RestartPolicyOnFailure,
				OnFailureRetries:       ptr.To[int32](builtinFailureRetries),
				OnFailureRetryInterval: ptr.To[int64](builtinRetryInterval),
			},
			Driver: v1beta2.DriverSpec{
				SparkPodSpec: v1beta2.SparkPodSpec{
					Cores:          ptr.To[int32](builtinDriverCores),
					Memory:         ptr.To(builtinDriverMemory),
					ServiceAccount: ptr.To(common.DefaultServiceAccount),
					Labels: map[string]string{
						common.LabelJobType: jobType,
					},
				},
			},
			Executor: v1beta2.ExecutorSpec{
				SparkPodSpec: v1beta2.SparkPodSpec{
					Cores:  ptr.To[int32](builtinExecutorCores),
					Memory: ptr.To(builtinExecutorMemory),
					Labels: map[string]string{
						common.LabelJobType: jobType,
					},
				},
				Instances: ptr.To(executorInstances),
			},
		},
	}
	v1beta2.SetSparkApplicationDefaults(app)

	return v1beta2.ToUnstructured(app)
}
