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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/yambo/spark-job-trigger/pkg/common"
	"github.com/yambo/spark-job-trigger/pkg/util"
)

type SchedulerMetrics struct {
	prefix string

	firingCount *prometheus.CounterVec
}

func NewSchedulerMetrics(prefix string) *SchedulerMetrics {
	return &SchedulerMetrics{
		prefix: prefix,

		firingCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: util.CreateValidMetricNameLabel(prefix, common.MetricSchedulerFiringCount),
				Help: "Total number of cron firings by job and dispatch outcome",
			},
			[]string{
				util.CreateValidMetricNameLabel("", common.MetricLabelJob),
				util.CreateValidMetricNameLabel("", common.MetricLabelStatus),
			},
		),
	}
}

func (m *SchedulerMetrics) Register() {
	if err := metrics.Registry.Register(m.firingCount); err != nil {
		logger.Error(err, "Failed to register scheduler metric", "name", common.MetricSchedulerFiringCount)
	}
}

func (m *SchedulerMetrics) HandleFiring(job, status string) {
	if m == nil {
		return
	}
	m.firingCount.WithLabelValues(job, status).Inc()
}
