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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/yambo/spark-job-trigger/pkg/common"
	"github.com/yambo/spark-job-trigger/pkg/util"
)

var (
	logger = log.Log.WithName("metrics")
)

// DefaultAttemptBuckets are the buckets of the attempts histogram.
var DefaultAttemptBuckets = []float64{1, 2, 3, 5, 8}

type DispatchMetrics struct {
	prefix string

	count        *prometheus.CounterVec
	failureCount *prometheus.CounterVec

	attempts        *prometheus.HistogramVec
	durationSeconds *prometheus.HistogramVec
}

func NewDispatchMetrics(prefix string) *DispatchMetrics {
	template := util.CreateValidMetricNameLabel("", common.MetricLabelTemplate)
	status := util.CreateValidMetricNameLabel("", common.MetricLabelStatus)
	kind := util.CreateValidMetricNameLabel("", common.MetricLabelKind)

	return &DispatchMetrics{
		prefix: prefix,

		count: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: util.CreateValidMetricNameLabel(prefix, common.MetricDispatchCount),
				Help: "Total number of dispatches by outcome",
			},
			[]string{template, status},
		),
		failureCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: util.CreateValidMetricNameLabel(prefix, common.MetricDispatchFailureCount),
				Help: "Total number of failed dispatches by error kind",
			},
			[]string{template, kind},
		),
		attempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    util.CreateValidMetricNameLabel(prefix, common.MetricDispatchAttempts),
				Help:    "Number of cluster API attempts made per dispatch",
				Buckets: DefaultAttemptBuckets,
			},
			[]string{template},
		),
		durationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    util.CreateValidMetricNameLabel(prefix, common.MetricDispatchDurationSeconds),
				Help:    "Wall-clock duration of dispatches",
				Buckets: prometheus.DefBuckets,
			},
			[]string{template, status},
		),
	}
}

func (m *DispatchMetrics) Register() {
	if err := metrics.Registry.Register(m.count); err != nil {
		logger.Error(err, "Failed to register dispatch metric", "name", common.MetricDispatchCount)
	}
	if err := metrics.Registry.Register(m.failureCount); err != nil {
		logger.Error(err, "Failed to register dispatch metric", "name", common.MetricDispatchFailureCount)
	}
	if err := metrics.Registry.Register(m.attempts); err != nil {
		logger.Error(err, "Failed to register dispatch metric", "name", common.MetricDispatchAttempts)
	}
	if err := metrics.Registry.Register(m.durationSeconds); err != nil {
		logger.Error(err, "Failed to register dispatch metric", "name", common.MetricDispatchDurationSeconds)
	}
}

// HandleDispatch records one finished dispatch. failureKind is empty unless the dispatch failed.
func (m *DispatchMetrics) HandleDispatch(template, status, failureKind string, attempts int, duration time.Duration) {
	if m == nil {
		return
	}
	m.count.WithLabelValues(template, status).Inc()
	if failureKind != "" {
		m.failureCount.WithLabelValues(template, failureKind).Inc()
	}
	if attempts > 0 {
		m.attempts.WithLabelValues(template).Observe(float64(attempts))
	}
	m.durationSeconds.WithLabelValues(template, status).Observe(duration.Seconds())
}
