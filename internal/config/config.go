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
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/yambo/spark-job-trigger/api/v1beta2"
	"github.com/yambo/spark-job-trigger/pkg/common"
	"github.com/yambo/spark-job-trigger/pkg/util"
)

// Configuration keys. Each key is also the name of the corresponding command-line flag.
const (
	KeyConfigFile = "config"

	KeyClusterName     = "cluster-name"
	KeyRegion          = "region"
	KeyNamespace       = "namespace"
	KeyEnvironment     = "environment"
	KeyTemplate        = "template"
	KeyTemplates       = "templates"
	KeyTemplateSource  = "template-source"
	KeyManifestBucket  = "manifest-bucket-format"
	KeyManifestPrefix  = "manifest-key-prefix"
	KeyTemplateDir     = "template-dir"
	KeyImageRepository = "image-repository"
	KeyCredentialMode  = "credential-mode"

	KeyTimeout        = "dispatch-timeout"
	KeyRetryAttempts  = "retry-attempts"
	KeyRetryBaseDelay = "retry-base-delay"
	KeyRetryFactor    = "retry-factor"

	KeyConcurrencyPolicy = "concurrency-policy"
	KeyWindowSchedule    = "window-schedule"
	KeyWindowTimeZone    = "window-timezone"

	KeySuccessfulRunHistoryLimit = "successful-run-history-limit"
	KeyFailedRunHistoryLimit     = "failed-run-history-limit"

	KeyKubeAPIQPS   = "kube-api-qps"
	KeyKubeAPIBurst = "kube-api-burst"

	KeyDevelopment = "development"

	KeyEnableMetrics          = "enable-metrics"
	KeyMetricsBindAddress     = "metrics-bind-address"
	KeyMetricsEndpoint        = "metrics-endpoint"
	KeyMetricsPrefix          = "metrics-prefix"
	KeyHealthProbeBindAddress = "health-probe-bind-address"

	KeyLambdaFailOnError = "lambda-fail-on-error"

	KeyJobs = "jobs"
)

// Template sources.
const (
	TemplateSourceS3      = "s3"
	TemplateSourceFile    = "file"
	TemplateSourceBuiltin = "builtin"
)

// Credential modes.
const (
	CredentialModeEKS        = "eks"
	CredentialModeKubeconfig = "kubeconfig"
)

// Config is the process configuration. It is loaded once at start and never mutated afterwards.
type Config struct {
	ClusterName string
	Region      string
	Namespace   string
	Environment string

	// DefaultTemplate is used when a trigger request names no template.
	DefaultTemplate string
	// Templates lists every template name a request may refer to. DefaultTemplate is always included.
	Templates []string

	TemplateSource       string
	ManifestBucketFormat string
	ManifestKeyPrefix    string
	TemplateDir          string
	ImageRepository      string

	CredentialMode string

	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryFactor    float64

	ConcurrencyPolicy v1beta2.ConcurrencyPolicy
	// WindowSchedule is an optional cron expression; the schedule window of a request without an
	// explicit window is the latest firing of this schedule.
	WindowSchedule string
	WindowTimeZone string

	// Negative limits disable pruning of past runs.
	SuccessfulRunHistoryLimit int
	FailedRunHistoryLimit     int

	KubeAPIQPS   float64
	KubeAPIBurst int

	Development bool

	Metrics MetricsConfig

	HealthProbeBindAddress string

	LambdaFailOnError bool

	// Jobs are the cron jobs run by the schedule command. They can only be set in the config file.
	Jobs []JobConfig
}

// MetricsConfig configures the prometheus endpoint of the schedule command.
type MetricsConfig struct {
	Enable      bool
	BindAddress string
	Endpoint    string
	Prefix      string
}

// JobConfig is one scheduled job of the schedule command.
type JobConfig struct {
	Name        string `mapstructure:"name"`
	Schedule    string `mapstructure:"schedule"`
	JobType     string `mapstructure:"jobType"`
	Template    string `mapstructure:"template"`
	Namespace   string `mapstructure:"namespace"`
	Environment string `mapstructure:"environment"`
}

// AddFlags registers every configuration flag with its default on the given flag set.
func AddFlags(flags *pflag.FlagSet) {
	flags.String(KeyConfigFile, "", "Path to a YAML config file.")

	flags.String(KeyClusterName, "", "Name of the EKS cluster running the Spark operator.")
	flags.String(KeyRegion, "", "AWS region of the cluster and the manifest bucket.")
	flags.String(KeyNamespace, common.DefaultNamespace, "Namespace in which SparkApplications are created.")
	flags.String(KeyEnvironment, "", "Deployment environment, e.g. dev or prod.")
	flags.String(KeyTemplate, common.DefaultTemplateName, "Template used when a request names none.")
	flags.StringSlice(KeyTemplates, []string{}, "Names of the templates a request may refer to.")
	flags.String(KeyTemplateSource, TemplateSourceS3, "Where templates are loaded from: s3, file or builtin.")
	flags.String(KeyManifestBucket, common.DefaultManifestBucketFormat, "Bucket name format of the manifest bucket; %s is replaced by the environment.")
	flags.String(KeyManifestPrefix, common.DefaultManifestKeyPrefix, "Key prefix of the manifests in the manifest bucket.")
	flags.String(KeyTemplateDir, "", "Directory holding <template>.yaml files when the template source is file.")
	flags.String(KeyImageRepository, "", "Container image repository used by builtin templates.")
	flags.String(KeyCredentialMode, CredentialModeEKS, "How cluster credentials are obtained: eks or kubeconfig.")

	flags.Duration(KeyTimeout, 60*time.Second, "Upper bound on a single dispatch, including retries.")
	flags.Int(KeyRetryAttempts, 3, "Number of attempts made against the cluster API on transient errors.")
	flags.Duration(KeyRetryBaseDelay, time.Second, "Base delay of the exponential backoff between attempts.")
	flags.Float64(KeyRetryFactor, 2, "Multiplier of the exponential backoff between attempts.")

	flags.String(KeyConcurrencyPolicy, string(v1beta2.ConcurrencyAllow), "Concurrency policy between runs of the same template: Allow or Forbid.")
	flags.String(KeyWindowSchedule, "", "Cron expression whose latest firing is the schedule window of requests without one.")
	flags.String(KeyWindowTimeZone, "UTC", "Time zone of the window schedule.")

	flags.Int(KeySuccessfulRunHistoryLimit, 3, "Number of completed runs of a template to keep; negative disables pruning.")
	flags.Int(KeyFailedRunHistoryLimit, 3, "Number of failed runs of a template to keep; negative disables pruning.")

	flags.Float64(KeyKubeAPIQPS, 5, "Client-side QPS limit towards the cluster API; 0 disables throttling.")
	flags.Int(KeyKubeAPIBurst, 10, "Client-side burst towards the cluster API.")

	flags.Bool(KeyDevelopment, false, "Use development logging.")

	flags.Bool(KeyEnableMetrics, false, "Enable metrics.")
	flags.String(KeyMetricsBindAddress, ":8080", "The address the metric endpoint binds to.")
	flags.String(KeyMetricsEndpoint, "/metrics", "Metrics endpoint.")
	flags.String(KeyMetricsPrefix, "", "Prefix for the metrics.")
	flags.String(KeyHealthProbeBindAddress, ":8081", "The address the probe endpoint binds to.")

	flags.Bool(KeyLambdaFailOnError, true, "Return an invocation error for authentication and dispatch failures so the Lambda retry policy applies.")
}

// Bind wires the flag set and the environment into v. The Lambda environment variable names
// are bound explicitly; every other key can be set as SPARK_TRIGGER_<KEY>.
func Bind(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return fmt.Errorf("failed to bind flags: %v", err)
	}

	v.SetEnvPrefix("SPARK_TRIGGER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	legacy := map[string]string{
		KeyClusterName:     common.EnvEKSClusterName,
		KeyRegion:          common.EnvAWSRegion,
		KeyNamespace:       common.EnvNamespace,
		KeyTemplate:        common.EnvJobName,
		KeyEnvironment:     common.EnvEnvironment,
		KeyImageRepository: common.EnvECRRepositoryURL,
	}
	for key, env := range legacy {
		if err := v.BindEnv(key, "SPARK_TRIGGER_"+strings.ToUpper(strings.ReplaceAll(key, "-", "_")), env); err != nil {
			return fmt.Errorf("failed to bind environment variable %s: %v", env, err)
		}
	}
	return nil
}

// Load reads the config file, if any, and returns the validated configuration.
func Load(v *viper.Viper) (Config, error) {
	if path := v.GetString(KeyConfigFile); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %v", path, err)
		}
	}

	cfg := Config{
		ClusterName:          v.GetString(KeyClusterName),
		Region:               v.GetString(KeyRegion),
		Namespace:            v.GetString(KeyNamespace),
		Environment:          v.GetString(KeyEnvironment),
		DefaultTemplate:      v.GetString(KeyTemplate),
		Templates:            util.CompactStrings(v.GetStringSlice(KeyTemplates)),
		TemplateSource:       strings.ToLower(v.GetString(KeyTemplateSource)),
		ManifestBucketFormat: v.GetString(KeyManifestBucket),
		ManifestKeyPrefix:    v.GetString(KeyManifestPrefix),
		TemplateDir:          v.GetString(KeyTemplateDir),
		ImageRepository:      v.GetString(KeyImageRepository),
		CredentialMode:       strings.ToLower(v.GetString(KeyCredentialMode)),

		Timeout:        v.GetDuration(KeyTimeout),
		RetryAttempts:  v.GetInt(KeyRetryAttempts),
		RetryBaseDelay: v.GetDuration(KeyRetryBaseDelay),
		RetryFactor:    v.GetFloat64(KeyRetryFactor),

		ConcurrencyPolicy: v1beta2.ConcurrencyPolicy(v.GetString(KeyConcurrencyPolicy)),
		WindowSchedule:    v.GetString(KeyWindowSchedule),
		WindowTimeZone:    v.GetString(KeyWindowTimeZone),

		SuccessfulRunHistoryLimit: v.GetInt(KeySuccessfulRunHistoryLimit),
		FailedRunHistoryLimit:     v.GetInt(KeyFailedRunHistoryLimit),

		KubeAPIQPS:   v.GetFloat64(KeyKubeAPIQPS),
		KubeAPIBurst: v.GetInt(KeyKubeAPIBurst),

		Development: v.GetBool(KeyDevelopment),

		Metrics: MetricsConfig{
			Enable:      v.GetBool(KeyEnableMetrics),
			BindAddress: v.GetString(KeyMetricsBindAddress),
			Endpoint:    v.GetString(KeyMetricsEndpoint),
			Prefix:      v.GetString(KeyMetricsPrefix),
		},

		HealthProbeBindAddress: v.GetString(KeyHealthProbeBindAddress),

		LambdaFailOnError: v.GetBool(KeyLambdaFailOnError),
	}

	if v.IsSet(KeyJobs) {
		if err := v.UnmarshalKey(KeyJobs, &cfg.Jobs); err != nil {
			return Config{}, fmt.Errorf("failed to decode %s: %v", KeyJobs, err)
		}
	}

	if cfg.DefaultTemplate != "" && !util.ContainsString(cfg.Templates, cfg.DefaultTemplate) {
		cfg.Templates = append(cfg.Templates, cfg.DefaultTemplate)
	}
	for i := range cfg.Jobs {
		job := &cfg.Jobs[i]
		if job.Template == "" {
			job.Template = cfg.DefaultTemplate
		}
		if job.Namespace == "" {
			job.Namespace = cfg.Namespace
		}
		if job.Environment == "" {
			job.Environment = cfg.Environment
		}
		if !util.ContainsString(cfg.Templates, job.Template) {
			cfg.Templates = append(cfg.Templates, job.Template)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
