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

// Package app holds the wiring shared by the trigger subcommands.
package app

import (
	"context"
	"flag"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/klog/v2"
	ctrl "sigs.k8s.io/controller-runtime"
	logzap "sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/yambo/spark-job-trigger/internal/cluster"
	"github.com/yambo/spark-job-trigger/internal/config"
	"github.com/yambo/spark-job-trigger/internal/controlplane"
	"github.com/yambo/spark-job-trigger/internal/dispatcher"
	"github.com/yambo/spark-job-trigger/internal/metrics"
	"github.com/yambo/spark-job-trigger/internal/template"
	"github.com/yambo/spark-job-trigger/pkg/util"
)

var (
	logger = ctrl.Log.WithName("setup")

	zapOptions = logzap.Options{}
)

// AddFlags registers the configuration, kubeconfig and logging flags on flags.
func AddFlags(flags *pflag.FlagSet) {
	config.AddFlags(flags)

	flagSet := flag.NewFlagSet("trigger", flag.ExitOnError)
	ctrl.RegisterFlags(flagSet)
	zapOptions.BindFlags(flagSet)
	flags.AddGoFlagSet(flagSet)
}

// LoadConfig reads the configuration from flags, the environment and the config file.
func LoadConfig(flags *pflag.FlagSet) (config.Config, error) {
	v := viper.New()
	if err := config.Bind(v, flags); err != nil {
		return config.Config{}, err
	}
	return config.Load(v)
}

// SetupLog configures the logging system.
func SetupLog(development bool) {
	ctrl.SetLogger(logzap.New(
		logzap.UseFlagOptions(&zapOptions),
		func(o *logzap.Options) {
			o.Development = development
		}, func(o *logzap.Options) {
			o.ZapOpts = append(o.ZapOpts, zap.AddCaller())
		}, func(o *logzap.Options) {
			var encoderConfig zapcore.EncoderConfig
			if !development {
				encoderConfig = zap.NewProductionEncoderConfig()
			} else {
				encoderConfig = zap.NewDevelopmentEncoderConfig()
				encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
			}
			encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
			encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
			if !development {
				o.Encoder = zapcore.NewJSONEncoder(encoderConfig)
			} else {
				o.Encoder = zapcore.NewConsoleEncoder(encoderConfig)
			}
		}),
	)
	// client-go logs through klog.
	klog.SetLogger(ctrl.Log.WithName("client-go"))
}

// NewDispatcher builds a dispatcher from cfg. dispatchMetrics may be nil.
func NewDispatcher(ctx context.Context, cfg config.Config, dispatchMetrics *metrics.DispatchMetrics) (*dispatcher.Dispatcher, error) {
	var awsConfig *aws.Config
	if cfg.TemplateSource == config.TemplateSourceS3 || cfg.CredentialMode == config.CredentialModeEKS {
		loaded, err := loadAWSConfig(ctx, cfg.Region)
		if err != nil {
			return nil, err
		}
		awsConfig = &loaded
	}

	source, err := newTemplateSource(cfg, awsConfig)
	if err != nil {
		return nil, err
	}
	resolver, err := newResolver(cfg, awsConfig)
	if err != nil {
		return nil, err
	}

	options := dispatcher.Options{
		ClusterName:       cfg.ClusterName,
		Namespace:         cfg.Namespace,
		Environment:       cfg.Environment,
		Template:          cfg.DefaultTemplate,
		ConcurrencyPolicy: cfg.ConcurrencyPolicy,
		Timeout:           cfg.Timeout,
		Retry: dispatcher.RetryPolicy{
			Attempts:  cfg.RetryAttempts,
			BaseDelay: cfg.RetryBaseDelay,
			Factor:    cfg.RetryFactor,
		},
		SuccessfulRunHistoryLimit: cfg.SuccessfulRunHistoryLimit,
		FailedRunHistoryLimit:     cfg.FailedRunHistoryLimit,
	}
	if cfg.WindowSchedule != "" {
		schedule, err := util.ParseSchedule(cfg.WindowSchedule, cfg.WindowTimeZone)
		if err != nil {
			return nil, err
		}
		options.WindowSchedule = schedule
	}

	registry := template.NewRegistry(source, cfg.Templates...)
	connector := controlplane.NewRESTConnector(cfg.KubeAPIQPS, cfg.KubeAPIBurst, cfg.Timeout)

	logger.Info("Dispatcher configured",
		"cluster", cfg.ClusterName,
		"credentialMode", cfg.CredentialMode,
		"templateSource", cfg.TemplateSource,
		"templates", registry.Names(),
		"namespace", cfg.Namespace,
		"environment", cfg.Environment,
	)
	return dispatcher.New(options, registry, resolver, connector, dispatcher.WithMetrics(dispatchMetrics)), nil
}

func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %v", err)
	}
	return cfg, nil
}

func newTemplateSource(cfg config.Config, awsConfig *aws.Config) (template.Source, error) {
	switch cfg.TemplateSource {
	case config.TemplateSourceS3:
		return template.NewS3Source(s3.NewFromConfig(*awsConfig), cfg.ManifestBucketFormat, cfg.ManifestKeyPrefix), nil
	case config.TemplateSourceFile:
		return template.NewFileSource(cfg.TemplateDir), nil
	case config.TemplateSourceBuiltin:
		return template.NewBuiltinSource(cfg.ImageRepository), nil
	}
	return nil, fmt.Errorf("unsupported template source %q", cfg.TemplateSource)
}

func newResolver(cfg config.Config, awsConfig *aws.Config) (cluster.Resolver, error) {
	switch cfg.CredentialMode {
	case config.CredentialModeEKS:
		return cluster.NewEKSResolverFromConfig(*awsConfig), nil
	case config.CredentialModeKubeconfig:
		return cluster.NewKubeconfigResolver(), nil
	}
	return nil, fmt.Errorf("unsupported credential mode %q", cfg.CredentialMode)
}
