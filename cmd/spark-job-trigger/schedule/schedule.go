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

package schedule

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	sparkjobtrigger "github.com/yambo/spark-job-trigger"
	"github.com/yambo/spark-job-trigger/cmd/spark-job-trigger/app"
	"github.com/yambo/spark-job-trigger/internal/config"
	"github.com/yambo/spark-job-trigger/internal/metrics"
	"github.com/yambo/spark-job-trigger/internal/scheduler"
)

var (
	logger = ctrl.Log.WithName("schedule")
)

const shutdownTimeout = 10 * time.Second

func NewCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "schedule",
		Short: "Run the configured jobs on their cron schedules",
		Long: `Run the jobs listed under "jobs" in the config file on their cron schedules.

Every firing dispatches one SparkApplication run for the schedule window of the
firing. The command runs until it receives SIGINT or SIGTERM.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			app.SetupLog(cfg.Development)
			logger.Info("Starting spark-job-trigger scheduler", "version", sparkjobtrigger.GetVersion().Version)
			return run(ctrl.SetupSignalHandler(), cfg)
		},
	}
	return command
}

func run(ctx context.Context, cfg config.Config) error {
	if len(cfg.Jobs) == 0 {
		return fmt.Errorf("no jobs configured")
	}

	var dispatchMetrics *metrics.DispatchMetrics
	var schedulerMetrics *metrics.SchedulerMetrics
	if cfg.Metrics.Enable {
		dispatchMetrics = metrics.NewDispatchMetrics(cfg.Metrics.Prefix)
		dispatchMetrics.Register()
		schedulerMetrics = metrics.NewSchedulerMetrics(cfg.Metrics.Prefix)
		schedulerMetrics.Register()
	}

	d, err := app.NewDispatcher(ctx, cfg, dispatchMetrics)
	if err != nil {
		return err
	}
	runner, err := scheduler.NewRunner(d, cfg.Jobs, cfg.WindowTimeZone, scheduler.WithMetrics(schedulerMetrics))
	if err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enable {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Endpoint, promhttp.HandlerFor(ctrlmetrics.Registry, promhttp.HandlerOpts{}))
		group.Go(func() error {
			return serve(ctx, "metrics", cfg.Metrics.BindAddress, mux)
		})
	}
	if cfg.HealthProbeBindAddress != "" && cfg.HealthProbeBindAddress != "0" {
		mux := http.NewServeMux()
		mux.Handle("/healthz", &healthz.Handler{Checks: map[string]healthz.Checker{"ping": healthz.Ping}})
		mux.Handle("/readyz", &healthz.Handler{Checks: map[string]healthz.Checker{"ping": healthz.Ping}})
		group.Go(func() error {
			return serve(ctx, "health probe", cfg.HealthProbeBindAddress, mux)
		})
	}
	group.Go(func() error {
		return runner.Start(ctx)
	})

	if err := group.Wait(); err != nil {
		logger.Error(err, "Scheduler stopped with error")
		return err
	}
	logger.Info("Scheduler stopped")
	return nil
}

// serve runs an HTTP server on addr until ctx is done.
func serve(ctx context.Context, name, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "name", name, "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server: %v", name, err)
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down %s server: %v", name, err)
	}
	return nil
}
