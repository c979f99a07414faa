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

package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/yambo/spark-job-trigger/cmd/spark-job-trigger/app"
	"github.com/yambo/spark-job-trigger/internal/dispatcher"
	"github.com/yambo/spark-job-trigger/pkg/common"
)

var (
	jobType string
	jobID   string
	window  string
	output  string
)

func NewCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "dispatch",
		Short: "Submit a single SparkApplication run and print the result",
		Long: `Submit a single SparkApplication run rendered from the configured template.

The result is printed as JSON or YAML. The command exits non-zero unless the run
was submitted or is already running.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			app.SetupLog(cfg.Development)

			req, err := newRequest()
			if err != nil {
				return err
			}
			if output != "json" && output != "yaml" {
				return fmt.Errorf("unsupported --output %q", output)
			}

			d, err := app.NewDispatcher(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			result := d.Dispatch(cmd.Context(), req)

			out, err := encode(result, output)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))

			if result.Failed() {
				return fmt.Errorf("dispatch failed: %s", result.Message)
			}
			return nil
		},
	}

	command.Flags().StringVar(&jobType, "job-type", "", "Job type passed to the Spark job: check or extract.")
	command.Flags().StringVar(&jobID, "job-id", "", "Caller supplied identifier recorded on the run.")
	command.Flags().StringVar(&window, "window", "", "Schedule window of the run in RFC3339. Defaults to the latest window.")
	command.Flags().StringVarP(&output, "output", "o", "json", "Output format: json or yaml.")
	return command
}

func newRequest() (dispatcher.Request, error) {
	req := dispatcher.Request{
		JobID:       jobID,
		JobType:     jobType,
		TriggeredBy: common.TriggeredByCLI,
	}
	if window != "" {
		t, err := time.Parse(time.RFC3339, window)
		if err != nil {
			return dispatcher.Request{}, fmt.Errorf("invalid --window %q: %v", window, err)
		}
		req.ScheduleWindow = t
	}
	return req, nil
}

func encode(result dispatcher.Result, format string) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch format {
	case "yaml":
		out, err = yaml.Marshal(result)
	default:
		out, err = json.MarshalIndent(result, "", "  ")
		out = append(out, '\n')
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %v", err)
	}
	return out, nil
}
