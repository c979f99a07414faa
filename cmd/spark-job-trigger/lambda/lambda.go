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

package lambda

import (
	"github.com/spf13/cobra"

	"github.com/yambo/spark-job-trigger/cmd/spark-job-trigger/app"
	triggerlambda "github.com/yambo/spark-job-trigger/internal/lambda"
)

func NewCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "lambda",
		Short: "Serve EventBridge trigger events on the AWS Lambda runtime",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return Run(cmd)
		},
	}
	return command
}

// Run starts the Lambda runtime loop with the configuration of cmd. It only returns on error.
func Run(cmd *cobra.Command) error {
	cfg, err := app.LoadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	app.SetupLog(cfg.Development)

	d, err := app.NewDispatcher(cmd.Context(), cfg, nil)
	if err != nil {
		return err
	}
	triggerlambda.Start(triggerlambda.NewHandler(d, cfg.LambdaFailOnError))
	return nil
}
