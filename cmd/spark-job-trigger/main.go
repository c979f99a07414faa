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

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yambo/spark-job-trigger/cmd/spark-job-trigger/app"
	"github.com/yambo/spark-job-trigger/cmd/spark-job-trigger/dispatch"
	"github.com/yambo/spark-job-trigger/cmd/spark-job-trigger/lambda"
	"github.com/yambo/spark-job-trigger/cmd/spark-job-trigger/schedule"
	"github.com/yambo/spark-job-trigger/cmd/spark-job-trigger/version"
)

// envLambdaRuntimeAPI is set by the Lambda runtime; the bare binary then serves events.
const envLambdaRuntimeAPI = "AWS_LAMBDA_RUNTIME_API"

func NewCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "spark-job-trigger",
		Short: "Submit scheduled SparkApplications to an EKS cluster",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if os.Getenv(envLambdaRuntimeAPI) != "" {
				return lambda.Run(cmd)
			}
			return cmd.Help()
		},
	}
	app.AddFlags(command.PersistentFlags())

	command.AddCommand(lambda.NewCommand())
	command.AddCommand(dispatch.NewCommand())
	command.AddCommand(schedule.NewCommand())
	command.AddCommand(version.NewCommand())
	return command
}

func main() {
	if err := NewCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
