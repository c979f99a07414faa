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

// Package lambda adapts the dispatcher to the AWS Lambda runtime. It accepts the event shapes
// of the EventBridge schedules that invoke the trigger.
package lambda

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/yambo/spark-job-trigger/internal/dispatcher"
	"github.com/yambo/spark-job-trigger/pkg/common"
)

var (
	logger = log.Log.WithName("lambda")
)

// Event is the payload of a schedule. Every field is optional.
type Event struct {
	JobID            string `json:"jobId,omitempty"`
	JobType          string `json:"jobType,omitempty"`
	Environment      string `json:"environment,omitempty"`
	SparkApplication string `json:"sparkApplication,omitempty"`
	Namespace        string `json:"namespace,omitempty"`
	// ScheduleWindow is an RFC3339 timestamp.
	ScheduleWindow string `json:"scheduleWindow,omitempty"`
	// JobName is the template override accepted by earlier schedules.
	JobName string `json:"job_name,omitempty"`
}

// Response is returned to the invoker.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// Dispatcher submits trigger requests.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatcher.Request) dispatcher.Result
}

// Handler handles one invocation per event.
type Handler struct {
	dispatcher Dispatcher
	// failOnError returns authentication and dispatch failures as invocation errors so that
	// the asynchronous invocation retry policy applies.
	failOnError bool
}

// NewHandler returns a handler dispatching through d.
func NewHandler(d Dispatcher, failOnError bool) *Handler {
	return &Handler{dispatcher: d, failOnError: failOnError}
}

// Start runs the Lambda runtime loop. It never returns.
func Start(h *Handler) {
	lambda.Start(h.Handle)
}

// Handle implements the Lambda handler.
func (h *Handler) Handle(ctx context.Context, payload json.RawMessage) (Response, error) {
	log := logger
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		log = log.WithValues("requestId", lc.AwsRequestID)
	}

	var result dispatcher.Result
	req, err := ParseRequest(payload)
	if err != nil {
		dispatchErr := &dispatcher.Error{
			Kind:    dispatcher.ErrorKindConfiguration,
			Reason:  dispatcher.ReasonInvalidRequest,
			Message: "invalid event",
			Cause:   err,
		}
		result = dispatcher.Result{
			Status:  dispatcher.StatusFailed,
			Phase:   dispatcher.PhaseFailed,
			Message: dispatchErr.Error(),
			Error:   dispatchErr,
		}
		log.Error(err, "Rejected event")
	} else {
		result = h.dispatcher.Dispatch(ctx, req)
	}

	body, err := json.Marshal(result)
	if err != nil {
		return Response{}, fmt.Errorf("failed to encode result: %v", err)
	}
	resp := Response{StatusCode: 200, Body: string(body)}
	if !result.Failed() {
		return resp, nil
	}

	resp.StatusCode = 500
	if h.failOnError && result.Error != nil {
		switch result.Error.Kind {
		case dispatcher.ErrorKindAuthentication, dispatcher.ErrorKindDispatch:
			return resp, result.Error
		}
	}
	return resp, nil
}

// ParseRequest builds a trigger request from a direct event or an EventBridge envelope whose
// detail holds the event. The envelope time is the schedule window unless the event names one.
func ParseRequest(payload json.RawMessage) (dispatcher.Request, error) {
	var (
		event    Event
		envelope events.CloudWatchEvent
		window   time.Time
	)

	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, &envelope); err == nil && envelope.DetailType != "" {
			if len(envelope.Detail) > 0 && string(envelope.Detail) != "null" {
				if err := json.Unmarshal(envelope.Detail, &event); err != nil {
					return dispatcher.Request{}, fmt.Errorf("failed to decode event detail: %v", err)
				}
			}
			if event.JobID == "" {
				event.JobID = envelope.ID
			}
			window = envelope.Time
		} else if err := json.Unmarshal(payload, &event); err != nil {
			return dispatcher.Request{}, fmt.Errorf("failed to decode event: %v", err)
		}
	}

	if event.ScheduleWindow != "" {
		t, err := time.Parse(time.RFC3339, event.ScheduleWindow)
		if err != nil {
			return dispatcher.Request{}, fmt.Errorf("invalid scheduleWindow %q: %v", event.ScheduleWindow, err)
		}
		window = t
	}

	template := event.SparkApplication
	if template == "" {
		template = event.JobName
	}

	return dispatcher.Request{
		JobID:          event.JobID,
		JobType:        event.JobType,
		Namespace:      event.Namespace,
		Environment:    event.Environment,
		Template:       template,
		ScheduleWindow: window,
		TriggeredBy:    common.TriggeredByEventBridge,
	}, nil
}
