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

package util

import (
	"fmt"
	"strings"
	"time"

	_ "time/tzdata"

	"github.com/robfig/cron/v3"
)

// ParseSchedule parses a standard cron expression (or descriptor such as @hourly) in the given
// time zone. Expressions that already carry a CRON_TZ= or TZ= prefix keep their own zone.
func ParseSchedule(expr string, timezone string) (cron.Schedule, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %v", timezone, err)
	}

	if !strings.HasPrefix(expr, "CRON_TZ=") && !strings.HasPrefix(expr, "TZ=") {
		expr = fmt.Sprintf("CRON_TZ=%s %s", timezone, expr)
	}

	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %v", expr, err)
	}
	return schedule, nil
}

// lookbacks are the successively larger spans searched for the latest firing of a schedule.
var lookbacks = []time.Duration{
	time.Hour,
	24 * time.Hour,
	8 * 24 * time.Hour,
	366 * 24 * time.Hour,
}

// PreviousFiring returns the latest activation time of schedule that is not after now.
// The second return value is false if the schedule has not fired within the last year.
func PreviousFiring(schedule cron.Schedule, now time.Time) (time.Time, bool) {
	for _, lookback := range lookbacks {
		var last time.Time
		for t := schedule.Next(now.Add(-lookback)); !t.IsZero() && !t.After(now); t = schedule.Next(t) {
			last = t
		}
		if !last.IsZero() {
			return last, true
		}
	}
	return time.Time{}, false
}
