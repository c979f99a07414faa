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

package dispatcher

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds the retries of transient cluster API failures.
type RetryPolicy struct {
	// Attempts is the total number of attempts, including the first one.
	Attempts int
	// BaseDelay is the ceiling of the delay before the second attempt.
	BaseDelay time.Duration
	// Factor multiplies the ceiling after every attempt.
	Factor float64
	// MaxDelay caps the ceiling of a single delay. Zero means no cap.
	MaxDelay time.Duration
}

// DefaultRetryPolicy makes 3 attempts with delays drawn from [0, 1s) and [0, 2s).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  3,
		BaseDelay: time.Second,
		Factor:    2,
	}
}

func (p RetryPolicy) attempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

// ceiling returns the upper bound of the delay after the n-th failed attempt, counted from 0.
func (p RetryPolicy) ceiling(n int) time.Duration {
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	d := float64(p.BaseDelay) * math.Pow(factor, float64(n))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// MaxTotalDelay is the largest total time the policy can spend sleeping between attempts.
func (p RetryPolicy) MaxTotalDelay() time.Duration {
	var total time.Duration
	for n := 0; n < p.attempts()-1; n++ {
		total += p.ceiling(n)
	}
	return total
}

// backOff returns the backoff of one dispatch. random yields values in [0, 1).
func (p RetryPolicy) backOff(ctx context.Context, random func() float64) backoff.BackOffContext {
	if random == nil {
		random = rand.Float64
	}
	var b backoff.BackOff = &fullJitterBackOff{policy: p, random: random}
	b = backoff.WithMaxRetries(b, uint64(p.attempts()-1))
	return backoff.WithContext(b, ctx)
}

// fullJitterBackOff draws every delay uniformly from [0, ceiling).
type fullJitterBackOff struct {
	policy  RetryPolicy
	random  func() float64
	attempt int
}

var _ backoff.BackOff = &fullJitterBackOff{}

func (b *fullJitterBackOff) NextBackOff() time.Duration {
	ceiling := b.policy.ceiling(b.attempt)
	b.attempt++
	return time.Duration(b.random() * float64(ceiling))
}

func (b *fullJitterBackOff) Reset() {
	b.attempt = 0
}
