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

package util_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/yambo/spark-job-trigger/pkg/util"
)

var _ = Describe("ContainsString", func() {
	slice := []string{"a", "b", "c"}

	Context("When the string is in the slice", func() {
		It("Should return true", func() {
			Expect(util.ContainsString(slice, "b")).To(BeTrue())
		})
	})

	Context("When the string is not in the slice", func() {
		It("Should return false", func() {
			Expect(util.ContainsString(slice, "d")).To(BeFalse())
		})
	})
})

var _ = Describe("CompactStrings", func() {
	It("Should trim and drop empty elements", func() {
		Expect(util.CompactStrings([]string{" a ", "", "  ", "b"})).To(Equal([]string{"a", "b"}))
	})
})

var _ = Describe("ShortHash", func() {
	It("Should be deterministic and 8 characters long", func() {
		h := util.ShortHash("spark-jobs", "extract-job", "20260212T0200")
		Expect(h).To(HaveLen(8))
		Expect(h).To(Equal(util.ShortHash("spark-jobs", "extract-job", "20260212T0200")))
		Expect(h).To(MatchRegexp("^[0-9a-f]{8}$"))
	})

	It("Should separate the parts", func() {
		Expect(util.ShortHash("ab", "c")).NotTo(Equal(util.ShortHash("a", "bc")))
	})
})

var _ = Describe("CreateValidMetricNameLabel", func() {
	It("Should replace invalid characters", func() {
		Expect(util.CreateValidMetricNameLabel("my-prefix.", "app/name")).To(Equal("my_prefix_app_name"))
	})
})

var _ = Describe("NewRateLimiter", func() {
	It("Should not block when throttling is disabled", func() {
		limiter := util.NewRateLimiter(0, 0)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		for i := 0; i < 100; i++ {
			Expect(limiter.Wait(ctx)).To(Succeed())
		}
	})

	It("Should honour context cancellation while waiting", func() {
		limiter := util.NewRateLimiter(0.001, 1)
		Expect(limiter.Wait(context.Background())).To(Succeed())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		Expect(limiter.Wait(ctx)).To(HaveOccurred())
	})
})
