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
	"slices"
	"strings"
)

// ContainsString checks if a given string is in a string slice.
func ContainsString(slice []string, s string) bool {
	return slices.Contains(slice, s)
}

// CompactStrings trims every element and drops the empty ones.
func CompactStrings(slice []string) []string {
	result := make([]string, 0, len(slice))
	for _, item := range slice {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		result = append(result, item)
	}
	return result
}
