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
	"hash"
	"hash/fnv"
)

// NewHash32 returns a 32-bit FNV-1 hash.
func NewHash32() hash.Hash32 {
	return fnv.New32()
}

// ShortHash hashes the given parts, separated so that ("ab","c") and ("a","bc") differ,
// and returns the result as 8 lower-case hex characters.
func ShortHash(parts ...string) string {
	hasher := NewHash32()
	for _, part := range parts {
		_, _ = hasher.Write([]byte(part))
		_, _ = hasher.Write([]byte{0})
	}
	return fmt.Sprintf("%08x", hasher.Sum32())
}
