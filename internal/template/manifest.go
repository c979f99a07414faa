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

package template

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"

	"github.com/yambo/spark-job-trigger/api/v1beta2"
)

const (
	// maxManifestSize bounds the manifest bytes read from any source.
	maxManifestSize = 1 << 20

	decoderBufferSize = 4096
)

// ParseManifest returns the first SparkApplication document of a possibly multi-document YAML
// or JSON manifest. Documents of other kinds are skipped.
func ParseManifest(data []byte) (*unstructured.Unstructured, error) {
	decoder := utilyaml.NewYAMLOrJSONDecoder(bytes.NewReader(data), decoderBufferSize)
	for {
		var doc map[string]interface{}
		if err := decoder.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%w: failed to decode manifest: %v", ErrInvalidTemplate, err)
		}
		if len(doc) == 0 {
			continue
		}

		u := &unstructured.Unstructured{Object: doc}
		if u.GetKind() != v1beta2.SparkApplicationKind {
			continue
		}
		gvk := u.GroupVersionKind()
		if gvk.Group != "" && gvk.Group != v1beta2.Group {
			continue
		}
		if _, found, _ := unstructured.NestedMap(u.Object, "spec"); !found {
			return nil, fmt.Errorf("%w: SparkApplication %q has no spec", ErrInvalidTemplate, u.GetName())
		}
		u.SetGroupVersionKind(v1beta2.SparkApplicationGVK)
		return u, nil
	}
	return nil, fmt.Errorf("%w: no SparkApplication found in manifest", ErrInvalidTemplate)
}

// readManifest reads at most maxManifestSize bytes from r.
func readManifest(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxManifestSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxManifestSize {
		return nil, fmt.Errorf("%w: manifest exceeds %d bytes", ErrInvalidTemplate, maxManifestSize)
	}
	return data, nil
}
