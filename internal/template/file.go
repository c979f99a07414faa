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
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// FileSource loads manifests from <dir>/<template>.yaml or <dir>/<template>.yml.
type FileSource struct {
	dir string
}

var _ Source = &FileSource{}

// NewFileSource returns a source reading manifests from dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

// Load implements Source.
func (s *FileSource) Load(_ context.Context, req Request) (*unstructured.Unstructured, error) {
	if req.Name == "" || strings.ContainsAny(req.Name, `/\`) || req.Name == ".." {
		return nil, fmt.Errorf("%w: illegal template name %q", ErrInvalidTemplate, req.Name)
	}

	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(s.dir, req.Name+ext)
		f, err := os.Open(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		data, err := readManifest(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		app, err := ParseManifest(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return app, nil
	}
	return nil, fmt.Errorf("%w: no manifest for %q in %s", ErrTemplateNotFound, req.Name, s.dir)
}
