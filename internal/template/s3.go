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
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// S3API is the subset of the S3 client used to fetch manifests.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source loads manifests from s3://<bucket>/<prefix><template>.yaml, where the bucket name
// is derived from the request environment.
type S3Source struct {
	client       S3API
	bucketFormat string
	keyPrefix    string
}

var _ Source = &S3Source{}

// NewS3Source returns a source reading from the manifest bucket. A %s verb in bucketFormat
// is replaced by the environment.
func NewS3Source(client S3API, bucketFormat, keyPrefix string) *S3Source {
	return &S3Source{
		client:       client,
		bucketFormat: bucketFormat,
		keyPrefix:    keyPrefix,
	}
}

// Location returns the bucket and key holding the manifest of req.
func (s *S3Source) Location(req Request) (bucket, key string) {
	bucket = s.bucketFormat
	if strings.Contains(bucket, "%s") {
		bucket = fmt.Sprintf(bucket, req.Environment)
	}
	return bucket, s.keyPrefix + req.Name + ".yaml"
}

// Load implements Source.
func (s *S3Source) Load(ctx context.Context, req Request) (*unstructured.Unstructured, error) {
	bucket, key := s.Location(req)
	logger.V(1).Info("Fetching manifest", "bucket", bucket, "key", key)

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrTemplateNotFound, bucket, key)
		}
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := readManifest(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", bucket, key, err)
	}
	app, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("s3://%s/%s: %w", bucket, key, err)
	}
	return app, nil
}

func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return true
		}
	}
	return false
}
