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

package cluster

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"k8s.io/utils/clock"
)

const (
	// TokenPrefix prefixes every EKS bearer token.
	TokenPrefix = "k8s-aws-v1."

	clusterIDHeader = "x-k8s-aws-id"
	expiresHeader   = "X-Amz-Expires"

	// tokenLifetime is the validity of the presigned URL; EKS accepts it for 15 minutes at most.
	tokenLifetime = 60 * time.Second
)

// EKSAPI is the subset of the EKS client used to describe clusters.
type EKSAPI interface {
	DescribeCluster(ctx context.Context, params *eks.DescribeClusterInput, optFns ...func(*eks.Options)) (*eks.DescribeClusterOutput, error)
}

// PresignAPI is the subset of the STS presign client used to mint tokens.
type PresignAPI interface {
	PresignGetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// TokenGenerator mints bearer tokens for a cluster.
type TokenGenerator struct {
	presigner PresignAPI
	clock     clock.PassiveClock
}

// NewTokenGenerator returns a generator signing with the given presigner.
func NewTokenGenerator(presigner PresignAPI, clock clock.PassiveClock) *TokenGenerator {
	return &TokenGenerator{presigner: presigner, clock: clock}
}

// Token returns a bearer token accepted by the API server of clusterName: a presigned STS
// GetCallerIdentity URL carrying the cluster name header, base64url encoded without padding.
func (g *TokenGenerator) Token(ctx context.Context, clusterName string) (string, time.Time, error) {
	issuedAt := g.clock.Now()
	presigned, err := g.presigner.PresignGetCallerIdentity(ctx, &sts.GetCallerIdentityInput{}, func(o *sts.PresignOptions) {
		o.ClientOptions = append(o.ClientOptions, sts.WithAPIOptions(
			smithyhttp.SetHeaderValue(clusterIDHeader, clusterName),
			smithyhttp.SetHeaderValue(expiresHeader, fmt.Sprintf("%d", int(tokenLifetime.Seconds()))),
		))
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to presign GetCallerIdentity: %w", err)
	}
	token := TokenPrefix + base64.RawURLEncoding.EncodeToString([]byte(presigned.URL))
	return token, issuedAt.Add(tokenLifetime), nil
}

// EKSResolver resolves EKS clusters through the EKS and STS APIs.
type EKSResolver struct {
	eks    EKSAPI
	tokens *TokenGenerator
}

var _ Resolver = &EKSResolver{}

// NewEKSResolver returns a resolver backed by the given clients.
func NewEKSResolver(eksClient EKSAPI, tokens *TokenGenerator) *EKSResolver {
	return &EKSResolver{eks: eksClient, tokens: tokens}
}

// NewEKSResolverFromConfig returns a resolver using clients built from cfg.
func NewEKSResolverFromConfig(cfg aws.Config) *EKSResolver {
	presigner := sts.NewPresignClient(sts.NewFromConfig(cfg))
	return NewEKSResolver(eks.NewFromConfig(cfg), NewTokenGenerator(presigner, clock.RealClock{}))
}

// Resolve implements Resolver.
func (r *EKSResolver) Resolve(ctx context.Context, clusterName string) (*Endpoint, error) {
	out, err := r.eks.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: aws.String(clusterName)})
	if err != nil {
		return nil, fmt.Errorf("failed to describe cluster %s: %w", clusterName, err)
	}
	c := out.Cluster
	if c == nil {
		return nil, fmt.Errorf("cluster %s not returned by DescribeCluster", clusterName)
	}
	if c.Status != "" && c.Status != ekstypes.ClusterStatusActive {
		return nil, fmt.Errorf("cluster %s is %s", clusterName, c.Status)
	}
	server := aws.ToString(c.Endpoint)
	if server == "" {
		return nil, fmt.Errorf("cluster %s has no endpoint", clusterName)
	}

	var caData []byte
	if c.CertificateAuthority != nil && c.CertificateAuthority.Data != nil {
		caData, err = base64.StdEncoding.DecodeString(aws.ToString(c.CertificateAuthority.Data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode certificate authority of cluster %s: %w", clusterName, err)
		}
	}

	token, expiresAt, err := r.tokens.Token(ctx, clusterName)
	if err != nil {
		return nil, err
	}

	logger.V(1).Info("Resolved cluster endpoint", "cluster", clusterName, "server", server, "expiresAt", expiresAt)
	return &Endpoint{
		Name:        clusterName,
		Server:      server,
		CAData:      caData,
		BearerToken: token,
		ExpiresAt:   expiresAt,
	}, nil
}
