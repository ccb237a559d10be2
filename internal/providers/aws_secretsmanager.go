package providers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/meridianhq/rotatord/pkg/provider"
)

// SecretsManagerClientAPI is the subset of the AWS Secrets Manager client
// this provider calls. Declaring it lets tests substitute a fake without
// standing up real AWS credentials.
type SecretsManagerClientAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	ListSecretVersionIds(ctx context.Context, params *secretsmanager.ListSecretVersionIdsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretVersionIdsOutput, error)
	UpdateSecretVersionStage(ctx context.Context, params *secretsmanager.UpdateSecretVersionStageInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.UpdateSecretVersionStageOutput, error)
}

// versionRecord maps this provider's monotonic integer versions onto an AWS
// secrets manager VersionId/stage pair. AWS addresses versions by opaque
// UUID and staging label (AWSCURRENT/AWSPREVIOUS); Provider promises a
// sequence number per path instead, so the provider keeps this mapping
// in-memory, seeded from ListSecretVersionIds on first use per path.
type versionRecord struct {
	sequence  int
	versionID string
	createdAt time.Time
	isCurrent bool
}

// AWSSecretsManagerProvider implements provider.Provider against AWS
// Secrets Manager.
type AWSSecretsManagerProvider struct {
	client   SecretsManagerClientAPI
	region   string
	endpoint string

	mu      sync.Mutex
	history map[string][]versionRecord
}

// ProviderOption configures an AWSSecretsManagerProvider at construction.
type ProviderOption func(*AWSSecretsManagerProvider)

// WithSecretsManagerClient injects a client, used by tests to substitute a
// fake implementing SecretsManagerClientAPI.
func WithSecretsManagerClient(client SecretsManagerClientAPI) ProviderOption {
	return func(p *AWSSecretsManagerProvider) { p.client = client }
}

// NewAWSSecretsManagerProvider builds a provider from its config map: region
// (default us-east-1), and optional endpoint/access_key_id/secret_access_key
// for pointing at LocalStack in tests.
func NewAWSSecretsManagerProvider(providerConfig map[string]interface{}, opts ...ProviderOption) (*AWSSecretsManagerProvider, error) {
	region := "us-east-1"
	if r, ok := providerConfig["region"].(string); ok && r != "" {
		region = r
	}

	var endpoint string
	if e, ok := providerConfig["endpoint"].(string); ok && e != "" {
		endpoint = e
	}

	var accessKeyID, secretAccessKey string
	if ak, ok := providerConfig["access_key_id"].(string); ok && ak != "" {
		accessKeyID = ak
	}
	if sk, ok := providerConfig["secret_access_key"].(string); ok && sk != "" {
		secretAccessKey = sk
	}

	p := &AWSSecretsManagerProvider{
		region:  region,
		endpoint: endpoint,
		history: make(map[string][]versionRecord),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		var configOpts []func(*config.LoadOptions) error
		configOpts = append(configOpts, config.WithRegion(region))
		if accessKeyID != "" && secretAccessKey != "" {
			configOpts = append(configOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
			))
		}

		cfg, err := config.LoadDefaultConfig(context.Background(), configOpts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}

		var clientOpts []func(*secretsmanager.Options)
		if endpoint != "" {
			clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		p.client = secretsmanager.NewFromConfig(cfg, clientOpts...)
	}

	return p, nil
}

func (p *AWSSecretsManagerProvider) Name() string { return "aws" }

// Get retrieves the current value at path. If path hasn't been seen by
// this provider instance yet, its version history is backfilled from
// ListSecretVersionIds first.
func (p *AWSSecretsManagerProvider) Get(ctx context.Context, path string) (provider.SecretValue, error) {
	if err := p.ensureHistory(ctx, path); err != nil {
		return provider.SecretValue{}, err
	}

	result, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &path,
	})
	if err != nil {
		return provider.SecretValue{}, p.translateError(err, path)
	}

	var secretString string
	if result.SecretString != nil {
		secretString = *result.SecretString
	} else if result.SecretBinary != nil {
		secretString = string(result.SecretBinary)
	}

	p.mu.Lock()
	version := p.sequenceForVersionIDLocked(path, awsString(result.VersionId))
	p.mu.Unlock()

	return provider.SecretValue{
		Value:   secretString,
		Version: version,
		Metadata: map[string]string{
			"region":     p.region,
			"version_id": awsString(result.VersionId),
		},
	}, nil
}

// Rotate calls PutSecretValue, which AWS stages as AWSCURRENT and demotes
// the prior AWSCURRENT version to AWSPREVIOUS automatically. The new
// version is assigned the next sequence number in this provider's history.
func (p *AWSSecretsManagerProvider) Rotate(ctx context.Context, path string, newValue string) (int, error) {
	if err := p.ensureHistory(ctx, path); err != nil {
		return 0, err
	}

	result, err := p.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     &path,
		SecretString: &newValue,
	})
	if err != nil {
		return 0, p.translateError(err, path)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	next := 1
	for i, v := range p.history[path] {
		p.history[path][i].isCurrent = false
		if v.sequence >= next {
			next = v.sequence + 1
		}
	}
	p.history[path] = append(p.history[path], versionRecord{
		sequence:  next,
		versionID: awsString(result.VersionId),
		createdAt: time.Now(),
		isCurrent: true,
	})

	return next, nil
}

// Rollback moves the AWSCURRENT staging label to the version identified by
// the given sequence number.
func (p *AWSSecretsManagerProvider) Rollback(ctx context.Context, path string, version int) error {
	if err := p.ensureHistory(ctx, path); err != nil {
		return err
	}

	p.mu.Lock()
	records := p.history[path]
	var target *versionRecord
	var currentID string
	for i, v := range records {
		if v.isCurrent {
			currentID = v.versionID
		}
		if v.sequence == version {
			target = &records[i]
		}
	}
	p.mu.Unlock()

	if target == nil {
		return &provider.VersionNotFoundError{Provider: p.Name(), Path: path, Version: version}
	}

	input := &secretsmanager.UpdateSecretVersionStageInput{
		SecretId:     &path,
		VersionStage: stringPtr("AWSCURRENT"),
		MoveToVersionId: &target.versionID,
	}
	if currentID != "" {
		input.RemoveFromVersionId = &currentID
	}

	if _, err := p.client.UpdateSecretVersionStage(ctx, input); err != nil {
		return p.translateError(err, path)
	}

	p.mu.Lock()
	for i := range p.history[path] {
		p.history[path][i].isCurrent = p.history[path][i].sequence == version
	}
	p.mu.Unlock()

	return nil
}

// ListVersions returns every version this provider instance knows about
// for path, backfilling from AWS on first use.
func (p *AWSSecretsManagerProvider) ListVersions(ctx context.Context, path string) ([]provider.SecretVersion, error) {
	if err := p.ensureHistory(ctx, path); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	records := p.history[path]
	versions := make([]provider.SecretVersion, 0, len(records))
	for _, r := range records {
		versions = append(versions, provider.SecretVersion{
			Version:   r.sequence,
			CreatedAt: r.createdAt,
			IsCurrent: r.isCurrent,
			IsValid:   true,
			CreatedBy: "aws-secretsmanager",
		})
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	return versions, nil
}

// DeleteVersion removes the AWSPREVIOUS staging label from a non-current
// version. AWS Secrets Manager has no API to delete a single version
// outright short of scheduling the whole secret for deletion, so this
// removes only that AWSPREVIOUS label instead; other labels are left alone.
func (p *AWSSecretsManagerProvider) DeleteVersion(ctx context.Context, path string, version int) error {
	if err := p.ensureHistory(ctx, path); err != nil {
		return err
	}

	p.mu.Lock()
	var target *versionRecord
	for i, v := range p.history[path] {
		if v.sequence == version {
			target = &p.history[path][i]
		}
	}
	p.mu.Unlock()

	if target == nil {
		return &provider.VersionNotFoundError{Provider: p.Name(), Path: path, Version: version}
	}
	if target.isCurrent {
		return &provider.RejectedError{Provider: p.Name(), Op: "delete_version", Reason: "cannot delete current version"}
	}

	_, err := p.client.UpdateSecretVersionStage(ctx, &secretsmanager.UpdateSecretVersionStageInput{
		SecretId:            &path,
		VersionStage:         stringPtr("AWSPREVIOUS"),
		RemoveFromVersionId: &target.versionID,
	})
	if err != nil {
		if strings.Contains(err.Error(), "InvalidVersionStage") || strings.Contains(err.Error(), "InvalidParameterValue") {
			return nil
		}
		return p.translateError(err, path)
	}
	return nil
}

// HealthCheck calls DescribeSecret on the fixed name "rotatord-health-check".
// A successful call or a ResourceNotFoundException both count as healthy,
// since either proves credentials and region connectivity; any other error
// is reported as unhealthy.
func (p *AWSSecretsManagerProvider) HealthCheck(ctx context.Context) (provider.HealthCheckResult, error) {
	start := time.Now()
	_, err := p.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: stringPtr("rotatord-health-check"),
	})
	latency := time.Since(start)

	if err != nil && !isNotFoundError(err) {
		return provider.HealthCheckResult{
			Status:    "unhealthy",
			Message:   err.Error(),
			Latency:   latency,
			CheckedAt: time.Now(),
		}, nil
	}

	return provider.HealthCheckResult{
		Status:    "healthy",
		Latency:   latency,
		CheckedAt: time.Now(),
	}, nil
}

// ensureHistory backfills the in-memory version history for path the first
// time it's addressed, from ListSecretVersionIds.
func (p *AWSSecretsManagerProvider) ensureHistory(ctx context.Context, path string) error {
	p.mu.Lock()
	_, known := p.history[path]
	p.mu.Unlock()
	if known {
		return nil
	}

	result, err := p.client.ListSecretVersionIds(ctx, &secretsmanager.ListSecretVersionIdsInput{
		SecretId: &path,
	})
	if err != nil {
		return p.translateError(err, path)
	}

	type entry struct {
		versionID string
		createdAt time.Time
		isCurrent bool
	}
	entries := make([]entry, 0, len(result.Versions))
	for _, v := range result.Versions {
		e := entry{versionID: awsString(v.VersionId)}
		if v.CreatedDate != nil {
			e.createdAt = *v.CreatedDate
		}
		for _, stage := range v.VersionStages {
			if stage == "AWSCURRENT" {
				e.isCurrent = true
			}
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].createdAt.Before(entries[j].createdAt) })

	p.mu.Lock()
	defer p.mu.Unlock()
	records := make([]versionRecord, 0, len(entries))
	for i, e := range entries {
		records = append(records, versionRecord{
			sequence:  i + 1,
			versionID: e.versionID,
			createdAt: e.createdAt,
			isCurrent: e.isCurrent,
		})
	}
	p.history[path] = records
	return nil
}

func (p *AWSSecretsManagerProvider) sequenceForVersionIDLocked(path, versionID string) int {
	for _, v := range p.history[path] {
		if v.versionID == versionID {
			return v.sequence
		}
	}
	return 0
}

func (p *AWSSecretsManagerProvider) translateError(err error, path string) error {
	if isNotFoundError(err) {
		return &provider.NotFoundError{Provider: p.Name(), Path: path}
	}
	if isAuthError(err) {
		return &provider.RejectedError{Provider: p.Name(), Op: "auth", Reason: err.Error()}
	}
	return &provider.BackendUnavailableError{Provider: p.Name(), Op: "call", Err: err}
}

func isNotFoundError(err error) bool {
	var resourceNotFound *types.ResourceNotFoundException
	return errors.As(err, &resourceNotFound)
}

func isAuthError(err error) bool {
	errStr := err.Error()
	return strings.Contains(errStr, "AccessDenied") ||
		strings.Contains(errStr, "UnauthorizedOperation") ||
		strings.Contains(errStr, "InvalidUserID") ||
		strings.Contains(errStr, "Forbidden")
}

func stringPtr(s string) *string { return &s }

func awsString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
