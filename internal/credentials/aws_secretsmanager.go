package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/fleetedge/agentcore/internal/downloader"
)

// secretPayload is the expected JSON shape of a Secrets Manager secret
// used as vendor-repo or object-store credentials.
type secretPayload struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	ExpiresIn int64  `json:"expires_in_seconds"`
}

// SecretsManagerProvider fetches credentials from AWS Secrets Manager,
// grounded on the teacher's secretsmanager usage
// (internal/infrastructure/parser/aws/api.go's scanSecretsManager,
// itself using secretsmanager.NewFromConfig(cfg)).
type SecretsManagerProvider struct {
	client *secretsmanager.Client
	now    func() time.Time
}

// NewSecretsManagerProvider loads the default AWS config (environment,
// shared config, IMDS, in that order) and returns a provider backed by
// it.
func NewSecretsManagerProvider(ctx context.Context) (*SecretsManagerProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("credentials: load aws config: %w", err)
	}
	return &SecretsManagerProvider{
		client: secretsmanager.NewFromConfig(cfg),
		now:    time.Now,
	}, nil
}

func (p *SecretsManagerProvider) Name() string { return "aws-secretsmanager" }

// Fetch retrieves and parses the secret named endpoint (a Secrets
// Manager secret ID or ARN).
func (p *SecretsManagerProvider) Fetch(ctx context.Context, endpoint string) (RegistryCredentials, error) {
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &endpoint,
	})
	if err != nil {
		return RegistryCredentials{}, &downloader.AuthError{URI: endpoint, Cause: err}
	}
	if out.SecretString == nil {
		return RegistryCredentials{}, &downloader.AuthError{URI: endpoint, Cause: fmt.Errorf("secret has no string value")}
	}

	var payload secretPayload
	if err := json.Unmarshal([]byte(*out.SecretString), &payload); err != nil {
		return RegistryCredentials{}, fmt.Errorf("credentials: parse secret %s: %w", endpoint, err)
	}

	expiresAt := time.Time{}
	if payload.ExpiresIn > 0 {
		expiresAt = p.now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	return RegistryCredentials{
		Username:  payload.Username,
		Password:  payload.Password,
		ExpiresAt: expiresAt,
	}, nil
}
