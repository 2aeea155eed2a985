package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/sirupsen/logrus"
)

// Source resolves exchange credentials and the API signing secret by id.
// A missing or unreadable secret yields the fallback so env and file values
// keep working.
type Source interface {
	GetSecretWithDefault(ctx context.Context, secretName, defaultValue string) string
	Close() error
}

// GCPSecretManager reads the latest version of each credential from Google
// Cloud Secret Manager.
type GCPSecretManager struct {
	client    *secretmanager.Client
	projectID string
	logger    *logrus.Logger
}

func NewGCPSecretManager(ctx context.Context, projectID string, logger *logrus.Logger) (*GCPSecretManager, error) {
	if projectID == "" {
		return nil, errors.New("secret manager requires a project id")
	}
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create secretmanager client: %w", err)
	}
	return &GCPSecretManager{client: client, projectID: projectID, logger: logger}, nil
}

func SecretVersionName(projectID, secretName string) string {
	return "projects/" + projectID + "/secrets/" + secretName + "/versions/latest"
}

// Fetch returns the payload of the latest version, without surrounding
// whitespace. PEM keys and API keys pasted with a trailing newline are common.
func (g *GCPSecretManager) Fetch(ctx context.Context, secretName string) (string, error) {
	resp, err := g.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: SecretVersionName(g.projectID, secretName),
	})
	if err != nil {
		return "", fmt.Errorf("read secret %q: %w", secretName, err)
	}
	return strings.TrimSpace(string(resp.GetPayload().GetData())), nil
}

func (g *GCPSecretManager) GetSecretWithDefault(ctx context.Context, secretName, defaultValue string) string {
	if secretName == "" {
		return defaultValue
	}
	v, err := g.Fetch(ctx, secretName)
	if err != nil || v == "" {
		g.logger.WithError(err).WithFields(logrus.Fields{
			"project": g.projectID,
			"secret":  secretName,
		}).Debug("Credential not in Secret Manager, keeping configured value")
		return defaultValue
	}
	return v
}

func (g *GCPSecretManager) Close() error {
	return g.client.Close()
}

// SecretNames holds the Secret Manager ids for the Binance credentials and
// the API token secret.
type SecretNames struct {
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	PrivateKey string `mapstructure:"private_key"`
	JWTSecret  string `mapstructure:"jwt_secret"`
}

func DefaultSecretNames() SecretNames {
	return SecretNames{
		APIKey:     "binance-futures-api-key",
		APISecret:  "binance-futures-api-secret",
		PrivateKey: "binance-futures-private-key",
		JWTSecret:  "futures-trader-jwt-secret",
	}
}
