package secrets

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretVersionName(t *testing.T) {
	assert.Equal(t,
		"projects/trading-prod/secrets/binance-futures-api-key/versions/latest",
		SecretVersionName("trading-prod", DefaultSecretNames().APIKey))
}

func TestNewGCPSecretManager_RequiresProject(t *testing.T) {
	_, err := NewGCPSecretManager(context.Background(), "", logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project id")
}

func TestGetSecretWithDefault_EmptyName(t *testing.T) {
	g := &GCPSecretManager{projectID: "p", logger: logrus.New()}
	assert.Equal(t, "fallback", g.GetSecretWithDefault(context.Background(), "", "fallback"))
}
