package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/gregtusar/futures-trader/pkg/binance"
	"github.com/gregtusar/futures-trader/pkg/secrets"
	"github.com/gregtusar/futures-trader/pkg/trader"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

const envPrefix = "FUTURES"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Binance  BinanceConfig  `mapstructure:"binance"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	GCP      GCPConfig      `mapstructure:"gcp"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	JobRetention    time.Duration `mapstructure:"job_retention"`

	// Bearer token auth for the API; disabled when empty
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type BinanceConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	StreamURL string `mapstructure:"stream_url"`
	Testnet   bool   `mapstructure:"testnet"`

	// HMAC authentication
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`

	// Ed25519 authentication
	AuthType       string `mapstructure:"auth_type"` // "hmac" or "ed25519"
	PrivateKeyPath string `mapstructure:"private_key_path"`
	PrivateKeyPEM  string `mapstructure:"private_key_pem"`

	RecvWindow   int64         `mapstructure:"recv_window"`
	PositionSide string        `mapstructure:"position_side"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RateLimit    float64       `mapstructure:"rate_limit"`
	RateBurst    int           `mapstructure:"rate_burst"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type StrategyConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	MaxPollErrors     int           `mapstructure:"max_poll_errors"`
	MaxCancelAttempts int           `mapstructure:"max_cancel_attempts"`
	DefaultTWAPSlices int           `mapstructure:"default_twap_slices"`
	MaxGridLevels     int           `mapstructure:"max_grid_levels"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type GCPConfig struct {
	ProjectID   string              `mapstructure:"project_id"`
	UseSecrets  bool                `mapstructure:"use_secrets"`
	SecretNames secrets.SecretNames `mapstructure:"secret_names"`
}

// newSecretSource is replaced in tests.
var newSecretSource = func(ctx context.Context, projectID string, logger *logrus.Logger) (secrets.Source, error) {
	return secrets.NewGCPSecretManager(ctx, projectID, logger)
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/futures-trader")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := overrideFromEnv(&config); err != nil {
		return nil, err
	}

	if config.GCP.UseSecrets && config.GCP.ProjectID != "" {
		ctx := context.Background()
		logger := logrus.New()
		if err := loadSecretsFromGCP(ctx, &config, logger); err != nil {
			return nil, fmt.Errorf("error loading secrets from GCP: %w", err)
		}
	}

	if config.Binance.PrivateKeyPEM == "" && config.Binance.PrivateKeyPath != "" {
		pem, err := os.ReadFile(config.Binance.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("error reading private key: %w", err)
		}
		config.Binance.PrivateKeyPEM = string(pem)
	}
	if config.Binance.PrivateKeyPEM != "" && config.Binance.AuthType == "hmac" && config.Binance.APISecret == "" {
		config.Binance.AuthType = "ed25519"
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.job_retention", "1h")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.token_ttl", "24h")

	// Binance defaults
	v.SetDefault("binance.base_url", "")
	v.SetDefault("binance.stream_url", "")
	v.SetDefault("binance.testnet", false)
	v.SetDefault("binance.api_key", "")
	v.SetDefault("binance.api_secret", "")
	v.SetDefault("binance.auth_type", "hmac")
	v.SetDefault("binance.private_key_path", "")
	v.SetDefault("binance.private_key_pem", "")
	v.SetDefault("binance.recv_window", 5000)
	v.SetDefault("binance.position_side", "BOTH")
	v.SetDefault("binance.timeout", "30s")
	v.SetDefault("binance.rate_limit", 10.0)
	v.SetDefault("binance.rate_burst", 5)
	v.SetDefault("binance.max_retries", 3)

	// Strategy defaults
	v.SetDefault("strategy.poll_interval", "2s")
	v.SetDefault("strategy.max_poll_errors", 10)
	v.SetDefault("strategy.max_cancel_attempts", 5)
	v.SetDefault("strategy.default_twap_slices", 10)
	v.SetDefault("strategy.max_grid_levels", 200)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")

	// GCP defaults
	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")

	secretNames := secrets.DefaultSecretNames()
	v.SetDefault("gcp.secret_names.api_key", secretNames.APIKey)
	v.SetDefault("gcp.secret_names.api_secret", secretNames.APISecret)
	v.SetDefault("gcp.secret_names.private_key", secretNames.PrivateKey)
	v.SetDefault("gcp.secret_names.jwt_secret", secretNames.JWTSecret)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

func overrideFromEnv(config *Config) error {
	var err error

	if apiKey := os.Getenv("BINANCE_API_KEY"); apiKey != "" {
		config.Binance.APIKey = apiKey
	}
	if apiSecret := os.Getenv("BINANCE_API_SECRET"); apiSecret != "" {
		config.Binance.APISecret = apiSecret
	}
	if keyPath := os.Getenv("BINANCE_PRIVATE_KEY_PATH"); keyPath != "" {
		config.Binance.PrivateKeyPath = keyPath
	}
	if recvWindow := os.Getenv("BINANCE_RECV_WINDOW"); recvWindow != "" {
		n, perr := strconv.ParseInt(recvWindow, 10, 64)
		if perr != nil {
			err = multierr.Append(err, fmt.Errorf("BINANCE_RECV_WINDOW: %w", perr))
		} else {
			config.Binance.RecvWindow = n
		}
	}
	if positionSide := os.Getenv("BINANCE_POSITION_SIDE"); positionSide != "" {
		config.Binance.PositionSide = strings.ToUpper(positionSide)
	}
	if testnet := os.Getenv("BINANCE_TESTNET"); testnet != "" {
		b, perr := strconv.ParseBool(testnet)
		if perr != nil {
			err = multierr.Append(err, fmt.Errorf("BINANCE_TESTNET: %w", perr))
		} else {
			config.Binance.Testnet = b
		}
	}

	if jwtSecret := os.Getenv("API_JWT_SECRET"); jwtSecret != "" {
		config.Server.JWTSecret = jwtSecret
	}

	// GCP configuration from environment
	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		config.GCP.ProjectID = projectID
	}
	if useSecrets := os.Getenv("GCP_USE_SECRETS"); useSecrets == "true" {
		config.GCP.UseSecrets = true
	}
	return err
}

func loadSecretsFromGCP(ctx context.Context, config *Config, logger *logrus.Logger) error {
	source, err := newSecretSource(ctx, config.GCP.ProjectID, logger)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	defer source.Close()

	// Only load secrets if they're not already set
	names := config.GCP.SecretNames
	if config.Binance.APIKey == "" {
		config.Binance.APIKey = source.GetSecretWithDefault(ctx, names.APIKey, "")
	}
	if config.Binance.APISecret == "" {
		config.Binance.APISecret = source.GetSecretWithDefault(ctx, names.APISecret, "")
	}
	if config.Binance.PrivateKeyPEM == "" && config.Binance.PrivateKeyPath == "" {
		config.Binance.PrivateKeyPEM = source.GetSecretWithDefault(ctx, names.PrivateKey, "")
	}
	if config.Server.JWTSecret == "" {
		config.Server.JWTSecret = source.GetSecretWithDefault(ctx, names.JWTSecret, "")
	}

	logger.Info("Successfully loaded secrets from GCP Secret Manager")
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var err error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}
	if c.Server.JWTSecret != "" && len(c.Server.JWTSecret) < 32 {
		err = multierr.Append(err, errors.New("server.jwt_secret must be at least 32 bytes"))
	}
	switch c.Binance.AuthType {
	case "hmac", "ed25519":
	default:
		err = multierr.Append(err, fmt.Errorf("binance.auth_type must be hmac or ed25519, got %q", c.Binance.AuthType))
	}
	if c.Binance.RecvWindow <= 0 || c.Binance.RecvWindow > 60000 {
		err = multierr.Append(err, fmt.Errorf("binance.recv_window must be in 1..60000, got %d", c.Binance.RecvWindow))
	}
	switch c.Binance.PositionSide {
	case "BOTH", "LONG", "SHORT":
	default:
		err = multierr.Append(err, fmt.Errorf("binance.position_side must be BOTH, LONG or SHORT, got %q", c.Binance.PositionSide))
	}
	if c.Binance.RateLimit <= 0 {
		err = multierr.Append(err, errors.New("binance.rate_limit must be positive"))
	}
	if c.Binance.MaxRetries < 0 {
		err = multierr.Append(err, errors.New("binance.max_retries must not be negative"))
	}
	if c.Strategy.PollInterval <= 0 {
		err = multierr.Append(err, errors.New("strategy.poll_interval must be positive"))
	}
	if c.Strategy.MaxPollErrors < 0 {
		err = multierr.Append(err, errors.New("strategy.max_poll_errors must not be negative"))
	}
	if c.Strategy.MaxCancelAttempts < 1 {
		err = multierr.Append(err, errors.New("strategy.max_cancel_attempts must be at least 1"))
	}
	if c.Strategy.DefaultTWAPSlices < 1 {
		err = multierr.Append(err, errors.New("strategy.default_twap_slices must be at least 1"))
	}
	if c.Strategy.MaxGridLevels < 2 {
		err = multierr.Append(err, errors.New("strategy.max_grid_levels must be at least 2"))
	}
	if _, perr := logrus.ParseLevel(c.Logging.Level); perr != nil {
		err = multierr.Append(err, fmt.Errorf("logging.level: %w", perr))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		err = multierr.Append(err, fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format))
	}
	return err
}

// CheckCredentials reports missing credentials for the configured auth type.
// It is separate from Validate so read-only commands can load a config
// without keys.
func (c BinanceConfig) CheckCredentials() error {
	var err error
	if c.APIKey == "" {
		err = multierr.Append(err, errors.New("binance.api_key is required"))
	}
	if c.AuthType == "ed25519" {
		if c.PrivateKeyPEM == "" {
			err = multierr.Append(err, errors.New("binance.private_key_path or private_key_pem is required for ed25519"))
		}
	} else if c.APISecret == "" {
		err = multierr.Append(err, errors.New("binance.api_secret is required"))
	}
	return err
}

func (c BinanceConfig) ClientConfig() binance.Config {
	return binance.Config{
		BaseURL:       c.BaseURL,
		StreamURL:     c.StreamURL,
		Testnet:       c.Testnet,
		APIKey:        c.APIKey,
		APISecret:     c.APISecret,
		AuthType:      c.AuthType,
		PrivateKeyPEM: c.PrivateKeyPEM,
		RecvWindow:    c.RecvWindow,
		PositionSide:  c.PositionSide,
		Timeout:       c.Timeout,
		RateLimit:     c.RateLimit,
		RateBurst:     c.RateBurst,
		MaxRetries:    c.MaxRetries,
	}
}

func (c StrategyConfig) Settings() trader.Settings {
	return trader.Settings{
		PollInterval:      c.PollInterval,
		MaxPollErrors:     c.MaxPollErrors,
		MaxCancelAttempts: c.MaxCancelAttempts,
		DefaultTWAPSlices: c.DefaultTWAPSlices,
		MaxGridLevels:     c.MaxGridLevels,
	}
}
