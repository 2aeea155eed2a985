// Package binance is a signed REST and user-data-stream client for the
// Binance USD-M futures API.
package binance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	MainnetBaseURL   = "https://fapi.binance.com"
	TestnetBaseURL   = "https://testnet.binancefuture.com"
	MainnetStreamURL = "wss://fstream.binance.com"
	TestnetStreamURL = "wss://stream.binancefuture.com"
)

// Config is everything the client needs. There is no package-level state.
type Config struct {
	BaseURL       string
	StreamURL     string
	Testnet       bool
	APIKey        string
	APISecret     string
	AuthType      string
	PrivateKeyPEM string
	RecvWindow    int64
	PositionSide  string
	Timeout       time.Duration
	RateLimit     float64
	RateBurst     int
	MaxRetries    int
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = MainnetBaseURL
		if c.Testnet {
			c.BaseURL = TestnetBaseURL
		}
	}
	if c.StreamURL == "" {
		c.StreamURL = MainnetStreamURL
		if c.Testnet {
			c.StreamURL = TestnetStreamURL
		}
	}
	if c.RecvWindow <= 0 {
		c.RecvWindow = 5000
	}
	if c.PositionSide == "" {
		c.PositionSide = "BOTH"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 10
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 5
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}

type securityType int

const (
	securityNone securityType = iota
	securityAPIKey
	securitySigned
)

type Client struct {
	cfg        Config
	auth       Authenticator
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      retrypolicy.RetryPolicy[[]byte]
	logger     *logrus.Logger
	now        func() time.Time
}

func NewClient(cfg Config, logger *logrus.Logger) (*Client, error) {
	cfg = cfg.withDefaults()

	auth, err := NewAuthenticator(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	c := &Client{
		cfg:        cfg,
		auth:       auth,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		logger:     logger,
		now:        time.Now,
	}
	c.retry = retrypolicy.NewBuilder[[]byte]().
		HandleIf(func(_ []byte, err error) bool {
			return err != nil && IsTransient(err)
		}).
		WithBackoff(200*time.Millisecond, 5*time.Second).
		WithMaxRetries(cfg.MaxRetries).
		ReturnLastFailure().
		OnRetry(func(e failsafe.ExecutionEvent[[]byte]) {
			c.logger.WithError(e.LastError()).WithField("attempt", e.Attempts()).Warn("Retrying exchange request")
		}).
		Build()

	return c, nil
}

func (c *Client) Config() Config {
	return c.cfg
}

// get issues an idempotent GET, retrying transient failures. Each attempt is
// re-signed so a fresh timestamp is used.
func (c *Client) get(ctx context.Context, op, path string, params url.Values, sec securityType) ([]byte, error) {
	return failsafe.With[[]byte](c.retry).
		WithContext(ctx).
		Get(func() ([]byte, error) {
			return c.doRequest(ctx, op, http.MethodGet, path, params, sec)
		})
}

func (c *Client) doRequest(ctx context.Context, op, method, path string, params url.Values, sec securityType) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &GatewayError{Op: op, Err: err}
	}

	query := url.Values{}
	for k, vs := range params {
		query[k] = append([]string(nil), vs...)
	}
	rawQuery := query.Encode()
	if sec == securitySigned {
		query.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		query.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
		rawQuery = query.Encode()
		signature, err := c.auth.Sign(rawQuery)
		if err != nil {
			return nil, &GatewayError{Op: op, Err: fmt.Errorf("failed to sign request: %w", err)}
		}
		rawQuery += "&signature=" + url.QueryEscape(signature)
	}

	endpoint := c.cfg.BaseURL + path
	if rawQuery != "" {
		endpoint += "?" + rawQuery
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, &GatewayError{Op: op, Err: err}
	}
	if sec != securityNone {
		c.auth.AddAuthHeaders(req)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	c.logger.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
	}).Debug("Exchange request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &GatewayError{Op: op, Err: ctxErr}
		}
		return nil, &GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &GatewayError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}
	if resp.StatusCode >= 400 {
		return nil, parseAPIError(op, resp.StatusCode, body)
	}
	return body, nil
}
