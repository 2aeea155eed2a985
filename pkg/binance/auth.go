package binance

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"net/http"
)

// AuthType represents the signing method
type AuthType string

const (
	AuthTypeHMAC    AuthType = "hmac"
	AuthTypeEd25519 AuthType = "ed25519"
)

// Authenticator signs an encoded query string and attaches the key header.
type Authenticator interface {
	Sign(payload string) (string, error)
	AddAuthHeaders(req *http.Request)
}

// HMACAuthenticator uses the API key / secret pair
type HMACAuthenticator struct {
	apiKey    string
	apiSecret []byte
}

func NewHMACAuthenticator(apiKey, apiSecret string) *HMACAuthenticator {
	return &HMACAuthenticator{
		apiKey:    apiKey,
		apiSecret: []byte(apiSecret),
	}
}

func (h *HMACAuthenticator) Sign(payload string) (string, error) {
	return computeHMAC(payload, h.apiSecret), nil
}

func (h *HMACAuthenticator) AddAuthHeaders(req *http.Request) {
	req.Header.Set("X-MBX-APIKEY", h.apiKey)
}

// Ed25519Authenticator signs with an Ed25519 private key registered on the
// exchange instead of a shared secret.
type Ed25519Authenticator struct {
	apiKey     string
	privateKey ed25519.PrivateKey
}

func NewEd25519Authenticator(apiKey, privateKeyPEM string) (*Ed25519Authenticator, error) {
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block containing the private key")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ed25519 private key: %w", err)
	}
	privateKey, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an ed25519 private key")
	}

	return &Ed25519Authenticator{
		apiKey:     apiKey,
		privateKey: privateKey,
	}, nil
}

func (e *Ed25519Authenticator) Sign(payload string) (string, error) {
	sig := ed25519.Sign(e.privateKey, []byte(payload))
	return base64.StdEncoding.EncodeToString(sig), nil
}

func (e *Ed25519Authenticator) AddAuthHeaders(req *http.Request) {
	req.Header.Set("X-MBX-APIKEY", e.apiKey)
}

// NewAuthenticator picks the signing method from the configuration.
func NewAuthenticator(cfg Config) (Authenticator, error) {
	switch AuthType(cfg.AuthType) {
	case "", AuthTypeHMAC:
		return NewHMACAuthenticator(cfg.APIKey, cfg.APISecret), nil
	case AuthTypeEd25519:
		return NewEd25519Authenticator(cfg.APIKey, cfg.PrivateKeyPEM)
	default:
		return nil, fmt.Errorf("unsupported auth type %q", cfg.AuthType)
	}
}

func computeHMAC(message string, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}
