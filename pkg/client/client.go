package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// ErrConflict is returned by KillZombie when the monitor has no zombie
// flagged or zombie detection is off.
var ErrConflict = errors.New("conflict")

// ErrUnauthorized is returned when the API rejects the bearer token.
var ErrUnauthorized = errors.New("unauthorized")

// Client talks to the gatewarden status API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Token    string // Bearer token for the kill endpoint
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// DefaultBaseURL matches the default [api] listen address and base path.
const DefaultBaseURL = "http://127.0.0.1:8089/api"

const defaultTimeout = 10 * time.Second

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{BaseURL: DefaultBaseURL, Timeout: defaultTimeout}
}

// New creates an API client. A broken TLS setup is logged and the client
// falls back to the default transport, so the first request reports the
// handshake error.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if config.Insecure || (config.TLS != nil && config.TLS.Enabled) {
		tc, err := setupClientTLS(config)
		if err != nil {
			logger.Error("client TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tc
		}
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		token:   config.Token,
		logger:  logger,
		client:  &http.Client{Timeout: config.Timeout, Transport: transport},
	}
}

// IsReachable checks if the monitor API is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.Health(ctx)
	if err != nil {
		c.logger.Debug("Monitor unreachable", "error", err)
		return false
	}
	return true
}

// Status fetches the combined monitor status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/status", &st)
	return st, err
}

// Health fetches the liveness endpoint.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/healthz", &h)
	return h, err
}

// KillZombie asks the monitor to terminate the flagged zombie process.
func (c *Client) KillZombie(ctx context.Context) error {
	c.logger.Debug("Requesting zombie kill")
	return c.doRequest(ctx, http.MethodPost, c.baseURL+"/watchdog/kill", nil)
}

// setupClientTLS builds the transport TLS config from the CA, client
// certificate and verification settings.
func setupClientTLS(config Config) (*tls.Config, error) {
	// #nosec G402 verification is only skipped on explicit request
	tc := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: config.Insecure}
	opts := config.TLS
	if config.Insecure || opts == nil {
		return tc, nil
	}

	tc.InsecureSkipVerify = opts.SkipVerify
	tc.ServerName = opts.ServerName
	if opts.CACert != "" {
		pool, err := loadCACert(opts.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to load CA certificate: %w", err)
		}
		tc.RootCAs = pool
	}
	if opts.ClientCert != "" && opts.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(opts.ClientCert, opts.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	return tc, nil
}

func loadCACert(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

// doRequest performs HTTP request with common error handling and decodes a
// successful response into out when out is non-nil.
func (c *Client) doRequest(ctx context.Context, method, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "url", url)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	var body ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
		c.logger.Debug("API error without body", "status", resp.StatusCode)
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	c.logger.Debug("API request failed", "error", body.Error, "status", resp.StatusCode)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, body.Error)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, body.Error)
	default:
		return fmt.Errorf("API error: %s", body.Error)
	}
}
