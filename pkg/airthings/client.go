package airthings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Default endpoints and tuning for the Airthings consumer API.
const (
	DefaultAPIURL   = "https://ext-api.airthings.com/v1/"
	DefaultTokenURL = "https://accounts-api.airthings.com/v1/token"

	// DefaultTimeout is the per-request timeout.
	DefaultTimeout = 10 * time.Second

	// DefaultMaxRetries is the number of retries after the initial attempt.
	DefaultMaxRetries = 3
)

// Config holds Airthings client configuration.
type Config struct {
	// ClientID and ClientSecret are the API credentials issued by the
	// Airthings dashboard for the client-credentials flow.
	ClientID     string
	ClientSecret string

	// APIURL overrides the consumer API base URL. Must end with a slash.
	APIURL string

	// TokenURL overrides the token endpoint URL.
	TokenURL string

	// Timeout is the per-request timeout. Defaults to DefaultTimeout.
	Timeout time.Duration

	// MaxRetries is the retry budget per operation. Defaults to DefaultMaxRetries.
	MaxRetries int

	// HTTPClient overrides the HTTP client used for all requests.
	HTTPClient *http.Client

	// Logger is used for request-level debug logging. The access token is
	// never logged.
	Logger zerolog.Logger

	// OnTokenRefresh, if set, is called after every successful token
	// exchange. It must not block.
	OnTokenRefresh func()
}

// Client is a client for the Airthings consumer API.
//
// The device list is fetched once and cached for the lifetime of the client;
// create a new client to pick up newly registered devices. Client is safe
// for concurrent use.
type Client struct {
	clientID     string
	clientSecret string
	apiURL       string
	tokenURL     string
	timeout      time.Duration
	maxRetries   int
	httpClient   *http.Client
	logger       zerolog.Logger
	onRefresh    func()

	mu          sync.Mutex
	accessToken string
	devices     []*Device
}

// NewClient creates a new Airthings API client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, NewAuthError("client id and secret are required", nil)
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if !strings.HasSuffix(cfg.APIURL, "/") {
		cfg.APIURL += "/"
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	return &Client{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		apiURL:       cfg.APIURL,
		tokenURL:     cfg.TokenURL,
		timeout:      cfg.Timeout,
		maxRetries:   cfg.MaxRetries,
		httpClient:   cfg.HTTPClient,
		logger:       cfg.Logger.With().Str("component", "airthings-client").Logger(),
		onRefresh:    cfg.OnTokenRefresh,
	}, nil
}

// Devices returns the devices registered to the account.
// The list is fetched on first use and cached for the lifetime of the client.
func (c *Client) Devices(ctx context.Context) ([]*Device, error) {
	c.mu.Lock()
	cached := c.devices
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	var resp devicesResponse
	if err := c.getJSON(ctx, "devices", c.apiURL+"devices", &resp); err != nil {
		return nil, err
	}

	devices := make([]*Device, 0, len(resp.Devices))
	for _, entry := range resp.Devices {
		devices = append(devices, entry.toDevice())
	}

	c.mu.Lock()
	c.devices = devices
	c.mu.Unlock()

	c.logger.Debug().Int("count", len(devices)).Msg("Device list fetched")
	return devices, nil
}

// LatestSamples fetches the most recent sensor samples for a device.
// Non-numeric fields in the response are dropped.
func (c *Client) LatestSamples(ctx context.Context, deviceID string) (map[string]float64, error) {
	if deviceID == "" {
		return nil, NewPermanentError("device id is required", nil).WithOperation("latest-samples")
	}

	var resp samplesResponse
	endpoint := fmt.Sprintf("%sdevices/%s/latest-samples", c.apiURL, deviceID)
	if err := c.getJSON(ctx, "latest-samples", endpoint, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			apiErr.DeviceID = deviceID
		}
		return nil, err
	}

	return numericSamples(resp.Data), nil
}

// UpdateDevices fetches the latest samples for every device that declares
// sensors and returns the updated devices keyed by device ID. Devices
// without sensors, or with no sample data yet, are skipped.
func (c *Client) UpdateDevices(ctx context.Context) (map[string]*Device, error) {
	devices, err := c.Devices(ctx)
	if err != nil {
		return nil, err
	}

	result := make(map[string]*Device, len(devices))
	for _, device := range devices {
		if !device.HasSensors() {
			continue
		}
		samples, err := c.LatestSamples(ctx, device.ID)
		if err != nil {
			return nil, err
		}
		if len(samples) == 0 {
			continue
		}
		device.Sensors = samples
		result[device.ID] = device
	}

	return result, nil
}

// Token returns a valid access token, fetching a new one if necessary.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.accessToken
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}

	token, err := c.fetchToken(ctx, c.maxRetries)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.accessToken = token
	c.mu.Unlock()
	return token, nil
}

// invalidateToken drops the cached token, forcing re-authentication on the
// next request.
func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.accessToken = ""
	c.mu.Unlock()
}

// getJSON performs an authenticated GET and decodes the JSON response body.
func (c *Client) getJSON(ctx context.Context, op, endpoint string, out any) error {
	body, err := c.get(ctx, op, endpoint, c.maxRetries)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return NewPermanentError("failed to decode response", err).WithOperation(op)
	}
	return nil
}

// get performs an authenticated GET with the client's retry semantics:
// a non-200 response with retries remaining drops the cached token and
// retries (forcing re-authentication), except on HTTP 429 which is never
// retried inline.
func (c *Client) get(ctx context.Context, op, endpoint string, retries int) ([]byte, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("url", endpoint).
		Str("operation", op).
		Int("retries_left", retries).
		Msg("Request")

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, NewPermanentError("failed to create request", err).WithOperation(op)
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.invalidateToken()
		if isTimeout(err) && ctx.Err() == nil {
			if retries > 0 {
				return c.get(ctx, op, endpoint, retries-1)
			}
			c.logger.Error().Str("url", endpoint).Msg("Timed out connecting to Airthings")
			return nil, NewTransientError("timed out connecting to Airthings", err).WithOperation(op)
		}
		c.logger.Error().Err(err).Str("url", endpoint).Msg("Error connecting to Airthings")
		return nil, NewTransientError("error connecting to Airthings", err).WithOperation(op)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if retries > 0 && resp.StatusCode != http.StatusTooManyRequests {
			c.invalidateToken()
			return c.get(ctx, op, endpoint, retries-1)
		}
		c.logger.Error().
			Int("status", resp.StatusCode).
			Str("url", endpoint).
			Msg("Error response from Airthings")
		return nil, classifyStatus(resp.StatusCode).WithOperation(op)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewTransientError("failed to read response body", err).WithOperation(op)
	}
	return body, nil
}

// fetchToken exchanges the client credentials for an access token.
// Connection errors and timeouts consume the retry budget; a non-200
// response is an authentication failure and is not retried.
func (c *Client) fetchToken(ctx context.Context, retries int) (string, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", NewPermanentError("failed to create token request", err).WithOperation("token")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if retries > 0 && ctx.Err() == nil {
			return c.fetchToken(ctx, retries-1)
		}
		c.logger.Error().Err(err).Msg("Error getting Airthings token")
		return "", NewTransientError("error getting Airthings token", err).WithOperation("token")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error().
			Int("status", resp.StatusCode).
			Msg("Failed to log in to retrieve Airthings token")
		return "", NewAuthError("failed to log in to retrieve token", nil).
			WithOperation("token").
			WithStatus(resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", NewPermanentError("failed to decode token response", err).WithOperation("token")
	}
	if tok.AccessToken == "" {
		return "", NewAuthError("token response contained no access token", nil).WithOperation("token")
	}

	if c.onRefresh != nil {
		c.onRefresh()
	}
	return tok.AccessToken, nil
}

// classifyStatus maps an HTTP status code to a classified error.
func classifyStatus(status int) *APIError {
	msg := fmt.Sprintf("error response from Airthings: %s", http.StatusText(status))
	switch {
	case status == http.StatusTooManyRequests:
		return NewThrottledError(msg, nil).WithStatus(status)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewAuthError(msg, nil).WithStatus(status)
	case status >= 500:
		return NewTransientError(msg, nil).WithStatus(status)
	default:
		return NewPermanentError(msg, nil).WithStatus(status)
	}
}

// isTimeout reports whether err is a deadline or timeout error.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
