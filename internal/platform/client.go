package platform

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/radiusdt/campaign-scaler/internal/config"
	"github.com/radiusdt/campaign-scaler/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Credential is the master credential resolved at the start of a run. It is
// passed to every call; the client never stores one.
type Credential struct {
	AccessToken string
	AppSecret   string
}

// Proof returns the appsecret_proof for the access token: hex HMAC-SHA256
// keyed by the app secret.
func (c Credential) Proof() string {
	mac := hmac.New(sha256.New, []byte(c.AppSecret))
	mac.Write([]byte(c.AccessToken))
	return hex.EncodeToString(mac.Sum(nil))
}

// Client is a thin wrapper over the ads platform's marketing API.
type Client struct {
	baseURL    string
	version    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewClient builds a client from configuration.
func NewClient(cfg config.PlatformConfig, logger *zap.Logger, m *metrics.Metrics) *Client {
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		version:    cfg.APIVersion,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
		metrics:    m,
	}
}

func (c *Client) endpoint(path string) string {
	if c.version == "" {
		return c.baseURL + "/" + strings.TrimLeft(path, "/")
	}
	return c.baseURL + "/" + c.version + "/" + strings.TrimLeft(path, "/")
}

// get issues a signed GET against path.
func (c *Client) get(ctx context.Context, cred Credential, op, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	c.sign(cred, params)
	return c.do(ctx, op, http.MethodGet, c.endpoint(path)+"?"+params.Encode(), nil, out)
}

// post issues a signed form POST against path.
func (c *Client) post(ctx context.Context, cred Credential, op, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	c.sign(cred, params)
	return c.do(ctx, op, http.MethodPost, c.endpoint(path), strings.NewReader(params.Encode()), out)
}

// sign attaches the token and a freshly computed proof.
func (c *Client) sign(cred Credential, params url.Values) {
	params.Set("access_token", cred.AccessToken)
	if cred.AppSecret != "" {
		params.Set("appsecret_proof", cred.Proof())
	}
}

func (c *Client) do(ctx context.Context, op, method, rawURL string, body io.Reader, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordPlatformRequest(op, "error", time.Since(start))
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	c.metrics.RecordPlatformRequest(op, strconv.Itoa(resp.StatusCode), time.Since(start))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := decodeError(resp.StatusCode, data)
		c.logger.Debug("platform request failed",
			zap.String("operation", op),
			zap.Int("status", resp.StatusCode),
			zap.Int("code", apiErr.Code),
			zap.String("trace_id", apiErr.TraceID),
		)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	return nil
}

func decodeError(status int, data []byte) *APIError {
	var envelope struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error != nil {
		envelope.Error.StatusCode = status
		return envelope.Error
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{StatusCode: status, Message: msg}
}

// page is one page of a list edge.
type page[T any] struct {
	Data   []T `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// maxPages bounds cursor pagination per list call.
const maxPages = 100

// getAll follows paging.next until exhausted.
func getAll[T any](ctx context.Context, c *Client, cred Credential, op, path string, params url.Values) ([]T, error) {
	var first page[T]
	if err := c.get(ctx, cred, op, path, params, &first); err != nil {
		return nil, err
	}

	items := first.Data
	next := first.Paging.Next
	for i := 1; next != "" && i < maxPages; i++ {
		var p page[T]
		if err := c.do(ctx, op, http.MethodGet, next, nil, &p); err != nil {
			return nil, err
		}
		items = append(items, p.Data...)
		next = p.Paging.Next
	}
	if next != "" {
		return nil, errors.New(op + ": too many pages")
	}
	return items, nil
}
