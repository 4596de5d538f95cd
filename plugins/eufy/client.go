package eufy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/joshp123/eufyscope/internal/auth"
	"github.com/joshp123/eufyscope/internal/logging"
	"github.com/joshp123/eufyscope/internal/rate"
)

const (
	userAgent      = "EufyHome-Android-3.1.3-753"
	requestTimeout = 30 * time.Second
	maxErrorBody   = 512
)

var (
	ErrNoDPS        = errors.New("no data points in response")
	ErrUnauthorized = errors.New("eufy api rejected credentials")
)

// dpsFields are the response sections that carry data points, in lookup
// order.
var dpsFields = []string{"dps", "device_status", "properties", "status_data", "device_properties"}

var accessoryTypes = []string{"brush", "filter", "mop", "sensor"}

// APIError is a non-2xx response from the vendor API.
type APIError struct {
	URL    string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("eufy api %s: status %d: %s", e.URL, e.Status, e.Body)
}

// CredentialSource supplies request credentials. auth.Session implements it.
type CredentialSource interface {
	Credentials() (auth.Credentials, error)
	Invalidate()
}

// Client talks to the Eufy cloud REST APIs.
type Client struct {
	baseURL  string
	cleanURL string
	http     *http.Client
	creds    CredentialSource
	logger   *zap.Logger
	now      func() time.Time
}

// NewClient builds a REST client. A nil httpClient gets the default timeout
// with no rate guard.
func NewClient(cfg Config, creds CredentialSource, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if creds == nil {
		return nil, fmt.Errorf("eufy credentials are required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		cleanURL: strings.TrimRight(cfg.CleanAPIURL, "/"),
		http:     httpClient,
		creds:    creds,
		logger:   logging.OrNop(logger),
		now:      time.Now,
	}, nil
}

// GuardedHTTPClient returns the vendor HTTP client with decl enforced.
func GuardedHTTPClient(decl rate.Declaration) *http.Client {
	return rate.WrapHTTP(decl, &http.Client{Timeout: requestTimeout})
}

// DeviceDPS returns the current data points for a device. The clean API is
// tried first, then the legacy device info endpoint.
func (c *Client) DeviceDPS(ctx context.Context, deviceID string) (map[string]any, error) {
	ms := c.now().UnixMilli()
	resp, err := c.post(ctx, c.cleanURL+"/app/device/get_device_info", map[string]any{
		"device_sn": deviceID,
		"attribute": 3,
		"timestamp": ms,
	})
	if err == nil {
		if dps, ok := extractDPS(resp); ok {
			return dps, nil
		}
		err = ErrNoDPS
	}
	if isRateLimited(err) {
		return nil, err
	}
	c.logger.Debug("clean api device info failed, trying legacy endpoint", zap.String("device_id", deviceID), zap.Error(err))

	resp, err = c.post(ctx, c.baseURL+"/v1/device/info", map[string]any{
		"device_id":   deviceID,
		"time_zone":   0,
		"transaction": strconv.FormatInt(ms, 10),
	})
	if err != nil {
		return nil, fmt.Errorf("device info %s: %w", deviceID, err)
	}
	dps, ok := extractDPS(resp)
	if !ok {
		return nil, fmt.Errorf("device info %s: %w", deviceID, ErrNoDPS)
	}
	return dps, nil
}

// Accessory returns the raw accessory wear response for a device.
func (c *Client) Accessory(ctx context.Context, deviceID string) (map[string]any, error) {
	ms := c.now().UnixMilli()
	resp, err := c.post(ctx, c.cleanURL+"/app/device/get_accessory_data", map[string]any{
		"device_sn":       deviceID,
		"accessory_types": accessoryTypes,
		"include_usage":   true,
		"timestamp":       ms,
	})
	if err == nil && responseOK(resp) {
		return responseData(resp), nil
	}
	if isRateLimited(err) {
		return nil, err
	}

	resp, err = c.post(ctx, c.baseURL+"/v1/device/accessory_info", map[string]any{
		"device_id":         deviceID,
		"data_type":         "accessory_status",
		"include_wear_data": true,
		"timestamp":         ms,
	})
	if err != nil {
		return nil, fmt.Errorf("accessory info %s: %w", deviceID, err)
	}
	if !responseOK(resp) {
		return nil, fmt.Errorf("accessory info %s: %w", deviceID, ErrNoDPS)
	}
	return responseData(resp), nil
}

// post sends body as JSON. A 401 drops the cached token and retries once.
func (c *Client) post(ctx context.Context, url string, body any) (map[string]any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	out, err := c.send(ctx, url, payload)
	if errors.Is(err, ErrUnauthorized) {
		c.creds.Invalidate()
		out, err = c.send(ctx, url, payload)
	}
	return out, err
}

func (c *Client) send(ctx context.Context, url string, payload []byte) (map[string]any, error) {
	creds, err := c.creds.Credentials()
	if err != nil {
		return nil, fmt.Errorf("eufy credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	setHeaders(req.Header, creds)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(data))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, &APIError{URL: url, Status: resp.StatusCode, Body: snippet}
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", url, err)
	}
	return out, nil
}

func setHeaders(h http.Header, creds auth.Credentials) {
	h.Set("User-Agent", userAgent)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("category", "Home")
	h.Set("clienttype", "2")
	h.Set("timezone", "GMT+00:00")
	h.Set("openudid", creds.OpenUDID)
	if creds.AccessToken != "" {
		h.Set("token", creds.AccessToken)
	}
	if creds.UserCenterToken != "" {
		h.Set("x-auth-token", creds.UserCenterToken)
	}
	if creds.GToken != "" {
		h.Set("gtoken", creds.GToken)
	}
}

func isRateLimited(err error) bool {
	var rl rate.RateLimitError
	return errors.As(err, &rl)
}

func responseOK(resp map[string]any) bool {
	for _, field := range []string{"code", "res_code"} {
		if v, ok := intValue(resp[field]); ok && v == 0 {
			return true
		}
	}
	return false
}

func responseData(resp map[string]any) map[string]any {
	if data, ok := resp["data"].(map[string]any); ok {
		return data
	}
	return resp
}

// extractDPS finds the data point map in a device info response. When no
// named section is present the digit keys of the data section are used.
func extractDPS(resp map[string]any) (map[string]any, bool) {
	if !responseOK(resp) {
		return nil, false
	}
	section := responseData(resp)
	for _, field := range dpsFields {
		if m, ok := section[field].(map[string]any); ok && len(m) > 0 {
			return m, true
		}
	}
	out := map[string]any{}
	for k, v := range section {
		if isDigits(k) {
			out[k] = v
		}
	}
	return out, len(out) > 0
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
