// Package featureservice is the HTTP client for a hosted feature service:
// token generation against the portal, layer metadata, statistics and
// filtered queries against a layer's REST endpoint.
package featureservice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"detectedits-go/internal/detect"
)

// DefaultTimeout bounds every request when no timeout is configured.
const DefaultTimeout = 60 * time.Second

// tokenExpiration is the requested token lifetime in minutes.
const tokenExpiration = "60"

// Client talks to a feature service and its portal.
type Client struct {
	httpClient *http.Client
	logger     detect.Logger
}

// NewClient creates a client whose requests time out after timeout.
func NewClient(timeout time.Duration, logger detect.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return NewClientWithHTTP(&http.Client{Timeout: timeout}, logger)
}

// NewClientWithHTTP creates a client around an existing http.Client.
func NewClientWithHTTP(httpClient *http.Client, logger detect.Logger) *Client {
	return &Client{httpClient: httpClient, logger: logger}
}

// remoteError is the error payload the portal and service return, usually
// with HTTP 200.
type remoteError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

// TokenURL returns the generateToken endpoint under sharingURL. ArcGIS
// Online serves it without the /rest segment.
func TokenURL(sharingURL string) string {
	base := strings.TrimSuffix(sharingURL, "/")
	if strings.Contains(strings.ToLower(base), "www.arcgis.com") {
		return base + "/generateToken"
	}
	return base + "/rest/generateToken"
}

// GenerateToken requests a referer-bound token. A single attempt is made.
func (c *Client) GenerateToken(ctx context.Context, sharingURL, username, password, referer string) (string, error) {
	form := url.Values{
		"username":   {username},
		"password":   {password},
		"client":     {"referer"},
		"referer":    {referer},
		"expiration": {tokenExpiration},
		"f":          {"pjson"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, TokenURL(sharingURL), strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var payload struct {
		Token string       `json:"token"`
		Error *remoteError `json:"error"`
	}
	if err := c.do(req, &payload); err != nil {
		return "", &detect.AuthError{Message: err.Error()}
	}
	if payload.Error != nil {
		return "", &detect.AuthError{Message: payload.Error.Message, Details: payload.Error.Details}
	}
	if payload.Token == "" {
		return "", &detect.AuthError{Message: "response contained no token"}
	}

	c.logger.Debug("token obtained", "username", username)
	return payload.Token, nil
}

// get issues a GET to endpoint with params and decodes the JSON response.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, v any) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parsing url %q: %w", endpoint, err)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return c.do(req, v)
}

// statusError is returned by do for non-2xx responses.
type statusError struct {
	Status int
	Reason string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Status, e.Reason)
}

func (c *Client) do(req *http.Request, v any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s%s: %w", req.Method, req.URL.Host, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return &statusError{Status: resp.StatusCode, Reason: http.StatusText(resp.StatusCode)}
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

var _ detect.FeatureService = (*Client)(nil)
