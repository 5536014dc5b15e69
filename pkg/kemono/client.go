package kemono

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	errs "kemonod/pkg/errors"
	"kemonod/pkg/logger"
	"kemonod/pkg/ratelimit"
)

// Client talks to the platform API and its file servers
type Client struct {
	apiClient    *http.Client
	streamClient *http.Client
	headers      map[string]string
	baseURL      string
	limiter      ratelimit.Limiter
	logger       logger.Logger
}

// NewClient creates a new platform client. The timeout bounds API calls
// end to end; file streams only bound the response header wait, since a
// large transfer has no sensible total deadline.
func NewClient(baseURL string, timeout time.Duration, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	if baseURL == "" {
		baseURL = BaseURL
	}

	return &Client{
		apiClient: &http.Client{
			Timeout: timeout,
		},
		streamClient: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: timeout,
			},
		},
		headers: map[string]string{
			"User-Agent":      DefaultUserAgent,
			"Accept":          "application/json, text/css",
			"Accept-Language": "en-US,en;q=0.5",
			"Connection":      "keep-alive",
			"Sec-Fetch-Dest":  "empty",
			"Sec-Fetch-Mode":  "cors",
			"Sec-Fetch-Site":  "same-origin",
		},
		baseURL: baseURL,
		logger:  log,
	}
}

// BaseURL returns the configured platform base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetHeader sets a custom header for the client
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// SetSessionCookie attaches the stored session cookie to all requests
func (c *Client) SetSessionCookie(cookie string) {
	if cookie != "" {
		c.headers["Cookie"] = cookie
	}
}

// SetUserAgent overrides the default user agent
func (c *Client) SetUserAgent(ua string) {
	if ua != "" {
		c.headers["User-Agent"] = ua
	}
}

// SetRateLimit caps outgoing requests at the given per-minute budget.
// Zero or negative disables the cap.
func (c *Client) SetRateLimit(requestsPerMinute int) {
	if requestsPerMinute <= 0 {
		c.limiter = nil
		return
	}
	c.SetLimiter(ratelimit.NewTokenBucket(requestsPerMinute, time.Minute))
}

// SetLimiter installs a custom rate limiter
func (c *Client) SetLimiter(l ratelimit.Limiter) {
	c.limiter = l
}

// doRequest performs an HTTP request with the configured headers,
// holding every request to the configured rate limit
func (c *Client) doRequest(client *http.Client, req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		c.limiter.Wait()
	}

	for key, value := range c.headers {
		if req.Header.Get(key) == "" {
			req.Header.Set(key, value)
		}
	}

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"url":      req.URL.String(),
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, &errs.Error{
			Type:    errs.ErrorTypeNetwork,
			Message: fmt.Sprintf("network error: %v", err),
			Code:    0,
		}
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   req.Method,
		"url":      req.URL.String(),
		"status":   resp.StatusCode,
		"duration": duration,
	})

	return resp, nil
}

// GetJSON performs a GET request and decodes the JSON response
func (c *Client) GetJSON(url string, target interface{}) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return &errs.Error{
			Type:    errs.ErrorTypeUnknown,
			Message: fmt.Sprintf("failed to create request: %v", err),
			Code:    0,
		}
	}

	resp, err := c.doRequest(c.apiClient, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &errs.Error{
			Type:    errs.ErrorTypeNetwork,
			Message: fmt.Sprintf("failed to read response body: %v", err),
			Code:    resp.StatusCode,
		}
	}

	if err := json.Unmarshal(body, target); err != nil {
		bodyPreview := string(body)
		if len(bodyPreview) > 200 {
			bodyPreview = bodyPreview[:200] + "..."
		}

		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"url":          url,
			"status":       resp.StatusCode,
			"error":        err.Error(),
			"body_preview": bodyPreview,
		})
		return &errs.Error{
			Type:    errs.ErrorTypeParsing,
			Message: fmt.Sprintf("failed to parse JSON: %v", err),
			Code:    resp.StatusCode,
		}
	}

	return nil
}

// checkResponseStatus maps an HTTP response status to a typed error
func (c *Client) checkResponseStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent {
		return nil
	}

	errorType := errs.FromStatusCode(resp.StatusCode)

	switch errorType {
	case errs.ErrorTypeRateLimit:
		c.logger.WarnWithFields("rate limited by platform", map[string]interface{}{
			"status": resp.StatusCode,
			"url":    resp.Request.URL.String(),
		})
	case errs.ErrorTypeServerError:
		c.logger.ErrorWithFields("platform server error", map[string]interface{}{
			"status": resp.StatusCode,
			"url":    resp.Request.URL.String(),
		})
	default:
		c.logger.WarnWithFields("platform request rejected", map[string]interface{}{
			"status": resp.StatusCode,
			"url":    resp.Request.URL.String(),
		})
	}

	return &errs.Error{
		Type:    errorType,
		Message: fmt.Sprintf("unexpected status code: %d", resp.StatusCode),
		Code:    resp.StatusCode,
	}
}

// FetchProfile fetches a creator's profile record
func (c *Client) FetchProfile(service, userID string) (*Profile, error) {
	url := ProfileURL(c.baseURL, service, userID)

	c.logger.DebugWithFields("fetching creator profile", map[string]interface{}{
		"service": service,
		"user_id": userID,
	})

	var profile Profile
	if err := c.GetJSON(url, &profile); err != nil {
		return nil, err
	}

	return &profile, nil
}

// ListPosts fetches one page of a creator's post listing. Pages are
// PageSize entries ordered newest first; hasMore is derived from a full
// page being returned.
func (c *Client) ListPosts(service, userID string, offset int) ([]Post, bool, error) {
	url := PostsURL(c.baseURL, service, userID, offset)

	var posts []Post
	if err := c.GetJSON(url, &posts); err != nil {
		return nil, false, err
	}

	c.logger.DebugWithFields("post page fetched", map[string]interface{}{
		"service": service,
		"user_id": userID,
		"offset":  offset,
		"count":   len(posts),
	})

	return posts, len(posts) == PageSize, nil
}

// FetchPost fetches the full post record including file references
func (c *Client) FetchPost(service, userID, postID string) (*PostDetail, error) {
	url := PostURL(c.baseURL, service, userID, postID)

	var detail PostDetail
	if err := c.GetJSON(url, &detail); err != nil {
		return nil, err
	}

	return &detail, nil
}

// FileSize asks the file server for the size of a remote file via HEAD.
// Returns 0 when the server does not declare a content length.
func (c *Client) FileSize(url string) (int64, error) {
	req, err := http.NewRequest(http.MethodHead, url, nil)
	if err != nil {
		return 0, &errs.Error{
			Type:    errs.ErrorTypeUnknown,
			Message: fmt.Sprintf("failed to create request: %v", err),
			Code:    0,
		}
	}

	resp, err := c.doRequest(c.apiClient, req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp); err != nil {
		return 0, err
	}

	size, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	if err != nil || size < 0 {
		return 0, nil
	}

	return size, nil
}

// Open starts a streamed file download. When offset is positive a byte
// range continuation is requested; resumed reports whether the server
// honored it (a plain 200 means the transfer restarted from zero). The
// returned length is the number of bytes remaining on the wire, or 0
// when unknown. The caller owns the body.
func (c *Client) Open(url string, offset int64) (io.ReadCloser, int64, bool, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, false, &errs.Error{
			Type:    errs.ErrorTypeUnknown,
			Message: fmt.Sprintf("failed to create request: %v", err),
			Code:    0,
		}
	}

	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.doRequest(c.streamClient, req)
	if err != nil {
		return nil, 0, false, err
	}

	if err := c.checkResponseStatus(resp); err != nil {
		resp.Body.Close()
		return nil, 0, false, err
	}

	length, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	if err != nil || length < 0 {
		length = 0
	}

	resumed := offset > 0 && resp.StatusCode == http.StatusPartialContent

	return resp.Body, length, resumed, nil
}
