// Package boost wraps the third-party campaign endpoint that performs the
// actual boost on behalf of a pool account.
package boost

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ChiMaMe-bean/msj/internal/domain"
	"github.com/ChiMaMe-bean/msj/internal/observability"
)

// User-facing messages for the failure modes the upstream call can hit.
const (
	msgTimeout       = "接口请求超时"
	msgInvalidFormat = "无效的响应格式"
	msgSystemError   = "系统异常"
)

const (
	maxAttempts = 3
	retryDelay  = 500 * time.Millisecond
)

// Client submits boost codes to the campaign endpoint. Only transport-level
// failures are retried; a well-formed refusal is final.
type Client struct {
	endpoint   string
	httpClient *http.Client
	retryDelay time.Duration
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client, for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRetryDelay overrides the pause between retry attempts, for tests.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// NewClient constructs a Client with the campaign's connect/read timeouts.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
			},
		},
		retryDelay: retryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit implements domain.BoostClient.
func (c *Client) Submit(ctx context.Context, code, credential string) domain.BoostResult {
	form := url.Values{}
	form.Set("code", code)
	form.Set("_AJAX_", "1")
	payload := form.Encode()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, retryable := c.attempt(ctx, payload, credential)
		if !retryable {
			observability.RecordUpstreamResult(string(result.Status))
			return result
		}
		log.Printf("boost: network failure on attempt %d/%d: %s", attempt, maxAttempts, result.Message)
		if attempt < maxAttempts {
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				attempt = maxAttempts
			}
		}
	}

	observability.RecordUpstreamResult(string(domain.BoostTimeout))
	return domain.BoostResult{Status: domain.BoostTimeout, Message: msgTimeout}
}

// attempt performs one upstream call. The second return value asks the caller
// to retry; it is true only for transport-level failures.
func (c *Client) attempt(ctx context.Context, payload, credential string) (domain.BoostResult, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(payload))
	if err != nil {
		return domain.BoostResult{Status: domain.BoostSystemError, Message: msgSystemError}, false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Cookie", credential)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.BoostResult{Status: domain.BoostTimeout, Message: err.Error()}, true
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.BoostResult{Status: domain.BoostTimeout, Message: err.Error()}, true
	}

	// Decode the raw bytes ourselves; the upstream's charset headers are not
	// trustworthy.
	var reply struct {
		Status int    `json:"status"`
		Msg    string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		log.Printf("boost: undecodable upstream reply: %x", raw)
		return domain.BoostResult{Status: domain.BoostInvalidReply, Message: msgInvalidFormat}, false
	}

	if reply.Status != 1 {
		return domain.BoostResult{Status: domain.BoostRejected, Message: repairEncoding(reply.Msg)}, false
	}
	return domain.BoostResult{Status: domain.BoostAccepted}, false
}

// repairEncoding undoes the upstream's occasional double encoding, where each
// UTF-8 byte of the message arrives as its own Latin-1 code point. Messages
// that do not match that shape are returned untouched.
func repairEncoding(msg string) string {
	folded := make([]byte, 0, len(msg))
	suspect := false
	for _, r := range msg {
		if r > 0xFF {
			return msg
		}
		if r >= 0x80 {
			suspect = true
		}
		folded = append(folded, byte(r))
	}
	if !suspect || !utf8.Valid(folded) {
		return msg
	}
	return string(folded)
}
