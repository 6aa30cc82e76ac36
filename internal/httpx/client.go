package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bitrise-io/go-kodo/config"
	"github.com/bitrise-io/go-kodo/kodoerr"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// ReqIDHeader is set by the service on every response.
const ReqIDHeader = "X-Reqid"

const maxErrorBodySize = 64 * 1024

// NewClient creates the retrying HTTP client shared by the API components.
// Retries stay on the same host; switching hosts is up to the caller.
func NewClient(cfg *config.Config, logger log.Logger) *retryablehttp.Client {
	client := retryhttp.NewClient(logger)
	client.RetryMax = cfg.HostRetries
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.CheckRetry = createRetryPolicy(logger)
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.HTTPClient = &http.Client{
		Timeout: cfg.RequestTimeout,
		Transport: &userAgentTransport{
			userAgent: cfg.UserAgent(),
			next: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   cfg.ConnectTimeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
	return client
}

// createRetryPolicy retries like the default policy, except for the service specific
// status codes above 599 and for 579 (callback failed), which never succeed on a retry.
func createRetryPolicy(logger log.Logger) retryablehttp.CheckRetry {
	return func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if resp != nil && (resp.StatusCode == 579 || resp.StatusCode >= 600) {
			return false, nil
		}
		retry, policyErr := retryablehttp.DefaultRetryPolicy(ctx, resp, err)
		logger.Debugf("CheckRetry: retry=%v ; err=%+v ; requestErr=%+v", retry, policyErr, err)
		return retry, policyErr
	}
}

type userAgentTransport struct {
	userAgent string
	next      http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.next.RoundTrip(req)
}

// ResponseError turns a non-2xx response into a kodoerr ResponseStatus error.
// The service reports errors as {"error": "..."}; other bodies are used verbatim.
func ResponseError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil {
		return kodoerr.NewIOError(fmt.Errorf("read error response: %w", err))
	}

	var errResp struct {
		Error string `json:"error"`
	}
	message := strings.TrimSpace(string(body))
	if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil && errResp.Error != "" {
		message = errResp.Error
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return kodoerr.NewResponseStatusError(resp.StatusCode, message)
}

// DecodeJSON checks the status of resp and decodes its body into v.
func DecodeJSON(resp *http.Response, v interface{}) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ResponseError(resp)
	}
	if v == nil {
		_, err := io.Copy(io.Discard, resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return kodoerr.NewIOError(fmt.Errorf("decode response: %w", err))
		}
		return kodoerr.NewJSONError(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// CloseBody closes resp.Body and logs the failure.
func CloseBody(resp *http.Response, logger log.Logger) {
	if err := resp.Body.Close(); err != nil {
		logger.Printf("close response body: %s", err)
	}
}

// IsTransportError reports whether err happened before a complete response was received:
// a failed connection, a timeout or a broken response body. Status errors, malformed
// responses and cancellation are not transport errors.
func IsTransportError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var tagged *kodoerr.Error
	if errors.As(err, &tagged) {
		return tagged.Kind() == kodoerr.KindIO
	}
	return true
}

// DoJSON sends req and decodes the JSON response into v (which may be nil).
func DoJSON(client *retryablehttp.Client, req *retryablehttp.Request, v interface{}, logger log.Logger) error {
	_, err := Do(client, req, v, logger)
	return err
}

// Do is DoJSON returning the request id the service assigned to the request.
func Do(client *retryablehttp.Client, req *retryablehttp.Request, v interface{}, logger log.Logger) (string, error) {
	resp, err := client.Do(req)
	if err != nil {
		return "", kodoerr.NewIOError(fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err))
	}
	defer CloseBody(resp, logger)

	reqID := resp.Header.Get(ReqIDHeader)
	logger.Debugf("%s %s: %d (reqid: %s)", req.Method, req.URL.Redacted(), resp.StatusCode, reqID)
	return reqID, DecodeJSON(resp, v)
}
