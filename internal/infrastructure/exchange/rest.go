package exchange

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/vitos/signal_trader/internal/domain"
	"go.uber.org/zap"
)

const DefaultTimeout = 10 * time.Second

// signer sets authentication headers on a request. body is the exact payload
// that will be sent.
type signer func(req *http.Request, query, body string)

// restClient is the HTTP plumbing shared by the adapters: per-call timeout,
// error classification and a single retry of GETs that never reached the
// server.
type restClient struct {
	name    string
	baseURL string
	client  *http.Client
	sign    signer
	logger  *zap.Logger
}

func newRESTClient(name, baseURL string, timeout time.Duration, sign signer, logger *zap.Logger) *restClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &restClient{
		name:    name,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		sign:    sign,
		logger:  logger.With(zap.String("exchange", name)),
	}
}

// do sends one request and returns the response body for any status below
// 500 except 429. Transport failures, timeouts, 5xx and 429 are Unavailable.
func (c *restClient) do(ctx context.Context, method, path, query string, body []byte) ([]byte, int, error) {
	op := c.name + " " + method + " " + path
	attempts := 1
	if method == http.MethodGet {
		attempts = 2
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		respBody, status, err := c.once(ctx, method, path, query, body)
		if err == nil {
			if status >= 500 || status == http.StatusTooManyRequests {
				return nil, status, domain.Errorf(domain.KindUnavailable, op, "http %d: %s", status, truncate(respBody))
			}
			return respBody, status, nil
		}
		lastErr = err
		if !isConnectionError(err) || ctx.Err() != nil {
			break
		}
		if i+1 < attempts {
			c.logger.Warn("Connection error, retrying request once", zap.String("path", path), zap.Error(err))
		}
	}
	return nil, 0, domain.NewError(domain.KindUnavailable, op, lastErr)
}

func (c *restClient) once(ctx context.Context, method, path, query string, body []byte) ([]byte, int, error) {
	url := c.baseURL + path
	if query != "" {
		url += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.sign != nil {
		c.sign(req, query, string(body))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

// isConnectionError reports failures where the request most likely never
// reached the exchange. Timeouts are excluded: the request may have landed.
func isConnectionError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
