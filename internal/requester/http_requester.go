package requester

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/brizzai/token-relay/internal/logger"
	"go.uber.org/zap"
)

const defaultTimeout = 30 * time.Second

// maxResponseBody bounds how much of an error body is kept for diagnostics
const maxResponseBody = 1 << 20

// HTTPRequester handles both request building and execution
type HTTPRequester struct {
	client  *http.Client
	builder *HTTPRequestBuilder
}

type HTTPRequesterParams struct {
	BaseURL     string
	Headers     map[string]string
	AuthManager AuthManager
	Timeout     time.Duration
}

// NewHTTPRequester creates a new HTTPRequester; a zero Timeout means 30s
func NewHTTPRequester(params HTTPRequesterParams) *HTTPRequester {
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPRequester{
		client: &http.Client{
			Timeout: timeout,
		},
		builder: NewHTTPRequestBuilder(params.BaseURL, params.Headers, params.AuthManager),
	}
}

// Do builds and executes req. A non-2xx status is not an error; callers inspect the Response.
func (r *HTTPRequester) Do(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := r.builder.BuildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := r.client.Do(httpReq)
	if err != nil {
		logger.Error("Request failed",
			zap.String("method", httpReq.Method),
			zap.String("path", httpReq.URL.Path),
			zap.Error(err),
		)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Error("Failed to close response body", zap.Error(closeErr))
		}
	}()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	logger.Debug("Request completed",
		zap.String("method", httpReq.Method),
		zap.String("path", httpReq.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       bodyBytes,
		Headers:    resp.Header,
	}, nil
}
