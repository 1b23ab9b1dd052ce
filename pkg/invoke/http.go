package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lanternworks/relay/pkg/utils"
)

// HTTPClient invokes a backend over HTTP. The response shape is negotiated
// from the Content-Type header: event streams and NDJSON stay incremental,
// JSON documents are decoded, everything else passes through as bytes or
// text.
type HTTPClient struct {
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPClient creates an HTTP invoker for the given backend endpoint.
func NewHTTPClient(endpoint string, logger *zap.Logger) (*HTTPClient, error) {
	if endpoint == "" {
		return nil, ErrEndpointRequired
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HTTPClient{
		endpoint: endpoint,
		httpClient: &http.Client{
			// Generation can be slow, especially with thinking blocks
			Timeout: 5 * time.Minute,
		},
		logger: logger,
	}, nil
}

// Invoke POSTs the payload to the backend and wraps the response according
// to its declared content type.
func (c *HTTPClient) Invoke(ctx context.Context, payload Payload) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &InvocationError{Err: fmt.Errorf("marshal payload: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &InvocationError{Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")

	c.logger.Debug("invoking backend",
		zap.String("endpoint", c.endpoint),
		zap.String("conversation_id", payload.ConversationID),
		zap.String("message_id", payload.MessageID),
	)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &InvocationError{Err: err}
	}

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		c.logger.Error("backend returned error",
			zap.Int("status", httpResp.StatusCode),
			zap.String("body", utils.Truncate(string(respBody), 512)),
		)
		return nil, &InvocationError{
			Status: httpResp.StatusCode,
			Err:    fmt.Errorf("backend returned status %d", httpResp.StatusCode),
		}
	}

	switch ct := httpResp.Header.Get("Content-Type"); {
	case strings.HasPrefix(ct, "text/event-stream"), strings.HasPrefix(ct, "application/x-ndjson"):
		// Hand the body over unread; the normalizer consumes and closes it.
		return &Response{Body: httpResp.Body}, nil

	case strings.HasPrefix(ct, "application/json"):
		data, err := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		if err != nil {
			return nil, &InvocationError{Err: fmt.Errorf("read response body: %w", err)}
		}

		var value map[string]any
		if err := json.Unmarshal(data, &value); err != nil {
			// Valid JSON that isn't an object (or not JSON at all despite
			// the header) still flows through as raw bytes.
			return &Response{Raw: data}, nil
		}
		return &Response{Value: value}, nil

	case strings.HasPrefix(ct, "text/"):
		data, err := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		if err != nil {
			return nil, &InvocationError{Err: fmt.Errorf("read response body: %w", err)}
		}
		return &Response{Text: string(data)}, nil

	default:
		data, err := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		if err != nil {
			return nil, &InvocationError{Err: fmt.Errorf("read response body: %w", err)}
		}
		return &Response{Raw: data}, nil
	}
}
