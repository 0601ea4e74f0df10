package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// StatusTimeout is reported when the per-call timeout fires.
	StatusTimeout = http.StatusRequestTimeout
	// StatusTransportFailure is reported for any other transport error.
	StatusTransportFailure = http.StatusInternalServerError

	// DefaultTimeout bounds a single POST when the caller passes zero.
	DefaultTimeout = 10 * time.Second

	maxErrorBody = 64 << 10
)

// Response is the uniform result of a POST. Payload is the raw JSON body of
// a 2xx reply; Message is set for every failure.
type Response struct {
	Status    int
	Message   string
	Payload   json.RawMessage
	RequestID string

	err error
}

// OK reports whether the server answered with a 2xx status.
func (r *Response) OK() bool { return r.err == nil }

// Err returns nil for 2xx replies, otherwise one of *HTTPStatusError,
// *TimeoutError or *TransportError.
func (r *Response) Err() error { return r.err }

// Client posts JSON to the enclave and tracking endpoints.
type Client struct {
	http *http.Client
	log  *zap.Logger
}

func NewClient(httpClient *http.Client, log *zap.Logger) *Client {
	if httpClient == nil {
		// Per-call timeouts come from the request context.
		httpClient = &http.Client{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{http: httpClient, log: log}
}

// Post sends body as JSON to url. A non-empty token is sent as a bearer
// credential. The request is cancelled once timeout elapses.
func (c *Client) Post(ctx context.Context, url string, body any, token string, timeout time.Duration) *Response {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	reqID := uuid.NewString()

	b, err := json.Marshal(body)
	if err != nil {
		return transportFailure(reqID, url, fmt.Errorf("marshal body: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return transportFailure(reqID, url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", reqID)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.classify(ctx, reqID, url, timeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		herr := &HTTPStatusError{Status: resp.StatusCode, Body: string(text)}
		c.log.Debug("post: non-2xx",
			zap.String("url", url),
			zap.String("request_id", reqID),
			zap.Int("status", resp.StatusCode),
		)
		return &Response{Status: resp.StatusCode, Message: herr.Error(), RequestID: reqID, err: herr}
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.classify(ctx, reqID, url, timeout, err)
	}
	return &Response{Status: resp.StatusCode, Payload: payload, RequestID: reqID}
}

func (c *Client) classify(ctx context.Context, reqID, url string, timeout time.Duration, err error) *Response {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		terr := &TimeoutError{URL: url, Timeout: timeout}
		c.log.Debug("post: timed out", zap.String("url", url), zap.String("request_id", reqID), zap.Duration("timeout", timeout))
		return &Response{Status: StatusTimeout, Message: terr.Error(), RequestID: reqID, err: terr}
	}
	c.log.Debug("post: transport error", zap.String("url", url), zap.String("request_id", reqID), zap.Error(err))
	return transportFailure(reqID, url, err)
}

func transportFailure(reqID, url string, err error) *Response {
	return &Response{
		Status:    StatusTransportFailure,
		Message:   err.Error(),
		RequestID: reqID,
		err:       &TransportError{URL: url, Err: err},
	}
}
