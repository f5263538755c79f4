package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

// RESTClient performs the durable round-trips the event channel is not fit
// for: history fetches and uploads needing a server-assigned URL.
type RESTClient struct {
	base   string
	apiKey string
	token  string
	hc     *http.Client
}

// NewRESTClient builds a client rooted at base ("http://host:port/v1").
// apiKey and token are optional and attached to every request.
func NewRESTClient(base, apiKey, token string) *RESTClient {
	return &RESTClient{
		base:   strings.TrimRight(base, "/"),
		apiKey: apiKey,
		token:  token,
		hc:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Request marshals body to JSON (nil means no body), performs the call and
// returns a classified result. Status >= 400 surfaces as a TransportError
// of kind "status" so callers never probe response shapes on failure.
func (c *RESTClient) Request(ctx context.Context, method, path string, body any) (*Response, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, &TransportError{Kind: KindNetwork, Op: method + " " + path, Err: err}
		}
		rd = bytes.NewReader(b)
	}
	return c.Do(ctx, method, path, "application/json", rd)
}

// Do performs a request with a caller-provided body stream and content
// type. Used directly by the uploader for multipart bodies.
func (c *RESTClient) Do(ctx context.Context, method, path, contentType string, body io.Reader) (*Response, error) {
	op := method + " " + path
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, &TransportError{Kind: KindNetwork, Op: op, Err: err}
	}
	if body != nil && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	res, err := c.hc.Do(req)
	if err != nil {
		return nil, classify(op, err)
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, classify(op, err)
	}
	if res.StatusCode >= 400 {
		return nil, &TransportError{Kind: KindStatus, Op: op, Status: res.StatusCode}
	}
	return &Response{Status: res.StatusCode, Body: b}, nil
}
