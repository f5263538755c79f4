package transport

import (
	"context"
	"io"
	"net/http"
)

// Client is the concrete Adapter: a Socket for the event channel plus a
// RESTClient for durable round-trips.
type Client struct {
	*Socket
	rest *RESTClient
}

var _ Adapter = (*Client)(nil)
var _ Doer = (*Client)(nil)

// New builds a connected-on-demand adapter. wsURL is the relay websocket
// endpoint, baseURL the REST root. apiKey and token ride on both channels.
func New(wsURL, baseURL, apiKey, token string) *Client {
	h := http.Header{}
	if apiKey != "" {
		h.Set("X-API-Key", apiKey)
	}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return &Client{
		Socket: NewSocket(wsURL, h),
		rest:   NewRESTClient(baseURL, apiKey, token),
	}
}

func (c *Client) Request(ctx context.Context, method, path string, body any) (*Response, error) {
	return c.rest.Request(ctx, method, path, body)
}

func (c *Client) Do(ctx context.Context, method, path, contentType string, body io.Reader) (*Response, error) {
	return c.rest.Do(ctx, method, path, contentType, body)
}
