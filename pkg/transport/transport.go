// Package transport wraps the bidirectional event channel and the REST
// client behind one adapter so reconnect and error classification never
// leak into the synchronizer.
package transport

import (
	"context"
	"encoding/json"
	"io"
)

// Handler consumes the raw payload of one inbound event.
type Handler func(payload json.RawMessage)

// Adapter is the surface the synchronizer talks to. Emit is fire-and-forget:
// callers must not assume an emitted intent reached the relay; confirmation
// only comes back through the event stream. Every On registration returns a
// disposer and all disposers must be called on teardown so handlers do not
// leak across conversation switches.
type Adapter interface {
	Connect(ctx context.Context) error
	Disconnect()
	JoinConversation(id string)
	LeaveConversation(id string)
	Emit(event string, payload any)
	On(event string, h Handler) (off func())
	Request(ctx context.Context, method, path string, body any) (*Response, error)
}

// Doer is the streaming request surface the uploader uses: multipart bodies
// with a caller-chosen content type.
type Doer interface {
	Do(ctx context.Context, method, path, contentType string, body io.Reader) (*Response, error)
}

// Response is a tagged request result: callers pattern-match on Status and
// decode explicitly instead of guessing at shapes.
type Response struct {
	Status int
	Body   []byte
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}
