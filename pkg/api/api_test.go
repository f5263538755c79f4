package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chatsync/pkg/auth"
	"chatsync/pkg/history"
	"chatsync/pkg/models"
	"chatsync/pkg/relay"
	"chatsync/pkg/upload"
)

type testServer struct {
	srv       *httptest.Server
	uploadDir string
}

func newTestServer(t *testing.T, sec auth.SecConfig, limits upload.Limits) *testServer {
	t.Helper()
	if err := history.Open(t.TempDir()); err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = history.Close() })

	hub := relay.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	if limits == (upload.Limits{}) {
		limits = upload.DefaultLimits()
	}
	dir := t.TempDir()
	handler := auth.Middleware(sec, Router(Options{Hub: hub, UploadDir: dir, Limits: limits}))
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, uploadDir: dir}
}

func openSec() auth.SecConfig {
	return auth.SecConfig{RPS: 1000, Burst: 1000, AllowUnauth: true}
}

func (ts *testServer) do(t *testing.T, method, path, user string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer res.Body.Close()
	rb, _ := io.ReadAll(res.Body)
	return res, rb
}

func TestCreateAndListMessages(t *testing.T) {
	ts := newTestServer(t, openSec(), upload.Limits{})

	res, body := ts.do(t, "POST", "/v1/conversations/c1/messages", "alice", models.Message{
		Content: "hello over rest", Type: models.TypeText,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create failed: %d %s", res.StatusCode, body)
	}
	var created models.Message
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	if created.ID == "" || created.Sender != "alice" || created.CreatedAt == 0 {
		t.Fatalf("server must assign id/sender/timestamp: %+v", created)
	}

	res, body = ts.do(t, "GET", "/v1/conversations/c1/messages?limit=50", "", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list failed: %d", res.StatusCode)
	}
	var out struct {
		Conversation string           `json:"conversation_id"`
		Messages     []models.Message `json:"messages"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if out.Conversation != "c1" || len(out.Messages) != 1 || out.Messages[0].ID != created.ID {
		t.Fatalf("unexpected listing: %s", body)
	}

	// empty conversations answer with an empty list, not null
	_, body = ts.do(t, "GET", "/v1/conversations/empty/messages", "", nil)
	if !strings.Contains(string(body), `"messages":[]`) {
		t.Fatalf("expected empty array, got %s", body)
	}
}

func TestEditRules(t *testing.T) {
	ts := newTestServer(t, openSec(), upload.Limits{})
	_, body := ts.do(t, "POST", "/v1/conversations/c1/messages", "alice", models.Message{
		Content: "draft", Type: models.TypeText,
	})
	var m models.Message
	_ = json.Unmarshal(body, &m)

	// non-owner rejected
	res, _ := ts.do(t, "PUT", "/v1/messages/"+m.ID, "mallory", map[string]string{"content": "hijack"})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-owner, got %d", res.StatusCode)
	}

	// owner edit goes through
	res, body = ts.do(t, "PUT", "/v1/messages/"+m.ID, "alice", map[string]string{"content": "final"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("owner edit failed: %d %s", res.StatusCode, body)
	}
	var edited models.Message
	_ = json.Unmarshal(body, &edited)
	if edited.Content != "final" || !edited.Edited {
		t.Fatalf("edit not applied: %+v", edited)
	}

	// versions keep the full trail
	res, body = ts.do(t, "GET", "/v1/messages/"+m.ID+"/versions", "", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("versions failed: %d", res.StatusCode)
	}
	var vout struct {
		Versions []models.Message `json:"versions"`
	}
	_ = json.Unmarshal(body, &vout)
	if len(vout.Versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(vout.Versions))
	}

	// deleting then editing conflicts
	if res, _ = ts.do(t, "DELETE", "/v1/messages/"+m.ID, "alice", nil); res.StatusCode != http.StatusOK {
		t.Fatalf("delete failed: %d", res.StatusCode)
	}
	res, _ = ts.do(t, "PUT", "/v1/messages/"+m.ID, "alice", map[string]string{"content": "late"})
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 editing deleted message, got %d", res.StatusCode)
	}
}

func TestDeleteTombstonesOverREST(t *testing.T) {
	ts := newTestServer(t, openSec(), upload.Limits{})
	_, body := ts.do(t, "POST", "/v1/conversations/c1/messages", "alice", models.Message{
		Content: "regret", Type: models.TypeText,
	})
	var m models.Message
	_ = json.Unmarshal(body, &m)

	res, body := ts.do(t, "DELETE", "/v1/messages/"+m.ID, "alice", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delete failed: %d %s", res.StatusCode, body)
	}
	var deleted models.Message
	_ = json.Unmarshal(body, &deleted)
	if !deleted.Deleted || deleted.Content != models.DeletedSentinel {
		t.Fatalf("expected sentinel tombstone, got %+v", deleted)
	}

	// record still listed
	_, body = ts.do(t, "GET", "/v1/conversations/c1/messages", "", nil)
	if !strings.Contains(string(body), models.DeletedSentinel) {
		t.Fatalf("tombstone missing from listing: %s", body)
	}
}

func TestValidationRejectsBadCreate(t *testing.T) {
	ts := newTestServer(t, openSec(), upload.Limits{})
	res, _ := ts.do(t, "POST", "/v1/conversations/c1/messages", "alice", models.Message{
		Type: models.TypeText, // no content
	})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.StatusCode)
	}
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := io.WriteString(fw, content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestUploadStoresFile(t *testing.T) {
	ts := newTestServer(t, openSec(), upload.Limits{})
	body, ctype := multipartBody(t, "file", "photo.jpg", "fake-jpeg-bytes")
	res, err := http.Post(ts.srv.URL+"/v1/chat/upload", ctype, body)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		rb, _ := io.ReadAll(res.Body)
		t.Fatalf("upload status %d: %s", res.StatusCode, rb)
	}
	var out upload.Result
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !strings.HasPrefix(out.URL, "/uploads/") || out.ThumbnailURL != out.URL {
		t.Fatalf("unexpected descriptor: %+v", out)
	}
	if out.Metadata.FileName != "photo.jpg" || out.Metadata.FileType != "image" {
		t.Fatalf("metadata wrong: %+v", out.Metadata)
	}

	stored := filepath.Join(ts.uploadDir, strings.TrimPrefix(out.URL, "/uploads/"))
	b, err := os.ReadFile(stored)
	if err != nil || string(b) != "fake-jpeg-bytes" {
		t.Fatalf("stored file wrong: %v %q", err, b)
	}

	// and it is served back
	res2, err := http.Get(ts.srv.URL + out.URL)
	if err != nil {
		t.Fatalf("fetch stored file: %v", err)
	}
	res2.Body.Close()
	if res2.StatusCode != http.StatusOK {
		t.Fatalf("stored file not served: %d", res2.StatusCode)
	}
}

func TestUploadOverLimitRejected(t *testing.T) {
	ts := newTestServer(t, openSec(), upload.Limits{Image: 4, Document: 4, Archive: 4})
	body, ctype := multipartBody(t, "file", "photo.jpg", "way past the limit")
	res, err := http.Post(ts.srv.URL+"/v1/chat/upload", ctype, body)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", res.StatusCode)
	}
	entries, _ := os.ReadDir(ts.uploadDir)
	if len(entries) != 0 {
		t.Fatalf("rejected upload must not be stored")
	}
}

func TestUploadBodyCappedBeforeParse(t *testing.T) {
	lim := upload.Limits{Image: 1 << 20, Document: 1 << 20, Archive: 1 << 20}
	ts := newTestServer(t, openSec(), lim)

	// just past the largest ceiling plus the form overhead: the body is
	// cut off during parsing, before anything spools to disk.
	body, ctype := multipartBody(t, "file", "huge.jpg", strings.Repeat("x", 2<<20+100*1024))
	res, err := http.Post(ts.srv.URL+"/v1/chat/upload", ctype, body)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", res.StatusCode)
	}
	entries, _ := os.ReadDir(ts.uploadDir)
	if len(entries) != 0 {
		t.Fatalf("capped upload must not be stored")
	}
}

func TestUploadUnknownTypeRejected(t *testing.T) {
	ts := newTestServer(t, openSec(), upload.Limits{})
	body, ctype := multipartBody(t, "file", "virus.exe", "nope")
	res, err := http.Post(ts.srv.URL+"/v1/chat/upload", ctype, body)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected rejection, got %d", res.StatusCode)
	}
}

// wsClient wraps a raw websocket connection for envelope tests.
type wsClient struct {
	t  *testing.T
	ws *websocket.Conn
}

func dialWS(t *testing.T, ts *testServer, user string) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws?user=" + user
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return &wsClient{t: t, ws: ws}
}

func (c *wsClient) emit(event string, payload any) {
	c.t.Helper()
	pb, _ := json.Marshal(payload)
	if err := c.ws.WriteJSON(models.Envelope{Event: event, Payload: pb}); err != nil {
		c.t.Fatalf("emit %s: %v", event, err)
	}
}

func (c *wsClient) next(timeout time.Duration) models.Envelope {
	c.t.Helper()
	c.ws.SetReadDeadline(time.Now().Add(timeout))
	var env models.Envelope
	if err := c.ws.ReadJSON(&env); err != nil {
		c.t.Fatalf("read envelope: %v", err)
	}
	return env
}

func TestWebsocketSendEchoCarriesClientID(t *testing.T) {
	ts := newTestServer(t, openSec(), upload.Limits{})
	alice := dialWS(t, ts, "alice")
	bob := dialWS(t, ts, "bob")

	alice.emit(models.EvJoin, models.JoinPayload{Conversation: "c1"})
	bob.emit(models.EvJoin, models.JoinPayload{Conversation: "c1"})
	time.Sleep(100 * time.Millisecond) // joins settle

	alice.emit(models.EvMessageSend, models.Message{
		ClientID: "c-123", Conversation: "c1", Content: "yo", Type: models.TypeText,
	})

	for _, c := range []*wsClient{alice, bob} {
		env := c.next(2 * time.Second)
		if env.Event != models.EvMessageNew {
			t.Fatalf("expected message:new, got %s", env.Event)
		}
		var m models.Message
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			t.Fatalf("decode echo: %v", err)
		}
		if m.ClientID != "c-123" {
			t.Fatalf("echo must carry the correlation id, got %q", m.ClientID)
		}
		if m.ID == "" || m.Sender != "alice" || m.CreatedAt == 0 {
			t.Fatalf("echo missing server-assigned identity: %+v", m)
		}
	}

	// the message is durable and visible over REST
	_, body := ts.do(t, "GET", "/v1/conversations/c1/messages", "", nil)
	if !strings.Contains(string(body), `"content":"yo"`) {
		t.Fatalf("sent message not persisted: %s", body)
	}
}

func TestWebsocketEditAndDeleteFanOut(t *testing.T) {
	ts := newTestServer(t, openSec(), upload.Limits{})
	alice := dialWS(t, ts, "alice")
	bob := dialWS(t, ts, "bob")
	alice.emit(models.EvJoin, models.JoinPayload{Conversation: "c1"})
	bob.emit(models.EvJoin, models.JoinPayload{Conversation: "c1"})
	time.Sleep(100 * time.Millisecond)

	alice.emit(models.EvMessageSend, models.Message{
		ClientID: "c-1", Conversation: "c1", Content: "first pass", Type: models.TypeText,
	})
	var m models.Message
	env := alice.next(2 * time.Second)
	_ = json.Unmarshal(env.Payload, &m)
	bob.next(2 * time.Second)

	alice.emit(models.EvMessageEdit, models.EditPayload{ID: m.ID, Conversation: "c1", Content: "second pass"})
	env = bob.next(2 * time.Second)
	if env.Event != models.EvMessageEdited {
		t.Fatalf("expected message:edited, got %s", env.Event)
	}
	var ep models.EditPayload
	_ = json.Unmarshal(env.Payload, &ep)
	if ep.ID != m.ID || ep.Content != "second pass" {
		t.Fatalf("edit echo wrong: %+v", ep)
	}

	// bob cannot delete alice's message
	bob.emit(models.EvMessageDelete, models.DeletePayload{ID: m.ID, Conversation: "c1"})
	alice.emit(models.EvMessageDelete, models.DeletePayload{ID: m.ID, Conversation: "c1"})
	env = bob.next(2 * time.Second)
	if env.Event != models.EvMessageDeleted {
		t.Fatalf("expected message:deleted, got %s", env.Event)
	}
	latest, err := history.GetLatest(m.ID)
	if err != nil || latest.Content != models.DeletedSentinel {
		t.Fatalf("delete not persisted: %+v %v", latest, err)
	}
}

func TestWebsocketTypingRelaysToPeerOnly(t *testing.T) {
	ts := newTestServer(t, openSec(), upload.Limits{})
	alice := dialWS(t, ts, "alice")
	bob := dialWS(t, ts, "bob")
	alice.emit(models.EvJoin, models.JoinPayload{Conversation: "c1"})
	bob.emit(models.EvJoin, models.JoinPayload{Conversation: "c1"})
	time.Sleep(100 * time.Millisecond)

	alice.emit(models.EvTyping, models.TypingPayload{Conversation: "c1", User: "alice", Typing: true})
	env := bob.next(2 * time.Second)
	if env.Event != models.EvTyping {
		t.Fatalf("expected typing event, got %s", env.Event)
	}
	var tp models.TypingPayload
	_ = json.Unmarshal(env.Payload, &tp)
	if tp.User != "alice" || !tp.Typing {
		t.Fatalf("typing payload wrong: %+v", tp)
	}

	// the sender gets no echo; the next frame alice sees is the peer's
	bob.emit(models.EvTyping, models.TypingPayload{Conversation: "c1", User: "bob", Typing: true})
	env = alice.next(2 * time.Second)
	_ = json.Unmarshal(env.Payload, &tp)
	if env.Event != models.EvTyping || tp.User != "bob" {
		t.Fatalf("expected bob's typing, got %s %+v", env.Event, tp)
	}
}

func TestWebsocketRequiresUser(t *testing.T) {
	ts := newTestServer(t, openSec(), upload.Limits{})
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws"
	_, res, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("dial without user should fail")
	}
	if res == nil || res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %+v", res)
	}
}

func TestAuthAndRateLimit(t *testing.T) {
	ts := newTestServer(t, auth.SecConfig{RPS: 2, Burst: 2}, upload.Limits{})

	// no key, no allow_unauth: rejected
	res, _ := ts.do(t, "GET", "/v1/conversations/c1/messages", "", nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", res.StatusCode)
	}

	// a hammering authorized caller trips the limiter
	ts2 := newTestServer(t, auth.SecConfig{RPS: 1, Burst: 1, AllowUnauth: true}, upload.Limits{})
	limited := false
	for i := 0; i < 10; i++ {
		res, _ := ts2.do(t, "GET", "/v1/conversations/c1/messages", "", nil)
		if res.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatalf("limiter never tripped")
	}
}
