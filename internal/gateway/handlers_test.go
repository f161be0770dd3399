package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/aide/internal/agent"
	"github.com/haasonsaas/aide/internal/sessions"
	"github.com/haasonsaas/aide/pkg/models"
)

// fakeAgent echoes a scripted reply and records what it was asked.
type fakeAgent struct {
	reply  string
	deltas []string
	err    error

	lastKey  string
	lastText string
}

func (f *fakeAgent) Handle(ctx context.Context, sessionKey, text string, onDelta agent.StreamFunc) (string, error) {
	f.lastKey = sessionKey
	f.lastText = text
	if f.err != nil {
		return "", f.err
	}
	if onDelta != nil {
		for _, d := range f.deltas {
			onDelta(d)
		}
	}
	return f.reply, nil
}

func newTestServer(t *testing.T, handler AgentHandler) (*Server, *sessions.Store) {
	t.Helper()
	store, err := sessions.NewStore(t.TempDir(), sessions.Options{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	s := NewServer(ServerConfig{MaxTextChars: 50}, handler, store, nil, nil, nil)
	return s, store
}

func rpcRequest(method, params string) *Request {
	req := &Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: method}
	if params != "" {
		req.Params = json.RawMessage(params)
	}
	return req
}

func testConn(s *Server) *wsConn {
	return &wsConn{server: s, ctx: context.Background(), send: make(chan []byte, sendBuffer)}
}

func TestDispatchMethodNotFound(t *testing.T) {
	s, _ := newTestServer(t, &fakeAgent{})

	resp := s.dispatch(testConn(s), rpcRequest("no.such.method", ""))
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Errorf("expected method not found, got %+v", resp)
	}
}

func TestDispatchHealth(t *testing.T) {
	s, _ := newTestServer(t, &fakeAgent{})

	resp := s.dispatch(testConn(s), rpcRequest("health", ""))
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok || result["status"] != "ok" {
		t.Errorf("unexpected result: %+v", resp.Result)
	}
	if _, ok := result["version"]; !ok {
		t.Error("health result missing version")
	}
	if _, ok := result["timestamp"]; !ok {
		t.Error("health result missing timestamp")
	}
}

// Health answers before authentication; every other method still needs a
// token first.
func TestHealthSkipsAuth(t *testing.T) {
	store, err := sessions.NewStore(t.TempDir(), sessions.Options{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	s := NewServer(ServerConfig{AuthToken: "secret", MaxTextChars: 50}, &fakeAgent{}, store, nil, nil, nil)
	c := testConn(s)

	c.handle(rpcRequest("health", ""))
	var healthResp Response
	if err := json.Unmarshal(<-c.send, &healthResp); err != nil {
		t.Fatalf("bad frame: %v", err)
	}
	if healthResp.Error != nil {
		t.Fatalf("health rejected without token: %+v", healthResp.Error)
	}

	c.handle(rpcRequest("sessions.list", ""))
	var listResp Response
	if err := json.Unmarshal(<-c.send, &listResp); err != nil {
		t.Fatalf("bad frame: %v", err)
	}
	if listResp.Error == nil || listResp.Error.Code != CodeUnauthorized {
		t.Errorf("expected unauthorized, got %+v", listResp)
	}
}

func TestChatSend(t *testing.T) {
	fake := &fakeAgent{reply: "hello back"}
	s, _ := newTestServer(t, fake)

	resp := s.dispatch(testConn(s), rpcRequest("chat.send",
		`{"session_key":"agent:aide:console:direct:local","text":"hi"}`))
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	result := resp.Result.(map[string]any)
	if result["text"] != "hello back" {
		t.Errorf("unexpected text: %v", result["text"])
	}
	if id, _ := result["message_id"].(string); id == "" {
		t.Error("missing message_id")
	}
	if ts, _ := result["timestamp"].(string); ts == "" {
		t.Error("missing timestamp")
	}
	// The ":direct:" marker collapses during normalization.
	if result["session_key"] != "agent:aide:console:local" {
		t.Errorf("expected canonical key, got %v", result["session_key"])
	}
	if fake.lastKey != "agent:aide:console:local" || fake.lastText != "hi" {
		t.Errorf("agent saw key=%q text=%q", fake.lastKey, fake.lastText)
	}
}

func TestChatSendValidation(t *testing.T) {
	s, _ := newTestServer(t, &fakeAgent{})
	c := testConn(s)

	tests := []struct {
		name    string
		params  string
		message string
	}{
		{"missing text", `{"session_key":"agent:aide:main"}`, "text is required"},
		{"text too long", `{"session_key":"agent:aide:main","text":"` + strings.Repeat("x", 51) + `"}`, "text exceeds 50 characters"},
		{"bad session key", `{"session_key":"nope","text":"hi"}`, "invalid session key"},
		{"malformed params", `[1,2`, "invalid params"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.dispatch(c, rpcRequest("chat.send", tt.params))
			if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
				t.Fatalf("expected invalid params, got %+v", resp)
			}
			if !strings.Contains(resp.Error.Message, tt.message) {
				t.Errorf("expected message containing %q, got %q", tt.message, resp.Error.Message)
			}
		})
	}

	// The bound is inclusive: text of exactly the limit goes through.
	t.Run("text at limit", func(t *testing.T) {
		resp := s.dispatch(c, rpcRequest("chat.send",
			`{"session_key":"agent:aide:main","text":"`+strings.Repeat("x", 50)+`"}`))
		if resp.Error != nil {
			t.Fatalf("text at the limit rejected: %+v", resp.Error)
		}
	})
}

func TestChatSendAgentError(t *testing.T) {
	s, _ := newTestServer(t, &fakeAgent{err: errors.New("model exploded")})

	resp := s.dispatch(testConn(s), rpcRequest("chat.send",
		`{"session_key":"agent:aide:main","text":"hi"}`))
	if resp.Error == nil || resp.Error.Code != CodeInternalError {
		t.Fatalf("expected internal error, got %+v", resp)
	}
	// Internals never leak to the client.
	if strings.Contains(resp.Error.Message, "exploded") {
		t.Errorf("error detail leaked: %q", resp.Error.Message)
	}
}

func TestChatSendStreamEvents(t *testing.T) {
	fake := &fakeAgent{reply: "ab", deltas: []string{"a", "b"}}
	s, _ := newTestServer(t, fake)
	c := testConn(s)

	resp := s.dispatch(c, rpcRequest("chat.send_stream",
		`{"session_key":"agent:aide:main","text":"hi"}`))
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	result := resp.Result.(map[string]any)
	if result["stream"] != true {
		t.Errorf("expected stream true, got %v", result["stream"])
	}
	messageID, _ := result["message_id"].(string)
	if messageID == "" {
		t.Fatal("missing message_id in stream result")
	}

	var types []string
	var streamed strings.Builder
	for len(c.send) > 0 {
		frame := <-c.send
		var n struct {
			Method string `json:"method"`
			Params struct {
				Type      string `json:"type"`
				MessageID string `json:"message_id"`
				Delta     string `json:"delta"`
			} `json:"params"`
		}
		if err := json.Unmarshal(frame, &n); err != nil {
			t.Fatalf("bad frame %s: %v", frame, err)
		}
		if n.Method != "event" {
			t.Fatalf("expected method event, got %q in %s", n.Method, frame)
		}
		if n.Params.MessageID != messageID {
			t.Errorf("event message_id %q does not match result %q", n.Params.MessageID, messageID)
		}
		types = append(types, n.Params.Type)
		streamed.WriteString(n.Params.Delta)
	}

	expected := []string{"chat.start", "chat.delta", "chat.delta", "chat.end"}
	if len(types) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, types)
	}
	for i := range expected {
		if types[i] != expected[i] {
			t.Fatalf("expected %v, got %v", expected, types)
		}
	}
	if streamed.String() != "ab" {
		t.Errorf("expected streamed text ab, got %q", streamed.String())
	}
}

// blockingAgent parks until its context is cancelled, handing the context
// to the test so it can watch for cancellation.
type blockingAgent struct {
	turnCtx chan context.Context
}

func (b *blockingAgent) Handle(ctx context.Context, sessionKey, text string, onDelta agent.StreamFunc) (string, error) {
	b.turnCtx <- ctx
	<-ctx.Done()
	return "", ctx.Err()
}

func TestDisconnectCancelsTurn(t *testing.T) {
	fake := &blockingAgent{turnCtx: make(chan context.Context, 1)}
	s, _ := newTestServer(t, fake)

	srv := httptest.NewServer(http.HandlerFunc(s.serveWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	err = conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"chat.send","params":{"session_key":"agent:aide:main","text":"hi"}}`))
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	var turnCtx context.Context
	select {
	case turnCtx = <-fake.turnCtx:
	case <-time.After(2 * time.Second):
		t.Fatal("agent turn never started")
	}

	_ = conn.Close()

	select {
	case <-turnCtx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("turn context still live after client disconnect")
	}
}

func TestChatHistory(t *testing.T) {
	s, store := newTestServer(t, &fakeAgent{})
	ctx := context.Background()

	session, err := store.GetOrCreate(ctx, "agent:aide:console:local")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	session.Append(models.Message{Role: models.RoleUser, Content: "hi"})
	session.Append(models.Message{Role: models.RoleAssistant, Content: "hello"})
	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("Save: %v", err)
	}

	resp := s.dispatch(testConn(s), rpcRequest("chat.history",
		`{"session_key":"agent:aide:console:local","limit":10}`))
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	msgs := result["messages"].([]models.Message)
	if len(msgs) != 2 || msgs[1].Content != "hello" {
		t.Errorf("unexpected history: %+v", msgs)
	}
}

func TestSessionsListAndDelete(t *testing.T) {
	s, store := newTestServer(t, &fakeAgent{})
	ctx := context.Background()

	for _, key := range []string{"agent:aide:console:local", "agent:other:console:remote"} {
		session, err := store.GetOrCreate(ctx, key)
		if err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
		if err := store.Save(ctx, session); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	resp := s.dispatch(testConn(s), rpcRequest("sessions.list", `{"agent_id":"aide"}`))
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	summaries := resp.Result.(map[string]any)["sessions"].([]sessionSummary)
	if len(summaries) != 1 || summaries[0].AgentID != "aide" {
		t.Errorf("unexpected summaries: %+v", summaries)
	}

	resp = s.dispatch(testConn(s), rpcRequest("sessions.delete",
		`{"session_key":"agent:aide:console:local"}`))
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if deleted := resp.Result.(map[string]any)["deleted"]; deleted != true {
		t.Errorf("expected deleted true, got %v", deleted)
	}

	if session, _ := store.Get(ctx, "agent:aide:console:local"); session != nil {
		t.Error("session survived deletion")
	}
}
