package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cyberguardng/voicegateway/internal/protocol"
	"github.com/cyberguardng/voicegateway/internal/session"
)

const testWait = 3 * time.Second

func testConfig(realtimeURL string) Config {
	return Config{
		RealtimeURL:  realtimeURL,
		Model:        "test-model",
		APIKey:       "sk-test",
		Voice:        "alloy",
		Instructions: "You are a receptionist.",
		DefaultCodec: "g711_ulaw",
		TurnDetection: session.TurnDetection{
			Threshold:       0.5,
			PrefixPadding:   300 * time.Millisecond,
			SilenceDuration: 500 * time.Millisecond,
		},
		DialTimeout:         2 * time.Second,
		ConnectAttempts:     1,
		WriteTimeout:        2 * time.Second,
		FunctionCallTimeout: 200 * time.Millisecond,
		QueueSize:           16,
	}
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

// fakeBackend is a realtime speech backend the test scripts by hand.
type fakeBackend struct {
	srv   *httptest.Server
	peers chan *backendPeer
}

type backendPeer struct {
	conn   *websocket.Conn
	query  url.Values
	header http.Header
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{peers: make(chan *backendPeer, 8)}
	upgrader := websocket.Upgrader{}
	fb.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fb.peers <- &backendPeer{conn: conn, query: r.URL.Query(), header: r.Header.Clone()}
	}))
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBackend) URL() string { return wsURL(fb.srv.URL) }

func (fb *fakeBackend) accept(t *testing.T) *backendPeer {
	t.Helper()
	select {
	case p := <-fb.peers:
		t.Cleanup(func() { _ = p.conn.Close() })
		return p
	case <-time.After(testWait):
		t.Fatalf("backend was never dialed")
		return nil
	}
}

func (fb *fakeBackend) expectNoDial(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case <-fb.peers:
		t.Fatalf("backend was dialed, want no connection")
	case <-time.After(within):
	}
}

func (p *backendPeer) send(t *testing.T, v any) {
	t.Helper()
	if err := p.conn.WriteJSON(v); err != nil {
		t.Fatalf("backend write error = %v", err)
	}
}

// expect reads the next backend-bound message and requires its type.
func (p *backendPeer) expect(t *testing.T, msgType string) map[string]any {
	t.Helper()
	msg := readJSON(t, p.conn)
	if msg["type"] != msgType {
		t.Fatalf("backend received type %v, want %q (msg %v)", msg["type"], msgType, msg)
	}
	return msg
}

func (p *backendPeer) expectClosed(t *testing.T) {
	t.Helper()
	_ = p.conn.SetReadDeadline(time.Now().Add(testWait))
	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				t.Fatalf("backend connection still open")
			}
			return
		}
	}
}

// configure answers the session.update so the call becomes active.
func (p *backendPeer) configure(t *testing.T) map[string]any {
	t.Helper()
	update := p.expect(t, "session.update")
	p.send(t, map[string]any{"type": "session.updated", "session": map[string]any{"id": "sess_test"}})
	return update
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(testWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error = %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return msg
}

func writeText(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		t.Fatalf("caller write error = %v", err)
	}
}

func startFrame(callSID, streamSID string) string {
	return fmt.Sprintf(`{"event":"start","streamSid":%q,"start":{"callSid":%q,"streamSid":%q,"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1},"customParameters":{}}}`, streamSID, callSID, streamSID)
}

func mediaFrame(streamSID, payload string) string {
	return fmt.Sprintf(`{"event":"media","streamSid":%q,"media":{"track":"inbound","payload":%q}}`, streamSID, payload)
}

func stopFrame(streamSID string) string {
	return fmt.Sprintf(`{"event":"stop","streamSid":%q}`, streamSID)
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(testWait))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		if !errors.As(err, &closeErr) {
			t.Fatalf("caller read error = %v, want close frame %d", err, code)
		}
		if closeErr.Code != code {
			t.Fatalf("close code = %d, want %d", closeErr.Code, code)
		}
		return
	}
}

type stateChange struct {
	callID   string
	streamID string
	from     session.State
	to       session.State
}

type stateLog struct {
	mu      sync.Mutex
	changes []stateChange
}

func (l *stateLog) add(sc stateChange) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, sc)
}

func (l *stateLog) reached(streamID string, to session.State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, sc := range l.changes {
		if sc.to == to && (streamID == "" || sc.streamID == streamID) {
			return true
		}
	}
	return false
}

func (l *stateLog) matching(to session.State) []stateChange {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []stateChange
	for _, sc := range l.changes {
		if sc.to == to {
			out = append(out, sc)
		}
	}
	return out
}

func (l *stateLog) sequence() []session.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]session.State, 0, len(l.changes))
	for _, sc := range l.changes {
		out = append(out, sc.to)
	}
	return out
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testWait)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type harness struct {
	gw      *Gateway
	backend *fakeBackend
	states  *stateLog
	drops   chan string
	served  chan error
	srv     *httptest.Server
}

// newHarness builds a gateway behind a test server. configure runs before the
// server starts so gateway fields are never written concurrently with a call.
func newHarness(t *testing.T, configure func(h *harness)) *harness {
	t.Helper()
	h := &harness{
		backend: newFakeBackend(t),
		states:  &stateLog{},
		drops:   make(chan string, 64),
		served:  make(chan error, 4),
	}
	h.gw = &Gateway{
		Config: testConfig(h.backend.URL()),
		Hooks: Hooks{
			StateChange: func(s *session.CallSession, from, to session.State) {
				h.states.add(stateChange{callID: s.CallID(), streamID: s.StreamID(), from: from, to: to})
			},
			FrameDropped: func(_ *session.CallSession, reason string) {
				select {
				case h.drops <- reason:
				default:
				}
			},
		},
	}
	if configure != nil {
		configure(h)
	}

	upgrader := websocket.Upgrader{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.served <- h.gw.Serve(context.Background(), conn)
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) dialCaller(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(h.srv.URL), nil)
	if err != nil {
		t.Fatalf("dial gateway error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (h *harness) waitState(t *testing.T, to session.State) {
	t.Helper()
	waitUntil(t, "state "+string(to), func() bool { return h.states.reached("", to) })
}

func (h *harness) waitStreamState(t *testing.T, streamID string, to session.State) {
	t.Helper()
	waitUntil(t, streamID+" state "+string(to), func() bool { return h.states.reached(streamID, to) })
}

func (h *harness) waitDrop(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-h.drops:
		if got != want {
			t.Fatalf("drop reason = %q, want %q", got, want)
		}
	case <-time.After(testWait):
		t.Fatalf("no frame drop reported")
	}
}

func (h *harness) waitServed(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.served:
		return err
	case <-time.After(testWait):
		t.Fatalf("Serve() did not return")
		return nil
	}
}

// activeCall starts CA1/MZ1 and drives it to active.
func (h *harness) activeCall(t *testing.T) (*websocket.Conn, *backendPeer) {
	t.Helper()
	caller := h.dialCaller(t)
	writeText(t, caller, startFrame("CA1", "MZ1"))
	peer := h.backend.accept(t)
	peer.configure(t)
	h.waitState(t, session.StateActive)
	return caller, peer
}

// trackedConn records Close on a dialed backend connection.
type trackedConn struct {
	Conn
	closed atomic.Bool
}

func (c *trackedConn) Close() error {
	c.closed.Store(true)
	return c.Conn.Close()
}

type fakeFunctions struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeFunctions) Definitions() []protocol.ToolDefinition {
	names := []string{"lookup", "broken", "boom", "slow"}
	defs := make([]protocol.ToolDefinition, 0, len(names))
	for _, n := range names {
		defs = append(defs, protocol.ToolDefinition{
			Type:       "function",
			Name:       n,
			Parameters: map[string]any{"type": "object"},
		})
	}
	return defs
}

func (f *fakeFunctions) Call(ctx context.Context, name, arguments string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()

	switch name {
	case "lookup":
		return `{"status":"success","echo":` + arguments + `}`, nil
	case "broken":
		return "", errors.New("store unavailable")
	case "boom":
		panic("handler exploded")
	case "slow":
		<-ctx.Done()
		return "", ctx.Err()
	default:
		return "", fmt.Errorf("unexpected function %q", name)
	}
}

func (f *fakeFunctions) called(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == name {
			return true
		}
	}
	return false
}
