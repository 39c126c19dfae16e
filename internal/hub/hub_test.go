package hub

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/quasar-relay/quasar/internal/frame"
	"github.com/quasar-relay/quasar/internal/pulsarchan"
	"github.com/quasar-relay/quasar/internal/slots"
	"github.com/quasar-relay/quasar/internal/voice"
)

type noopChannel struct{}

func (noopChannel) SendCommand(ctx context.Context, line string) error { return nil }
func (noopChannel) Quit(ctx context.Context) error                    { return nil }
func (noopChannel) Close() error                                      { return nil }

// recordingChannel captures every line sent, for tests that assert on the
// exact PULSAR wire protocol a hub operation produces.
type recordingChannel struct {
	mu    sync.Mutex
	lines []string
}

func (c *recordingChannel) SendCommand(ctx context.Context, line string) error {
	c.mu.Lock()
	c.lines = append(c.lines, line)
	c.mu.Unlock()
	return nil
}
func (c *recordingChannel) Quit(ctx context.Context) error { return nil }
func (c *recordingChannel) Close() error                   { return nil }

func (c *recordingChannel) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.lines))
	copy(out, c.lines)
	return out
}

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	state := voice.New("")
	parser := frame.New(nil)
	sched := slots.New(ctx, noopChannel{}, parser)
	h := New(state, sched, NewStats())
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return h, srv
}

func newTestHubWithChannel(t *testing.T, ch pulsarchan.Channel) (*Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	state := voice.New("")
	parser := frame.New(nil)
	sched := slots.New(ctx, ch, parser)
	h := New(state, sched, NewStats())
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return h, srv
}

func dialBrowser(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func dialGameSource(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?role=game"
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func TestBrowserReceivesSyncOnConnect(t *testing.T) {
	_, srv := newTestHub(t)
	conn := dialBrowser(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != msgSync {
		t.Fatalf("expected sync message, got %s", data)
	}
}

func TestGameSourceFrameBroadcastsToBrowser(t *testing.T) {
	h, srv := newTestHub(t)
	browser := dialBrowser(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	browser.Read(ctx) // drain sync

	game := dialGameSource(t, srv)
	frame := gameFrameMsg{Type: msgFrame, Slot: 4, Body: "|hello"}
	payload, _ := json.Marshal(frame)
	if err := game.Write(ctx, websocket.MessageText, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, data, err := browser.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got frameMsg
	if err := json.Unmarshal(data, &got); err != nil || got.Slot != 4 || got.Display != "|hello" {
		t.Fatalf("got = %+v err=%v", got, err)
	}
	if h.stats.FramesRelayed.Load() != 1 {
		t.Errorf("FramesRelayed = %d, want 1", h.stats.FramesRelayed.Load())
	}
}

func TestGameSourceFrameWithSndAppliesVoiceDelta(t *testing.T) {
	h, srv := newTestHub(t)
	browser := dialBrowser(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	browser.Read(ctx) // drain sync

	game := dialGameSource(t, srv)
	mode := "battle"
	frame := gameFrameMsg{Type: msgFrame, Slot: 1, Body: "|x", Snd: &voice.Delta{Mode: &mode}}
	payload, _ := json.Marshal(frame)
	if err := game.Write(ctx, websocket.MessageText, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Voice delta is broadcast first, then the frame.
	_, data, err := browser.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != msgSound {
		t.Fatalf("expected snd message first, got %s", data)
	}
	var snd soundMsg
	json.Unmarshal(data, &snd)
	if snd.Delta.Mode == nil || *snd.Delta.Mode != "battle" {
		t.Fatalf("snd = %+v", snd)
	}
	if h.voice.Snapshot().Mode != "battle" {
		t.Errorf("voice state not updated: %+v", h.voice.Snapshot())
	}
}

func TestBridgeSpawnBuiltinSkipsScheduler(t *testing.T) {
	_, srv := newTestHub(t)
	browser := dialBrowser(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	browser.Read(ctx) // drain sync

	req := bridgeSpawnMsg{Type: msgBridgeSpawn, Game: "echo", Channel: 7}
	payload, _ := json.Marshal(req)
	browser.Write(ctx, websocket.MessageText, payload)

	_, data, err := browser.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var reply bridgeReadyMsg
	if err := json.Unmarshal(data, &reply); err != nil || reply.Status != "builtin" || reply.Game != "echo" {
		t.Fatalf("reply = %+v err=%v", reply, err)
	}
}

func TestBridgeSpawnPulsarBackedInitsAndSpawnsTwoSprites(t *testing.T) {
	ch := &recordingChannel{}
	_, srv := newTestHubWithChannel(t, ch)
	browser := dialBrowser(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	browser.Read(ctx) // drain sync

	req := bridgeSpawnMsg{Type: msgBridgeSpawn, Game: "magnetar", Channel: 3}
	payload, _ := json.Marshal(req)
	browser.Write(ctx, websocket.MessageText, payload)

	_, data, err := browser.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var reply bridgeReadyMsg
	if err := json.Unmarshal(data, &reply); err != nil || reply.Status != "ok" || reply.Slot != 3 || reply.Game != "magnetar" {
		t.Fatalf("reply = %+v err=%v", reply, err)
	}

	deadline := time.After(time.Second)
	for {
		if len(ch.snapshot()) >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for INIT/SPAWN lines")
		case <-time.After(5 * time.Millisecond):
		}
	}
	lines := ch.snapshot()
	if lines[0] != "3 INIT 60 24 15" {
		t.Errorf("lines[0] = %q", lines[0])
	}
	if len(lines) < 3 {
		t.Fatalf("expected INIT plus two SPAWN lines, got %v", lines)
	}
}

func TestForwardInputBroadcastsToAllGameSources(t *testing.T) {
	_, srv := newTestHub(t)
	browser := dialBrowser(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	browser.Read(ctx) // drain sync

	gameA := dialGameSource(t, srv)
	gameB := dialGameSource(t, srv)

	input, _ := json.Marshal(inputMsg{Type: msgInput, Slot: 2, Data: "left"})
	if err := browser.Write(ctx, websocket.MessageText, input); err != nil {
		t.Fatalf("write: %v", err)
	}

	for _, conn := range []*websocket.Conn{gameA, gameB} {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(data) != string(input) {
			t.Errorf("forwarded = %s, want %s", data, input)
		}
	}
}

func TestScreenMessageUpdatesScreenSink(t *testing.T) {
	h, srv := newTestHub(t)
	sink := &fakeScreenSink{}
	h.SetScreenSink(sink)
	browser := dialBrowser(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	browser.Read(ctx) // drain sync

	msg, _ := json.Marshal(screenMsg{Type: msgScreen, Screen: "|board"})
	if err := browser.Write(ctx, websocket.MessageText, msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.After(time.Second)
	for sink.get() == "" {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for screen sink update")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got := sink.get(); got != "|board" {
		t.Errorf("screen = %q", got)
	}
}

type fakeScreenSink struct {
	mu     sync.Mutex
	screen string
}

func (f *fakeScreenSink) SetScreen(s string) {
	f.mu.Lock()
	f.screen = s
	f.mu.Unlock()
}

func (f *fakeScreenSink) get() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.screen
}

func TestPingReceivesPong(t *testing.T) {
	_, srv := newTestHub(t)
	browser := dialBrowser(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	browser.Read(ctx) // drain sync

	ping, _ := json.Marshal(struct {
		Type string `json:"t"`
	}{Type: msgPing})
	browser.Write(ctx, websocket.MessageText, ping)

	_, data, err := browser.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != msgPong {
		t.Fatalf("expected pong, got %s", data)
	}
}
