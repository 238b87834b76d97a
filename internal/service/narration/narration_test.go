package narration

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-speak/backend/internal/model/practice"
	"github.com/zhouzirui/z-speak/backend/internal/volc"
)

// fakeTTSServer answers with one base64 chunk, one raw audio frame and a
// SessionFinished event.
func fakeTTSServer(t *testing.T, calls *atomic.Int32, mismatchResource string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-App-Key") != "app" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		calls.Add(1)
		resource := r.Header.Get("X-Api-Resource-Id")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := volc.Parse(data)
		if err != nil || f.Kind != volc.FullClientRequest {
			t.Errorf("unexpected client frame %+v (%v)", f, err)
			return
		}
		var req ttsRequest
		if err := json.Unmarshal(f.Payload, &req); err != nil || req.ReqParams.Text == "" || req.ReqParams.AudioParams.Format != "mp3" {
			t.Errorf("unexpected request %s", f.Payload)
			return
		}

		if resource == mismatchResource {
			fail := volc.Frame{Kind: volc.ServerError, ErrorCode: 45000000, Payload: []byte("resource ID is mismatched with speaker related resource")}
			conn.WriteMessage(websocket.BinaryMessage, fail.Marshal())
			return
		}

		first, _ := json.Marshal(map[string]any{"code": 0, "data": base64.StdEncoding.EncodeToString([]byte("ID3"))})
		conn.WriteMessage(websocket.BinaryMessage, volc.Frame{
			Kind: volc.FullServerResponse, Flags: volc.WithEvent, Serialization: volc.SerialJSON,
			Event: 352, SessionID: req.User.UID, Payload: first,
		}.Marshal())
		conn.WriteMessage(websocket.BinaryMessage, volc.Frame{
			Kind: volc.AudioOnlyServerResponse, Flags: volc.WithEvent,
			Event: 352, SessionID: req.User.UID, Payload: []byte("-frames"),
		}.Marshal())
		done, _ := json.Marshal(map[string]any{"code": 0, "addition": map[string]any{"duration": "1500"}})
		conn.WriteMessage(websocket.BinaryMessage, volc.Frame{
			Kind: volc.FullServerResponse, Flags: volc.WithEvent, Serialization: volc.SerialJSON,
			Event: volc.EventSessionFinished, SessionID: req.User.UID, Payload: done,
		}.Marshal())
	}))
}

func newTestNarrator(t *testing.T, srv *httptest.Server) *Narrator {
	t.Helper()
	n, err := New(Config{AppID: "app", AccessToken: "token", Endpoint: "ws" + strings.TrimPrefix(srv.URL, "http")})
	if err != nil {
		t.Fatalf("new narrator: %v", err)
	}
	return n
}

func TestNarrateCachesPerQuestion(t *testing.T) {
	var calls atomic.Int32
	srv := fakeTTSServer(t, &calls, "")
	defer srv.Close()
	n := newTestNarrator(t, srv)

	q := practice.Question{ID: "ielts-p1-hometown", Type: practice.IELTSPart1, Prompt: "Where is your hometown?"}
	audio, err := n.Narrate(context.Background(), q)
	if err != nil {
		t.Fatalf("narrate: %v", err)
	}
	if string(audio.Data) != "ID3-frames" || audio.MIMEType() != "audio/mpeg" || audio.Duration.Milliseconds() != 1500 {
		t.Fatalf("unexpected audio %q %s %s", audio.Data, audio.MIMEType(), audio.Duration)
	}
	if _, err := n.Narrate(context.Background(), q); err != nil {
		t.Fatalf("second narrate: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected cached clip, server saw %d calls", calls.Load())
	}
}

func TestSynthesizeFallsBackOnResourceMismatch(t *testing.T) {
	var calls atomic.Int32
	srv := fakeTTSServer(t, &calls, resourceSeed)
	defer srv.Close()
	n := newTestNarrator(t, srv)

	audio, err := n.Synthesize(context.Background(), "Describe a memorable trip.")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(audio.Data) == 0 || calls.Load() != 2 {
		t.Fatalf("expected fallback to second resource, calls=%d", calls.Load())
	}
}

func TestSynthesizeErrors(t *testing.T) {
	var calls atomic.Int32
	srv := fakeTTSServer(t, &calls, "")
	defer srv.Close()

	n := newTestNarrator(t, srv)
	if _, err := n.Synthesize(context.Background(), "  "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}

	bad, _ := New(Config{AppID: "other", AccessToken: "token", Endpoint: "ws" + strings.TrimPrefix(srv.URL, "http")})
	_, err := bad.Synthesize(context.Background(), "hello")
	var he *volc.HandshakeError
	if !errors.As(err, &he) || he.StatusCode != http.StatusForbidden {
		t.Fatalf("expected handshake error, got %v", err)
	}

	if _, err := New(Config{AppID: "app"}); err == nil {
		t.Fatal("expected missing token error")
	}
}

func TestScript(t *testing.T) {
	p2 := practice.Question{
		Type:      practice.IELTSPart2,
		Prompt:    "Describe a memorable trip.",
		KeyPoints: []string{"where you went", "who you went with."},
	}
	want := "Describe a memorable trip. You should say: where you went. who you went with."
	if got := Script(p2); got != want {
		t.Fatalf("unexpected script %q", got)
	}
	p1 := practice.Question{Type: practice.IELTSPart1, Prompt: " Do you work or study? ", KeyPoints: []string{"ignored"}}
	if got := Script(p1); got != "Do you work or study?" {
		t.Fatalf("unexpected script %q", got)
	}
}

func TestResourceCandidates(t *testing.T) {
	if got := resourceCandidates("S_abc"); len(got) != 1 || got[0] != resourceMega {
		t.Fatalf("unexpected clone voice resources %v", got)
	}
	if got := resourceCandidates(defaultVoice); got[0] != resourceSeed {
		t.Fatalf("unexpected bigtts resources %v", got)
	}
	if got := resourceCandidates("BV001_streaming"); got[0] != resourceDefault {
		t.Fatalf("unexpected classic resources %v", got)
	}
}
