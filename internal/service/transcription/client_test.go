package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-speak/backend/internal/model/practice"
	"github.com/zhouzirui/z-speak/backend/internal/volc"
)

func wavBlob() practice.AudioBlob {
	return practice.AudioBlob{Data: []byte("RIFF....WAVEfmt "), MIMEType: "audio/wav"}
}

func newTestWhisper(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend, err := NewWhisper(WhisperConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	if err != nil {
		t.Fatalf("new whisper: %v", err)
	}
	return NewClient(backend, Options{Language: "en-US", Timeout: time.Second})
}

func TestEmptyBlobFailsWithoutCallingService(t *testing.T) {
	called := false
	client := newTestWhisper(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	res := client.Transcribe(context.Background(), practice.AudioBlob{})
	if res.Success || res.Transcript != "" || res.Confidence != 0 {
		t.Fatalf("expected failure result, got %+v", res)
	}
	if res.Error == "" {
		t.Fatal("expected error message")
	}
	if called {
		t.Fatal("service must not be called for empty audio")
	}
}

func TestWhisperSuccess(t *testing.T) {
	client := newTestWhisper(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.FormValue("language") != "en" || r.FormValue("response_format") != "verbose_json" || r.FormValue("model") != "whisper-1" {
			t.Errorf("unexpected form %v", r.MultipartForm.Value)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file: %v", err)
		} else {
			data, _ := io.ReadAll(file)
			if header.Filename != "answer.wav" || len(data) == 0 {
				t.Errorf("unexpected upload %s (%d bytes)", header.Filename, len(data))
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"text":     " I grew up in a small coastal town. ",
			"language": "english",
			"duration": 12.5,
			"segments": []map[string]any{
				{"avg_logprob": 0, "no_speech_prob": 0},
				{"avg_logprob": 0, "no_speech_prob": 0.2},
			},
		})
	})

	res := client.Transcribe(context.Background(), wavBlob())
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Transcript != "I grew up in a small coastal town." {
		t.Fatalf("unexpected transcript %q", res.Transcript)
	}
	if res.Confidence < 0.89 || res.Confidence > 0.91 {
		t.Fatalf("expected confidence 0.9, got %f", res.Confidence)
	}
	if res.Duration != 12.5 {
		t.Fatalf("unexpected duration %f", res.Duration)
	}
}

func TestWhisperForbiddenCarriesStatus(t *testing.T) {
	client := newTestWhisper(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"message":"API key not valid for this project"}}`))
	})

	res := client.Transcribe(context.Background(), wavBlob())
	if res.Success || res.Transcript != "" || res.Confidence != 0 {
		t.Fatalf("expected failure, got %+v", res)
	}
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", res.StatusCode)
	}
	if !strings.Contains(res.Error, "API key not valid") {
		t.Fatalf("expected service message in error, got %q", res.Error)
	}
}

func TestWhisperMalformedBody(t *testing.T) {
	client := newTestWhisper(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	})

	res := client.Transcribe(context.Background(), wavBlob())
	if res.Success || res.StatusCode != 0 || res.Error == "" {
		t.Fatalf("expected decode failure, got %+v", res)
	}
}

func TestTimeoutBecomesFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	backend, _ := NewWhisper(WhisperConfig{APIKey: "k", BaseURL: srv.URL})
	client := NewClient(backend, Options{Timeout: 30 * time.Millisecond})

	res := client.Transcribe(context.Background(), wavBlob())
	if res.Success {
		t.Fatal("expected timeout failure")
	}
	if !strings.Contains(res.Error, "timed out") {
		t.Fatalf("expected timeout message, got %q", res.Error)
	}
}

func TestNewWhisperRequiresKey(t *testing.T) {
	if _, err := NewWhisper(WhisperConfig{}); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestSegmentConfidence(t *testing.T) {
	if got := segmentConfidence("", nil); got != 0 {
		t.Fatalf("empty text should have zero confidence, got %f", got)
	}
	if got := segmentConfidence("hello", nil); got != defaultConfidence {
		t.Fatalf("expected default confidence, got %f", got)
	}
	if got := segmentConfidence("hello", []whisperSegment{{AvgLogprob: 0, NoSpeechProb: 1}}); got != 0 {
		t.Fatalf("expected zero for pure silence, got %f", got)
	}
}

func TestVolcFormat(t *testing.T) {
	if format, codec, err := volcFormat("audio/ogg;codecs=opus"); err != nil || format != "ogg" || codec != "opus" {
		t.Fatalf("unexpected ogg mapping %s/%s/%v", format, codec, err)
	}
	if _, _, err := volcFormat("audio/webm;codecs=opus"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
}

// fakeASRServer answers like the bigmodel endpoint: it reads the request and
// audio frames, then replies with one final result.
func fakeASRServer(t *testing.T, text string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-App-Key") != "app" || r.Header.Get("X-Api-Access-Key") != "token" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var audio []byte
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f, err := volc.Parse(data)
			if err != nil {
				t.Errorf("bad client frame: %v", err)
				return
			}
			body, _ := f.Body()
			if f.Kind == volc.FullClientRequest {
				var req volcRequest
				if err := json.Unmarshal(body, &req); err != nil || req.Audio.Format != "wav" {
					t.Errorf("unexpected request %s", body)
				}
				continue
			}
			audio = append(audio, body...)
			if f.Last() {
				break
			}
		}

		payload, _ := json.Marshal(map[string]any{
			"result":     map[string]any{"text": text},
			"audio_info": map[string]any{"duration": len(audio)},
		})
		packed, _ := volc.Gzip(payload)
		resp := volc.Frame{
			Kind:          volc.FullServerResponse,
			Flags:         volc.LastNegSequence,
			Serialization: volc.SerialJSON,
			Compression:   volc.CompressGzip,
			Sequence:      -3,
			Payload:       packed,
		}
		conn.WriteMessage(websocket.BinaryMessage, resp.Marshal())
	}))
}

func TestVolcengineTranscribe(t *testing.T) {
	srv := fakeASRServer(t, "My hometown is famous for tea.")
	defer srv.Close()

	backend, err := NewVolcengine(VolcengineConfig{
		AppID:       "app",
		AccessToken: "token",
		Endpoint:    "ws" + strings.TrimPrefix(srv.URL, "http"),
	})
	if err != nil {
		t.Fatalf("new volcengine: %v", err)
	}

	blob := practice.AudioBlob{Data: make([]byte, volcChunkSize*2+10), MIMEType: "audio/wav"}
	res := NewClient(backend, Options{Timeout: 2 * time.Second}).Transcribe(context.Background(), blob)
	if !res.Success || res.Transcript != "My hometown is famous for tea." {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Confidence != defaultConfidence {
		t.Fatalf("unexpected confidence %f", res.Confidence)
	}
}

func TestVolcengineRejectedHandshake(t *testing.T) {
	srv := fakeASRServer(t, "unused")
	defer srv.Close()

	backend, _ := NewVolcengine(VolcengineConfig{
		AppID:       "app",
		AccessToken: "wrong",
		Endpoint:    "ws" + strings.TrimPrefix(srv.URL, "http"),
	})
	res := NewClient(backend, Options{Timeout: 2 * time.Second}).Transcribe(context.Background(), wavBlob())
	if res.Success || res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 failure, got %+v", res)
	}
}
