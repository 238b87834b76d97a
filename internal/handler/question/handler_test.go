package question

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-speak/backend/internal/model/practice"
	"github.com/zhouzirui/z-speak/backend/internal/model/question"
	"github.com/zhouzirui/z-speak/backend/internal/service/narration"
)

type fakeNarrator struct {
	err   error
	asked []string
}

func (f *fakeNarrator) Narrate(_ context.Context, q practice.Question) (narration.Audio, error) {
	f.asked = append(f.asked, q.ID)
	if f.err != nil {
		return narration.Audio{}, f.err
	}
	return narration.Audio{Data: []byte("ID3audio"), Format: "mp3"}, nil
}

func setupRouter() *chi.Mux {
	return setupRouterWith(nil)
}

func setupRouterWith(narrator Narrator) *chi.Mux {
	r := chi.NewRouter()
	New(question.NewMemoryStore(question.Seed()), narrator).RegisterRoutes(r)
	return r
}

func TestListQuestions(t *testing.T) {
	r := setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/questions", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var items []practice.Question
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != len(question.Seed()) {
		t.Fatalf("expected %d questions, got %d", len(question.Seed()), len(items))
	}
}

func TestListQuestionsByType(t *testing.T) {
	r := setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/questions?type=behavioral", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	var items []practice.Question
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) == 0 {
		t.Fatal("expected behavioral questions in the seed bank")
	}
	for _, item := range items {
		if item.Type != practice.Behavioral {
			t.Fatalf("unexpected type %s", item.Type)
		}
	}
}

func TestGetQuestion(t *testing.T) {
	r := setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/questions/ielts-p1-hometown", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/questions/unknown", nil)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestQuestionAudio(t *testing.T) {
	narrator := &fakeNarrator{}
	r := setupRouterWith(narrator)

	req := httptest.NewRequest(http.MethodGet, "/questions/ielts-p2-memorable-trip/audio", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if ct := resp.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if resp.Body.String() != "ID3audio" || len(narrator.asked) != 1 || narrator.asked[0] != "ielts-p2-memorable-trip" {
		t.Fatalf("unexpected narration %q %v", resp.Body.String(), narrator.asked)
	}

	req = httptest.NewRequest(http.MethodGet, "/questions/unknown/audio", nil)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestQuestionAudioUnavailable(t *testing.T) {
	cases := map[string]struct {
		narrator Narrator
		want     int
	}{
		"not configured": {narrator: nil, want: http.StatusServiceUnavailable},
		"upstream error": {narrator: &fakeNarrator{err: errors.New("tts down")}, want: http.StatusBadGateway},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			r := setupRouterWith(tc.narrator)
			req := httptest.NewRequest(http.MethodGet, "/questions/ielts-p1-hometown/audio", nil)
			resp := httptest.NewRecorder()
			r.ServeHTTP(resp, req)
			if resp.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.Code)
			}
		})
	}
}
