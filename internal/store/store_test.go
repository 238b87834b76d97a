package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/zhouzirui/z-speak/backend/internal/model/practice"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "speak.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func attempt(id, questionID string, at time.Time, score float64) practice.Attempt {
	return practice.Attempt{
		ID:         id,
		SessionID:  "session-" + id,
		QuestionID: questionID,
		State:      practice.StateCompleted,
		Duration:   42,
		MIMEType:   "audio/wav",
		Succeeded:  true,
		Transcription: practice.TranscriptionResult{
			Success:    true,
			Transcript: "I would start by listening to both sides.",
			Confidence: 0.91,
		},
		Analysis: practice.AnswerAnalysis{
			OverallScore:     score,
			Strengths:        []string{"Clear structure"},
			TimingEfficiency: practice.TimingAppropriate,
		},
		CreatedAt: at,
	}
}

func TestInsertAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	if err := s.InsertAttempt(ctx, attempt("a1", "job-behavioral-conflict", now, 74)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.GetAttempt(ctx, "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.QuestionID != "job-behavioral-conflict" || got.State != practice.StateCompleted || got.Duration != 42 {
		t.Fatalf("unexpected attempt %+v", got)
	}
	if got.Transcription.Transcript != "I would start by listening to both sides." || got.Analysis.OverallScore != 74 {
		t.Fatalf("nested results not restored: %+v", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Fatalf("unexpected created_at %s", got.CreatedAt)
	}
}

func TestSucceededFlagRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	failed := attempt("failed", "ielts-p1-hometown", now, 0)
	failed.Succeeded = false
	failed.State = practice.StateStopped
	failed.Analysis.Failed = true
	for _, a := range []practice.Attempt{attempt("ok", "ielts-p1-hometown", now.Add(time.Second), 70), failed} {
		if err := s.InsertAttempt(ctx, a); err != nil {
			t.Fatalf("insert %s: %v", a.ID, err)
		}
	}

	ok, err := s.GetAttempt(ctx, "ok")
	if err != nil || !ok.Succeeded {
		t.Fatalf("expected succeeded attempt, got %+v err=%v", ok, err)
	}
	got, err := s.GetAttempt(ctx, "failed")
	if err != nil || got.Succeeded {
		t.Fatalf("expected failed attempt, got %+v err=%v", got, err)
	}

	list, err := s.ListAttempts(ctx, "ielts-p1-hometown", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || !list[0].Succeeded || list[1].Succeeded {
		t.Fatalf("unexpected flags in list %v", ids(list))
	}
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetAttempt(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListNewestFirstWithFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	inserts := []practice.Attempt{
		attempt("a1", "ielts-p1-hometown", base, 60),
		attempt("a2", "ielts-p1-hometown", base.Add(time.Minute), 65),
		attempt("a3", "job-technical-system", base.Add(2*time.Minute), 70),
	}
	for _, a := range inserts {
		if err := s.InsertAttempt(ctx, a); err != nil {
			t.Fatalf("insert %s: %v", a.ID, err)
		}
	}

	all, err := s.ListAttempts(ctx, "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].ID != "a3" || all[2].ID != "a1" {
		t.Fatalf("unexpected order %v", ids(all))
	}

	filtered, err := s.ListAttempts(ctx, "ielts-p1-hometown", 1)
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != "a2" {
		t.Fatalf("unexpected filtered result %v", ids(filtered))
	}
}

func TestDuplicateIDRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a := attempt("dup", "q", time.Now(), 50)
	if err := s.InsertAttempt(ctx, a); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertAttempt(ctx, a); err == nil {
		t.Fatal("expected primary key violation")
	}
}

func ids(items []practice.Attempt) []string {
	out := make([]string, len(items))
	for i, a := range items {
		out[i] = a.ID
	}
	return out
}
