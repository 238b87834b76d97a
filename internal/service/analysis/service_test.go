package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-speak/backend/internal/model/practice"
)

type fakeChatModel struct {
	reply string
	err   error
	input []*schema.Message
	calls int
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.calls++
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func newTestService(t *testing.T, m *fakeChatModel) *Service {
	t.Helper()
	svc, err := NewService(context.Background(), m)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

var hometown = practice.Question{
	ID:               "ielts-p1-hometown",
	Type:             practice.IELTSPart1,
	Prompt:           "Tell me about your hometown.",
	ExpectedDuration: 30,
	KeyPoints:        []string{"location", "activities"},
}

const transcript = "My hometown is a quiet coastal town where people enjoy fishing and other outdoor activities."

func TestAnalyzeParsesFencedJSON(t *testing.T) {
	m := &fakeChatModel{reply: "Here is the evaluation:\n```json\n" + `{
		"overall_score": 72,
		"scores": {"fluency": 70, "vocabulary": 75, "grammar": 80, "pronunciation": 65, "relevance": 90, "structure": 60},
		"strengths": ["Clear answer", " "],
		"weaknesses": ["Short"],
		"suggestions": ["Add an example"],
		"key_points_covered": ["activities"],
		"key_points_missed": ["location"],
		"timing_efficiency": "appropriate"
	}` + "\n```"}
	svc := newTestService(t, m)

	got, err := svc.Analyze(context.Background(), transcript, hometown, 28, 0.93)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if got.OverallScore != 72 || got.Scores.Relevance != 90 {
		t.Fatalf("unexpected scores %+v", got)
	}
	if len(got.Strengths) != 1 {
		t.Fatalf("blank entries should be dropped, got %v", got.Strengths)
	}
	if got.TimingEfficiency != practice.TimingAppropriate {
		t.Fatalf("unexpected timing %s", got.TimingEfficiency)
	}
	if got.Metrics.WordCount == 0 {
		t.Fatal("expected local metrics attached")
	}
	if got.Failed {
		t.Fatal("real analysis must not be flagged failed")
	}

	user := m.input[len(m.input)-1].Content
	for _, want := range []string{"Tell me about your hometown.", "IELTS Speaking Part 1", transcript, "- location"} {
		if !strings.Contains(user, want) {
			t.Fatalf("prompt missing %q:\n%s", want, user)
		}
	}
}

func TestAnalyzeClampsAndFillsMissingFields(t *testing.T) {
	m := &fakeChatModel{reply: `{"scores": {"fluency": 140, "vocabulary": -5, "grammar": 60, "pronunciation": 60, "relevance": 60, "structure": 60}, "timing_efficiency": "perfect"}`}
	svc := newTestService(t, m)

	got, err := svc.Analyze(context.Background(), transcript, hometown, 8, 0.9)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if got.Scores.Fluency != 100 || got.Scores.Vocabulary != 0 {
		t.Fatalf("expected clamped scores, got %+v", got.Scores)
	}
	if got.OverallScore != 56.7 {
		t.Fatalf("expected overall averaged to 56.7, got %v", got.OverallScore)
	}
	if got.TimingEfficiency != practice.TimingTooShort {
		t.Fatalf("expected timing derived locally, got %s", got.TimingEfficiency)
	}
	if len(got.KeyPointsCovered)+len(got.KeyPointsMissed) != len(hometown.KeyPoints) {
		t.Fatalf("expected key points filled locally, got %v / %v", got.KeyPointsCovered, got.KeyPointsMissed)
	}
	if got.Strengths == nil || got.Suggestions == nil {
		t.Fatal("lists should never be nil")
	}
}

func TestAnalyzeEmptyTranscript(t *testing.T) {
	m := &fakeChatModel{reply: "{}"}
	svc := newTestService(t, m)

	if _, err := svc.Analyze(context.Background(), "   ", hometown, 10, 0.9); !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("expected ErrEmptyTranscript, got %v", err)
	}
	if m.calls != 0 {
		t.Fatal("model must not be called for an empty transcript")
	}
}

func TestAnalyzeMalformedReply(t *testing.T) {
	svc := newTestService(t, &fakeChatModel{reply: "I cannot score this answer."})

	if _, err := svc.Analyze(context.Background(), transcript, hometown, 28, 0.9); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestAnalyzeModelError(t *testing.T) {
	boom := errors.New("quota exceeded")
	svc := newTestService(t, &fakeChatModel{err: boom})

	_, err := svc.Analyze(context.Background(), transcript, hometown, 28, 0.9)
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected model error surfaced, got %v", err)
	}
}

func TestNewServiceRequiresModel(t *testing.T) {
	if _, err := NewService(context.Background(), nil); err == nil {
		t.Fatal("expected error without chat model")
	}
}
