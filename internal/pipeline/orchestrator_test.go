package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zhouzirui/z-speak/backend/internal/model/practice"
)

type stubTranscriber struct {
	result practice.TranscriptionResult
	calls  int
}

func (s *stubTranscriber) Transcribe(_ context.Context, _ practice.AudioBlob) practice.TranscriptionResult {
	s.calls++
	return s.result
}

type stubAnalyzer struct {
	analysis practice.AnswerAnalysis
	err      error
	calls    int
	gotText  string
	gotConf  float64
}

func (s *stubAnalyzer) Analyze(_ context.Context, transcript string, _ practice.Question, _ int, confidence float64) (practice.AnswerAnalysis, error) {
	s.calls++
	s.gotText = transcript
	s.gotConf = confidence
	return s.analysis, s.err
}

type recorded struct {
	order         []string
	transcription []practice.TranscriptionResult
	analysis      []practice.AnswerAnalysis
}

func (r *recorded) callbacks() Callbacks {
	return Callbacks{
		OnTranscription: func(res practice.TranscriptionResult) {
			r.order = append(r.order, "transcription")
			r.transcription = append(r.transcription, res)
		},
		OnAnalysis: func(a practice.AnswerAnalysis) {
			r.order = append(r.order, "analysis")
			r.analysis = append(r.analysis, a)
		},
	}
}

func sampleInput() Input {
	return Input{
		SessionID: "s1",
		Blob:      practice.AudioBlob{Data: []byte("audio"), MIMEType: "audio/wav"},
		Question:  practice.Question{ID: "q1", ExpectedDuration: 30, KeyPoints: []string{"reason"}},
		Duration:  28,
	}
}

func assertZeroScores(t *testing.T, a practice.AnswerAnalysis) {
	t.Helper()
	s := a.Scores
	if a.OverallScore != 0 || s.Fluency != 0 || s.Vocabulary != 0 || s.Grammar != 0 || s.Pronunciation != 0 || s.Relevance != 0 || s.Structure != 0 {
		t.Fatalf("expected all scores zero, got %+v", a)
	}
	if a.Metrics != (practice.SpeakingMetrics{}) {
		t.Fatalf("expected zero metrics, got %+v", a.Metrics)
	}
	if len(a.Weaknesses) != 1 || a.Weaknesses[0] != FailureWeakness {
		t.Fatalf("unexpected weaknesses %v", a.Weaknesses)
	}
	if !a.Failed {
		t.Fatal("expected failed flag")
	}
}

func TestAccessDeniedTranscriptionSuggestsConfigFix(t *testing.T) {
	tr := &stubTranscriber{result: practice.TranscriptionResult{Success: false, Error: "403 access denied"}}
	an := &stubAnalyzer{}
	rec := &recorded{}

	out := New(tr, an, Options{}).Run(context.Background(), sampleInput(), rec.callbacks())

	if out.Succeeded {
		t.Fatal("expected failed outcome")
	}
	if an.calls != 0 {
		t.Fatal("analyzer must not run after failed transcription")
	}
	if len(rec.analysis) != 1 {
		t.Fatalf("expected one analysis callback, got %d", len(rec.analysis))
	}
	got := rec.analysis[0]
	assertZeroScores(t, got)
	if len(got.Suggestions) != 1 || got.Suggestions[0] != SuggestionFixAccess {
		t.Fatalf("expected configuration-fix suggestion, got %v", got.Suggestions)
	}
}

func TestGenericTranscriptionFailureSuggestsRetry(t *testing.T) {
	tr := &stubTranscriber{result: practice.TranscriptionResult{Success: false, Error: "connection reset by peer"}}
	rec := &recorded{}

	New(tr, &stubAnalyzer{}, Options{}).Run(context.Background(), sampleInput(), rec.callbacks())

	got := rec.analysis[0]
	assertZeroScores(t, got)
	if got.Suggestions[0] != SuggestionRetry {
		t.Fatalf("expected retry suggestion, got %v", got.Suggestions)
	}
}

func TestStatusCodeClassifiesWithoutMessage(t *testing.T) {
	tr := &stubTranscriber{result: practice.TranscriptionResult{Success: false, Error: "request rejected", StatusCode: 401}}
	rec := &recorded{}

	New(tr, &stubAnalyzer{}, Options{}).Run(context.Background(), sampleInput(), rec.callbacks())

	if rec.analysis[0].Suggestions[0] != SuggestionFixAccess {
		t.Fatalf("expected configuration-fix suggestion for 401, got %v", rec.analysis[0].Suggestions)
	}
}

func TestEmptyTranscriptStopsPipeline(t *testing.T) {
	tr := &stubTranscriber{result: practice.TranscriptionResult{Success: true, Transcript: "  ", Confidence: 0.4}}
	an := &stubAnalyzer{}
	rec := &recorded{}

	out := New(tr, an, Options{}).Run(context.Background(), sampleInput(), rec.callbacks())

	if out.Succeeded || an.calls != 0 {
		t.Fatalf("expected pipeline to stop, succeeded=%v analyzerCalls=%d", out.Succeeded, an.calls)
	}
	if rec.transcription[0].Success {
		t.Fatal("expected transcription delivered as failure")
	}
	assertZeroScores(t, rec.analysis[0])
}

func TestSuccessfulRunDeliversInOrder(t *testing.T) {
	tr := &stubTranscriber{result: practice.TranscriptionResult{Success: true, Transcript: "hello world", Confidence: 0.92}}
	an := &stubAnalyzer{analysis: practice.AnswerAnalysis{OverallScore: 72, ProcessingTime: 1200}}
	rec := &recorded{}

	out := New(tr, an, Options{}).Run(context.Background(), sampleInput(), rec.callbacks())

	if !out.Succeeded {
		t.Fatalf("expected success, got err %v", out.Err)
	}
	if len(rec.order) != 2 || rec.order[0] != "transcription" || rec.order[1] != "analysis" {
		t.Fatalf("unexpected callback order %v", rec.order)
	}
	if an.gotText != "hello world" || an.gotConf != 0.92 {
		t.Fatalf("analyzer got %q / %f", an.gotText, an.gotConf)
	}
	if rec.analysis[0].OverallScore != 72 {
		t.Fatalf("unexpected analysis %+v", rec.analysis[0])
	}
}

func TestAnalysisErrorDeliversSyntheticAnalysis(t *testing.T) {
	tr := &stubTranscriber{result: practice.TranscriptionResult{Success: true, Transcript: "hello world", Confidence: 0.9}}
	an := &stubAnalyzer{err: errors.New("model overloaded")}
	rec := &recorded{}

	out := New(tr, an, Options{}).Run(context.Background(), sampleInput(), rec.callbacks())

	if out.Succeeded {
		t.Fatal("expected failure")
	}
	if len(rec.transcription) != 1 || len(rec.analysis) != 1 {
		t.Fatalf("expected each callback once, got %d/%d", len(rec.transcription), len(rec.analysis))
	}
	if !rec.transcription[0].Success {
		t.Fatal("transcription result should be delivered unchanged")
	}
	assertZeroScores(t, rec.analysis[0])
	if rec.analysis[0].FailureReason != "model overloaded" {
		t.Fatalf("unexpected failure reason %q", rec.analysis[0].FailureReason)
	}
}

func TestMissingAnalyzer(t *testing.T) {
	tr := &stubTranscriber{result: practice.TranscriptionResult{Success: true, Transcript: "hello", Confidence: 0.9}}
	rec := &recorded{}

	out := New(tr, nil, Options{}).Run(context.Background(), sampleInput(), rec.callbacks())

	if !errors.Is(out.Err, ErrAnalyzerUnavailable) {
		t.Fatalf("expected ErrAnalyzerUnavailable, got %v", out.Err)
	}
	assertZeroScores(t, rec.analysis[0])
}

type slowAnalyzer struct{}

func (slowAnalyzer) Analyze(ctx context.Context, _ string, _ practice.Question, _ int, _ float64) (practice.AnswerAnalysis, error) {
	<-ctx.Done()
	return practice.AnswerAnalysis{}, ctx.Err()
}

func TestAnalysisTimeoutTakesFailurePath(t *testing.T) {
	tr := &stubTranscriber{result: practice.TranscriptionResult{Success: true, Transcript: "hello", Confidence: 0.9}}
	rec := &recorded{}

	out := New(tr, slowAnalyzer{}, Options{AnalysisTimeout: 20 * time.Millisecond}).Run(context.Background(), sampleInput(), rec.callbacks())

	if !errors.Is(out.Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", out.Err)
	}
	if rec.analysis[0].Suggestions[0] != SuggestionRetry {
		t.Fatalf("expected retry suggestion, got %v", rec.analysis[0].Suggestions)
	}
}

func TestAnalysisAccessDeniedNamesTheModel(t *testing.T) {
	tr := &stubTranscriber{result: practice.TranscriptionResult{Success: true, Transcript: "hello", Confidence: 0.9}}
	an := &stubAnalyzer{err: errors.New("error, status code: 403, message: permission denied for model")}
	rec := &recorded{}

	New(tr, an, Options{}).Run(context.Background(), sampleInput(), rec.callbacks())

	got := rec.analysis[0]
	assertZeroScores(t, got)
	if got.Suggestions[0] != SuggestionFixModelAccess {
		t.Fatalf("expected model access suggestion, got %v", got.Suggestions)
	}
}

func TestSuggestionByStage(t *testing.T) {
	if got := Suggestion(StageTranscription, "forbidden", 0); got != SuggestionFixAccess {
		t.Fatalf("transcription access: %q", got)
	}
	if got := Suggestion(StageAnalysis, "", 401); got != SuggestionFixModelAccess {
		t.Fatalf("analysis access: %q", got)
	}
	if got := Suggestion(StageAnalysis, "timeout", 0); got != SuggestionRetry {
		t.Fatalf("analysis retry: %q", got)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		reason string
		status int
		want   FailureKind
	}{
		{"HTTP 403", 0, FailureAccess},
		{"Access Denied by policy", 0, FailureAccess},
		{"permission missing", 0, FailureAccess},
		{"whatever", 403, FailureAccess},
		{"timeout", 0, FailureRetry},
		{"server error", 500, FailureRetry},
	}
	for _, tc := range cases {
		if got := Classify(tc.reason, tc.status); got != tc.want {
			t.Fatalf("Classify(%q, %d) = %v, want %v", tc.reason, tc.status, got, tc.want)
		}
	}
}
