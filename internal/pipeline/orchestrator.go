// Package pipeline sequences transcription and analysis for one recorded answer.
package pipeline

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/zhouzirui/z-speak/backend/internal/analysis/speaking"
	"github.com/zhouzirui/z-speak/backend/internal/model/practice"
)

// Transcriber turns recorded audio into text. It reports failures through the
// Success flag of the result instead of returning an error.
type Transcriber interface {
	Transcribe(ctx context.Context, blob practice.AudioBlob) practice.TranscriptionResult
}

// Analyzer scores a transcript against its question.
type Analyzer interface {
	Analyze(ctx context.Context, transcript string, question practice.Question, audioDuration int, confidence float64) (practice.AnswerAnalysis, error)
}

// ErrAnalyzerUnavailable is reported when no analysis service is configured.
var ErrAnalyzerUnavailable = errors.New("analysis service unavailable")

const (
	// FailureWeakness is the single weakness listed on a synthetic analysis.
	FailureWeakness = "Processing failed"
	// SuggestionFixAccess is offered when the speech service rejected our credentials.
	SuggestionFixAccess = "The speech service refused access. Check the API key and its restrictions (allowed APIs, referrers and IP addresses), then try again."
	// SuggestionFixModelAccess is offered when the analysis model rejected our credentials.
	SuggestionFixModelAccess = "The analysis model refused access. Check the model API key, its permissions and the configured model name, then try again."
	// SuggestionRetry is offered for every other failure.
	SuggestionRetry = "Something went wrong while processing your answer. Please record it again."
)

// Input is everything one run needs.
type Input struct {
	SessionID string
	Blob      practice.AudioBlob
	Question  practice.Question
	Duration  int // seconds
}

// Callbacks deliver results to the host. Each fires exactly once per Run,
// transcription first.
type Callbacks struct {
	OnTranscription func(practice.TranscriptionResult)
	OnAnalysis      func(practice.AnswerAnalysis)
}

// Outcome summarizes a run for the recording state machine.
type Outcome struct {
	Transcription practice.TranscriptionResult
	Analysis      practice.AnswerAnalysis
	Succeeded     bool
	Err           error
}

// Options bounds each remote call.
type Options struct {
	TranscriptionTimeout time.Duration
	AnalysisTimeout      time.Duration
}

// Orchestrator runs transcription then analysis, never concurrently.
type Orchestrator struct {
	transcriber Transcriber
	analyzer    Analyzer
	opts        Options
	now         func() time.Time
}

// New creates an orchestrator. analyzer may be nil when no model is configured;
// every run then ends with a synthetic analysis.
func New(transcriber Transcriber, analyzer Analyzer, opts Options) *Orchestrator {
	if opts.TranscriptionTimeout <= 0 {
		opts.TranscriptionTimeout = 2 * time.Minute
	}
	if opts.AnalysisTimeout <= 0 {
		opts.AnalysisTimeout = 90 * time.Second
	}
	return &Orchestrator{
		transcriber: transcriber,
		analyzer:    analyzer,
		opts:        opts,
		now:         time.Now,
	}
}

// Run processes one recording. It always delivers both callbacks.
func (o *Orchestrator) Run(ctx context.Context, in Input, cb Callbacks) Outcome {
	started := o.now()

	tctx, cancel := context.WithTimeout(ctx, o.opts.TranscriptionTimeout)
	result := o.transcriber.Transcribe(tctx, in.Blob)
	cancel()

	if result.Success && strings.TrimSpace(result.Transcript) == "" {
		result.Success = false
		result.Error = "no speech detected in the recording"
	}
	deliverTranscription(cb, result)

	if !result.Success {
		log.Printf("[pipeline] transcription failed session=%s status=%d: %s", in.SessionID, result.StatusCode, result.Error)
		analysis := FailedAnalysis(in, StageTranscription, result.Error, result.StatusCode, o.since(started))
		deliverAnalysis(cb, analysis)
		return Outcome{Transcription: result, Analysis: analysis, Err: errors.New(result.Error)}
	}

	if o.analyzer == nil {
		analysis := FailedAnalysis(in, StageAnalysis, ErrAnalyzerUnavailable.Error(), 0, o.since(started))
		deliverAnalysis(cb, analysis)
		return Outcome{Transcription: result, Analysis: analysis, Err: ErrAnalyzerUnavailable}
	}

	actx, cancel := context.WithTimeout(ctx, o.opts.AnalysisTimeout)
	analysis, err := o.analyzer.Analyze(actx, result.Transcript, in.Question, in.Duration, result.Confidence)
	cancel()
	if err != nil {
		log.Printf("[pipeline] analysis failed session=%s: %v", in.SessionID, err)
		analysis = FailedAnalysis(in, StageAnalysis, err.Error(), 0, o.since(started))
		deliverAnalysis(cb, analysis)
		return Outcome{Transcription: result, Analysis: analysis, Err: err}
	}

	if analysis.ProcessingTime <= 0 {
		analysis.ProcessingTime = o.since(started)
	}
	deliverAnalysis(cb, analysis)

	log.Printf("[pipeline] completed session=%s overall=%.1f in %dms", in.SessionID, analysis.OverallScore, analysis.ProcessingTime)
	return Outcome{Transcription: result, Analysis: analysis, Succeeded: true}
}

func (o *Orchestrator) since(t time.Time) int64 {
	return o.now().Sub(t).Milliseconds()
}

func deliverTranscription(cb Callbacks, result practice.TranscriptionResult) {
	if cb.OnTranscription != nil {
		cb.OnTranscription(result)
	}
}

func deliverAnalysis(cb Callbacks, analysis practice.AnswerAnalysis) {
	if cb.OnAnalysis != nil {
		cb.OnAnalysis(analysis)
	}
}

// FailureKind buckets failures into the two suggestions a user can act on.
type FailureKind int

const (
	FailureRetry FailureKind = iota
	FailureAccess
)

// Classify prefers the HTTP status of the failing call and falls back to
// matching the error text.
func Classify(reason string, statusCode int) FailureKind {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return FailureAccess
	}

	lower := strings.ToLower(reason)
	for _, marker := range []string{"403", "access denied", "permission", "forbidden"} {
		if strings.Contains(lower, marker) {
			return FailureAccess
		}
	}
	return FailureRetry
}

// Stage names the remote call that failed.
type Stage int

const (
	StageTranscription Stage = iota
	StageAnalysis
)

// Suggestion picks the advice shown for a failure at stage.
func Suggestion(stage Stage, reason string, statusCode int) string {
	if Classify(reason, statusCode) != FailureAccess {
		return SuggestionRetry
	}
	if stage == StageAnalysis {
		return SuggestionFixModelAccess
	}
	return SuggestionFixAccess
}

// FailedAnalysis builds the zero-score placeholder delivered whenever the
// pipeline cannot produce a real analysis.
func FailedAnalysis(in Input, stage Stage, reason string, statusCode int, processingTime int64) practice.AnswerAnalysis {
	suggestion := Suggestion(stage, reason, statusCode)

	return practice.AnswerAnalysis{
		OverallScore:     0,
		Scores:           practice.CategoryScores{},
		Strengths:        []string{},
		Weaknesses:       []string{FailureWeakness},
		Suggestions:      []string{suggestion},
		KeyPointsCovered: []string{},
		KeyPointsMissed:  append([]string{}, in.Question.KeyPoints...),
		TimingEfficiency: speaking.Timing(in.Duration, in.Question.ExpectedDuration),
		ProcessingTime:   processingTime,
		Failed:           true,
		FailureReason:    reason,
	}
}
