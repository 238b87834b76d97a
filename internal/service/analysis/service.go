// Package analysis scores a transcribed answer with a generative model.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-speak/backend/internal/analysis/speaking"
	"github.com/zhouzirui/z-speak/backend/internal/model/practice"
)

var (
	// ErrEmptyTranscript 转写为空时无法评分。
	ErrEmptyTranscript = errors.New("transcript is empty")
	// ErrMalformedResponse is returned when the model reply holds no usable JSON object.
	ErrMalformedResponse = errors.New("malformed analysis response")
)

// Service runs the scoring chain: prompt template → chat model.
type Service struct {
	chain compose.Runnable[map[string]any, *schema.Message]
	now   func() time.Time
}

// NewService compiles the chain around chatModel.
func NewService(ctx context.Context, chatModel model.BaseChatModel) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("analysis requires a chat model")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(userPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile analysis chain: %w", err)
	}

	return &Service{chain: runnable, now: time.Now}, nil
}

// Analyze scores transcript against question. audioDuration is in seconds and
// confidence is the transcription confidence in [0,1].
func (s *Service) Analyze(ctx context.Context, transcript string, question practice.Question, audioDuration int, confidence float64) (practice.AnswerAnalysis, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return practice.AnswerAnalysis{}, ErrEmptyTranscript
	}

	started := s.now()
	metrics := speaking.Compute(transcript, audioDuration)

	msg, err := s.chain.Invoke(ctx, buildInput(transcript, question, audioDuration, confidence, metrics))
	if err != nil {
		return practice.AnswerAnalysis{}, fmt.Errorf("failed to run analysis chain: %w", err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return practice.AnswerAnalysis{}, fmt.Errorf("%w: empty reply", ErrMalformedResponse)
	}

	payload, err := parsePayload(msg.Content)
	if err != nil {
		log.Printf("[analysis] unparsable reply for question=%s: %v", question.ID, err)
		return practice.AnswerAnalysis{}, err
	}

	result := payload.toAnalysis()
	result.Metrics = metrics
	fillFromMetrics(&result, transcript, question, audioDuration)
	result.ProcessingTime = s.now().Sub(started).Milliseconds()

	log.Printf("[analysis] question=%s overall=%.1f wpm=%.1f fillers=%d in %dms",
		question.ID, result.OverallScore, metrics.WordsPerMinute, metrics.FillerCount, result.ProcessingTime)
	return result, nil
}

func buildInput(transcript string, q practice.Question, duration int, confidence float64, m practice.SpeakingMetrics) map[string]any {
	keyPoints := "none specified"
	if len(q.KeyPoints) > 0 {
		keyPoints = "- " + strings.Join(q.KeyPoints, "\n- ")
	}
	return map[string]any{
		"question_type":     describeType(q.Type),
		"category":          valueOr(q.Category, "general"),
		"question":          valueOr(q.Prompt, "(no question text)"),
		"key_points":        keyPoints,
		"expected_duration": q.ExpectedDuration,
		"duration":          duration,
		"confidence":        fmt.Sprintf("%.2f", confidence),
		"metrics": fmt.Sprintf("%d words, %d unique, %.0f words per minute, %d filler words (%.0f%%), lexical density %.2f",
			m.WordCount, m.UniqueWords, m.WordsPerMinute, m.FillerCount, m.FillerRatio*100, m.LexicalDensity),
		"transcript": transcript,
	}
}

func describeType(t practice.QuestionType) string {
	switch t {
	case practice.IELTSPart1:
		return "IELTS Speaking Part 1 (short answers about familiar topics)"
	case practice.IELTSPart2:
		return "IELTS Speaking Part 2 (long turn from a cue card)"
	case practice.IELTSPart3:
		return "IELTS Speaking Part 3 (abstract discussion)"
	case practice.Behavioral:
		return "behavioral job interview question (STAR structure expected)"
	case practice.Technical:
		return "technical job interview question"
	case practice.Situational:
		return "situational job interview question"
	default:
		return "spoken practice question"
	}
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return strings.TrimSpace(v)
}

// fillFromMetrics completes fields the model left out using local heuristics.
func fillFromMetrics(a *practice.AnswerAnalysis, transcript string, q practice.Question, duration int) {
	if len(a.KeyPointsCovered) == 0 && len(a.KeyPointsMissed) == 0 && len(q.KeyPoints) > 0 {
		a.KeyPointsCovered, a.KeyPointsMissed = speaking.KeyPointCoverage(transcript, q.KeyPoints)
	}
	switch a.TimingEfficiency {
	case practice.TimingTooShort, practice.TimingAppropriate, practice.TimingTooLong:
	default:
		a.TimingEfficiency = speaking.Timing(duration, q.ExpectedDuration)
	}
	if a.Scores.Fluency == 0 && a.OverallScore > 0 {
		a.Scores.Fluency = speaking.FluencyHint(a.Metrics)
	}
}

type scorePayload struct {
	Fluency       float64 `json:"fluency"`
	Vocabulary    float64 `json:"vocabulary"`
	Grammar       float64 `json:"grammar"`
	Pronunciation float64 `json:"pronunciation"`
	Relevance     float64 `json:"relevance"`
	Structure     float64 `json:"structure"`
}

type analysisPayload struct {
	OverallScore     float64      `json:"overall_score"`
	Scores           scorePayload `json:"scores"`
	Strengths        []string     `json:"strengths"`
	Weaknesses       []string     `json:"weaknesses"`
	Suggestions      []string     `json:"suggestions"`
	KeyPointsCovered []string     `json:"key_points_covered"`
	KeyPointsMissed  []string     `json:"key_points_missed"`
	TimingEfficiency string       `json:"timing_efficiency"`
}

// parsePayload 截取第一个 { 到最后一个 } 之间的 JSON。
func parsePayload(content string) (*analysisPayload, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("%w: missing json object", ErrMalformedResponse)
	}

	payload := &analysisPayload{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return payload, nil
}

func (p *analysisPayload) toAnalysis() practice.AnswerAnalysis {
	scores := practice.CategoryScores{
		Fluency:       clampScore(p.Scores.Fluency),
		Vocabulary:    clampScore(p.Scores.Vocabulary),
		Grammar:       clampScore(p.Scores.Grammar),
		Pronunciation: clampScore(p.Scores.Pronunciation),
		Relevance:     clampScore(p.Scores.Relevance),
		Structure:     clampScore(p.Scores.Structure),
	}

	overall := clampScore(p.OverallScore)
	if overall == 0 {
		overall = average(scores)
	}

	return practice.AnswerAnalysis{
		OverallScore:     overall,
		Scores:           scores,
		Strengths:        cleanList(p.Strengths),
		Weaknesses:       cleanList(p.Weaknesses),
		Suggestions:      cleanList(p.Suggestions),
		KeyPointsCovered: cleanList(p.KeyPointsCovered),
		KeyPointsMissed:  cleanList(p.KeyPointsMissed),
		TimingEfficiency: practice.TimingEfficiency(strings.ToLower(strings.TrimSpace(p.TimingEfficiency))),
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func average(s practice.CategoryScores) float64 {
	sum := s.Fluency + s.Vocabulary + s.Grammar + s.Pronunciation + s.Relevance + s.Structure
	return float64(int(sum/6*10+0.5)) / 10
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if t := strings.TrimSpace(item); t != "" {
			out = append(out, t)
		}
	}
	return out
}

const systemPrompt = `You are an experienced IELTS speaking examiner and job interview coach. You receive the transcript of a spoken answer together with the question it responds to.
Score the answer on six categories from 0 to 100: fluency, vocabulary, grammar, pronunciation, relevance and structure. Judge pronunciation only from what the transcript and the recognition confidence suggest.
Reply with exactly one JSON object and nothing else. Use these keys: overall_score (number 0-100), scores (object with the six category keys), strengths (array of strings), weaknesses (array of strings), suggestions (array of concrete, actionable strings), key_points_covered (array), key_points_missed (array), timing_efficiency (one of too_short, appropriate, too_long).`

const userPrompt = `Question type: {question_type}
Category: {category}
Question: {question}
Key points the answer should cover:
{key_points}

Expected answer length: {expected_duration} seconds. Actual length: {duration} seconds.
Speech recognition confidence: {confidence}
Measured delivery: {metrics}

Transcript:
{transcript}`
