package practice

import "time"

// TranscriptionResult 语音识别结果。失败时 Success 为 false，Error 给出原因。
type TranscriptionResult struct {
	Success    bool      `json:"success"`
	Transcript string    `json:"transcript"`
	Confidence float64   `json:"confidence"`
	Error      string    `json:"error,omitempty"`
	StatusCode int       `json:"statusCode,omitempty"` // HTTP status of the failed remote call, 0 if unknown
	Language   string    `json:"language,omitempty"`
	Duration   float64   `json:"duration,omitempty"` // seconds reported by the service
	CreatedAt  time.Time `json:"createdAt"`
}

// FailedTranscription builds the failure shape callers branch on.
func FailedTranscription(err error, statusCode int) TranscriptionResult {
	msg := "transcription failed"
	if err != nil {
		msg = err.Error()
	}
	return TranscriptionResult{
		Success:    false,
		Transcript: "",
		Confidence: 0,
		Error:      msg,
		StatusCode: statusCode,
		CreatedAt:  time.Now().UTC(),
	}
}

// TimingEfficiency 回答时长与题目预期时长的比较结果。
type TimingEfficiency string

const (
	TimingTooShort    TimingEfficiency = "too_short"
	TimingAppropriate TimingEfficiency = "appropriate"
	TimingTooLong     TimingEfficiency = "too_long"
)

// CategoryScores 各维度得分，范围 0-100。
type CategoryScores struct {
	Fluency       float64 `json:"fluency"`
	Vocabulary    float64 `json:"vocabulary"`
	Grammar       float64 `json:"grammar"`
	Pronunciation float64 `json:"pronunciation"`
	Relevance     float64 `json:"relevance"`
	Structure     float64 `json:"structure"`
}

// SpeakingMetrics 本地计算的口语指标。
type SpeakingMetrics struct {
	WordCount      int     `json:"wordCount"`
	UniqueWords    int     `json:"uniqueWords"`
	WordsPerMinute float64 `json:"wordsPerMinute"`
	FillerCount    int     `json:"fillerCount"`
	FillerRatio    float64 `json:"fillerRatio"`
	LexicalDensity float64 `json:"lexicalDensity"`
}

// AnswerAnalysis 对一次回答的评分与反馈。
type AnswerAnalysis struct {
	OverallScore     float64          `json:"overallScore"`
	Scores           CategoryScores   `json:"scores"`
	Strengths        []string         `json:"strengths"`
	Weaknesses       []string         `json:"weaknesses"`
	Suggestions      []string         `json:"suggestions"`
	KeyPointsCovered []string         `json:"keyPointsCovered"`
	KeyPointsMissed  []string         `json:"keyPointsMissed"`
	TimingEfficiency TimingEfficiency `json:"timingEfficiency"`
	ProcessingTime   int64            `json:"processingTime"` // milliseconds
	Metrics          SpeakingMetrics  `json:"metrics"`
	Failed           bool             `json:"failed,omitempty"`
	FailureReason    string           `json:"failureReason,omitempty"`
}
