package practice

import "time"

// Attempt persists one processed recording for history views.
type Attempt struct {
	ID            string              `json:"id"`
	SessionID     string              `json:"sessionId"`
	QuestionID    string              `json:"questionId"`
	State         RecordingState      `json:"state"`
	Duration      int                 `json:"duration"`
	MIMEType      string              `json:"mimeType"`
	Succeeded     bool                `json:"succeeded"`
	Transcription TranscriptionResult `json:"transcription"`
	Analysis      AnswerAnalysis      `json:"analysis"`
	CreatedAt     time.Time           `json:"createdAt"`
}
