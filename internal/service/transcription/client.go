// Package transcription sends recorded answers to a remote speech-to-text
// service. Failures never surface as errors: they come back as a result with
// Success=false so the processing pipeline can deliver feedback either way.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zhouzirui/z-speak/backend/internal/model/practice"
)

// ErrEmptyAudio 录音为空时返回。
var ErrEmptyAudio = errors.New("recorded audio is empty")

// ErrUnsupportedFormat is returned by a backend that cannot accept the blob's container.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Transcript is what a backend recognized.
type Transcript struct {
	Text       string
	Confidence float64
	Language   string
	Duration   float64 // seconds
}

// Backend talks to one concrete speech-to-text service.
type Backend interface {
	Name() string
	Transcribe(ctx context.Context, blob practice.AudioBlob, language string) (Transcript, error)
}

// StatusError carries the HTTP status of a rejected request so callers can
// tell credential problems apart from transient ones.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("transcription service returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("transcription service returned status %d: %s", e.StatusCode, body)
}

// Options 控制单次转写调用。
type Options struct {
	Language string
	Timeout  time.Duration
}

// Client wraps a backend with a per-call timeout and converts every failure
// into a TranscriptionResult. It never retries.
type Client struct {
	backend  Backend
	language string
	timeout  time.Duration
	now      func() time.Time
}

// NewClient creates a client. A zero timeout means 60 seconds.
func NewClient(backend Backend, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	language := strings.TrimSpace(opts.Language)
	if language == "" {
		language = "en-US"
	}
	return &Client{
		backend:  backend,
		language: language,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Backend returns the configured backend name.
func (c *Client) Backend() string {
	if c.backend == nil {
		return ""
	}
	return c.backend.Name()
}

// Transcribe 转写一段录音。返回值总是有效的结果，失败时 Success 为 false。
func (c *Client) Transcribe(ctx context.Context, blob practice.AudioBlob) practice.TranscriptionResult {
	if blob.Empty() {
		return practice.FailedTranscription(ErrEmptyAudio, 0)
	}
	if c.backend == nil {
		return practice.FailedTranscription(errors.New("no transcription service configured"), 0)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := c.now()
	transcript, err := c.backend.Transcribe(ctx, blob, c.language)
	if err != nil {
		status := 0
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			status = statusErr.StatusCode
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("transcription timed out after %s: %w", c.timeout, err)
		}
		log.Printf("[transcription] %s failed after %s: %v", c.backend.Name(), c.now().Sub(started).Round(time.Millisecond), err)
		return practice.FailedTranscription(err, status)
	}

	log.Printf("[transcription] %s ok bytes=%d chars=%d confidence=%.2f in %s",
		c.backend.Name(), len(blob.Data), len(transcript.Text), transcript.Confidence, c.now().Sub(started).Round(time.Millisecond))

	return practice.TranscriptionResult{
		Success:    true,
		Transcript: strings.TrimSpace(transcript.Text),
		Confidence: clamp01(transcript.Confidence),
		Language:   transcript.Language,
		Duration:   transcript.Duration,
		CreatedAt:  c.now(),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
