package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/zhouzirui/z-speak/backend/internal/model/practice"
)

const (
	defaultWhisperBaseURL = "https://api.openai.com/v1"
	defaultWhisperModel   = "whisper-1"
	// confidence reported when the service returns text without segment scores
	defaultConfidence = 0.95
	maxErrorBody      = 4 << 10
)

// WhisperConfig 描述 OpenAI 兼容的转写接口。
type WhisperConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// Whisper calls an OpenAI-compatible /audio/transcriptions endpoint.
type Whisper struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

// NewWhisper validates the configuration and returns the backend.
func NewWhisper(cfg WhisperConfig) (*Whisper, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("whisper transcription requires an API key")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultWhisperBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultWhisperModel
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Whisper{apiKey: apiKey, baseURL: baseURL, model: model, http: client}, nil
}

func (w *Whisper) Name() string { return "whisper" }

type whisperSegment struct {
	AvgLogprob   float64 `json:"avg_logprob"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

type whisperResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Segments []whisperSegment `json:"segments"`
}

type whisperError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Transcribe uploads the blob as multipart form data and asks for verbose_json
// so a confidence can be derived from the segment scores.
func (w *Whisper) Transcribe(ctx context.Context, blob practice.AudioBlob, language string) (Transcript, error) {
	body, contentType, err := w.buildForm(blob, language)
	if err != nil {
		return Transcript{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/audio/transcriptions", body)
	if err != nil {
		return Transcript{}, fmt.Errorf("build transcription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := w.http.Do(req)
	if err != nil {
		return Transcript{}, fmt.Errorf("send transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Transcript{}, &StatusError{StatusCode: resp.StatusCode, Body: errorMessage(raw)}
	}

	var payload whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Transcript{}, fmt.Errorf("decode transcription response: %w", err)
	}

	return Transcript{
		Text:       payload.Text,
		Confidence: segmentConfidence(payload.Text, payload.Segments),
		Language:   payload.Language,
		Duration:   payload.Duration,
	}, nil
}

func (w *Whisper) buildForm(blob practice.AudioBlob, language string) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fields := map[string]string{
		"model":           w.model,
		"response_format": "verbose_json",
	}
	if lang := isoLanguage(language); lang != "" {
		fields["language"] = lang
	}
	for key, value := range fields {
		if err := mw.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("write form field %s: %w", key, err)
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="answer.%s"`, blob.Extension()))
	if blob.MIMEType != "" {
		header.Set("Content-Type", blob.MIMEType)
	} else {
		header.Set("Content-Type", "application/octet-stream")
	}
	fw, err := mw.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := fw.Write(blob.Data); err != nil {
		return nil, "", fmt.Errorf("write audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}

// segmentConfidence averages exp(avg_logprob) weighted by the probability that
// the segment contains speech.
func segmentConfidence(text string, segments []whisperSegment) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	if len(segments) == 0 {
		return defaultConfidence
	}
	var sum float64
	for _, seg := range segments {
		sum += math.Exp(seg.AvgLogprob) * (1 - seg.NoSpeechProb)
	}
	return clamp01(sum / float64(len(segments)))
}

// isoLanguage turns "en-US" into the ISO-639-1 code the API expects.
func isoLanguage(language string) string {
	lang := strings.TrimSpace(language)
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return strings.ToLower(lang)
}

func errorMessage(raw []byte) string {
	var parsed whisperError
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return strings.TrimSpace(string(raw))
}
