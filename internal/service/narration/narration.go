// Package narration reads question prompts aloud through the Volcengine
// unidirectional TTS stream so a candidate can practise listening first.
package narration

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-speak/backend/internal/model/practice"
	"github.com/zhouzirui/z-speak/backend/internal/volc"
)

const (
	defaultEndpoint = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"
	defaultVoice    = "en_female_amy_jupiter_bigtts"
	sampleRate      = 24000

	resourceDefault = "volc.service_type.10029"
	resourceMega    = "volc.megatts.default"
	resourceSeed    = "seed-tts-2.0"
)

var (
	ErrEmptyText  = errors.New("narration text is empty")
	ErrEmptyAudio = errors.New("narration audio is empty")
)

// Config 朗读服务配置，凭证与语音识别共用。
type Config struct {
	AppID       string
	AccessToken string
	Endpoint    string
	Voice       string
	Language    string
	Speed       float32
	Volume      float32
}

// Audio is one synthesized clip.
type Audio struct {
	Data     []byte
	Format   string
	Duration time.Duration
}

// MIMEType of the clip.
func (a Audio) MIMEType() string {
	switch a.Format {
	case "ogg_opus":
		return "audio/ogg"
	case "pcm":
		return "audio/pcm"
	default:
		return "audio/mpeg"
	}
}

// Narrator synthesizes speech and caches clips per question.
type Narrator struct {
	cfg    Config
	dialer *websocket.Dialer

	mu    sync.Mutex
	cache map[string]Audio
}

// New 校验凭证并创建朗读服务。
func New(cfg Config) (*Narrator, error) {
	cfg.AppID = strings.TrimSpace(cfg.AppID)
	cfg.AccessToken = strings.TrimSpace(cfg.AccessToken)
	if cfg.AppID == "" || cfg.AccessToken == "" {
		return nil, errors.New("火山引擎语音配置缺少 AppID 或 AccessToken")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if strings.TrimSpace(cfg.Voice) == "" {
		cfg.Voice = defaultVoice
	}
	return &Narrator{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		cache:  make(map[string]Audio),
	}, nil
}

// Script is the text read aloud for q. Part 2 cue cards include their bullet points.
func Script(q practice.Question) string {
	text := strings.TrimSpace(q.Prompt)
	if q.Type != practice.IELTSPart2 || len(q.KeyPoints) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(text)
	b.WriteString(" You should say:")
	for _, p := range q.KeyPoints {
		b.WriteString(" ")
		b.WriteString(strings.TrimRight(strings.TrimSpace(p), "."))
		b.WriteString(".")
	}
	return b.String()
}

// Narrate returns the clip for q, synthesizing it on first use.
func (n *Narrator) Narrate(ctx context.Context, q practice.Question) (Audio, error) {
	n.mu.Lock()
	cached, ok := n.cache[q.ID]
	n.mu.Unlock()
	if ok {
		return cached, nil
	}

	audio, err := n.Synthesize(ctx, Script(q))
	if err != nil {
		return Audio{}, err
	}

	n.mu.Lock()
	n.cache[q.ID] = audio
	n.mu.Unlock()
	return audio, nil
}

// Synthesize turns text into mp3, falling back across resource ids when the
// voice belongs to a different product line.
func (n *Narrator) Synthesize(ctx context.Context, text string) (Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Audio{}, ErrEmptyText
	}

	var lastErr error
	for i, resourceID := range resourceCandidates(n.cfg.Voice) {
		audio, err := n.synthesize(ctx, text, resourceID)
		if err == nil {
			if i > 0 {
				log.Printf("[narration] voice %s succeeded with fallback resource %s", n.cfg.Voice, resourceID)
			}
			return audio, nil
		}
		if !isResourceMismatch(err) {
			return Audio{}, err
		}
		log.Printf("[narration] voice %s resource %s mismatch: %v", n.cfg.Voice, resourceID, err)
		lastErr = err
	}
	return Audio{}, lastErr
}

type ttsRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string         `json:"speaker"`
		Text        string         `json:"text"`
		AudioParams ttsAudioParams `json:"audio_params"`
		Additions   string         `json:"additions,omitempty"`
		Language    string         `json:"language,omitempty"`
	} `json:"req_params"`
}

type ttsAudioParams struct {
	Format          string  `json:"format"`
	SampleRate      int     `json:"sample_rate"`
	EnableTimestamp bool    `json:"enable_timestamp"`
	SpeedRatio      float32 `json:"speed_ratio,omitempty"`
	VolumeRatio     float32 `json:"volume_ratio,omitempty"`
}

type ttsResponse struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition,omitempty"`
}

func (n *Narrator) buildRequest(text string) ttsRequest {
	var req ttsRequest
	req.User.UID = uuid.NewString()
	req.ReqParams.Speaker = n.cfg.Voice
	req.ReqParams.Text = text
	req.ReqParams.AudioParams = ttsAudioParams{
		Format:          "mp3",
		SampleRate:      sampleRate,
		EnableTimestamp: true,
	}
	if n.cfg.Speed > 0 && n.cfg.Speed != 1 {
		req.ReqParams.AudioParams.SpeedRatio = n.cfg.Speed
	}
	if n.cfg.Volume > 0 && n.cfg.Volume != 1 {
		req.ReqParams.AudioParams.VolumeRatio = n.cfg.Volume
	}
	req.ReqParams.Language = strings.TrimSpace(n.cfg.Language)
	req.ReqParams.Additions = `{"disable_markdown_filter":false}`
	return req
}

func (n *Narrator) synthesize(ctx context.Context, text, resourceID string) (Audio, error) {
	conn, _, stop, err := volc.Dial(ctx, n.dialer, n.cfg.Endpoint, volc.Credentials{
		AppKey:     n.cfg.AppID,
		AccessKey:  n.cfg.AccessToken,
		ResourceID: resourceID,
	})
	if err != nil {
		return Audio{}, fmt.Errorf("connect to tts: %w", err)
	}
	defer conn.Close()
	defer stop()

	payload, err := json.Marshal(n.buildRequest(text))
	if err != nil {
		return Audio{}, fmt.Errorf("marshal tts request: %w", err)
	}
	request, err := volc.NewRequest(payload, false)
	if err != nil {
		return Audio{}, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, request.Marshal()); err != nil {
		return Audio{}, fmt.Errorf("send tts request: %w", err)
	}

	audio, err := receiveAudio(conn)
	if err != nil && ctx.Err() != nil {
		return Audio{}, ctx.Err()
	}
	return audio, err
}

func receiveAudio(conn *websocket.Conn) (Audio, error) {
	var (
		buf      bytes.Buffer
		duration time.Duration
	)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return Audio{}, fmt.Errorf("read tts response: %w", err)
		}
		f, err := volc.Parse(data)
		if err != nil {
			return Audio{}, fmt.Errorf("decode tts frame: %w", err)
		}
		body, err := f.Body()
		if err != nil {
			return Audio{}, fmt.Errorf("decompress tts payload: %w", err)
		}

		switch f.Kind {
		case volc.ServerError:
			return Audio{}, fmt.Errorf("tts error %d: %s", f.ErrorCode, strings.TrimSpace(string(body)))

		case volc.AudioOnlyServerResponse:
			buf.Write(body)

		case volc.FullServerResponse:
			if f.Event == volc.EventSessionFailed {
				return Audio{}, fmt.Errorf("tts session failed: %s", strings.TrimSpace(string(body)))
			}
			var resp ttsResponse
			if len(body) > 0 {
				if err := json.Unmarshal(body, &resp); err != nil {
					log.Printf("[narration] unparsable tts response: %v", err)
				} else {
					if resp.Code != 0 && resp.Code != 3000 {
						return Audio{}, fmt.Errorf("tts api error %d: %s", resp.Code, resp.Message)
					}
					if ms, err := strconv.ParseInt(resp.Addition.Duration, 10, 64); err == nil {
						duration = time.Duration(ms) * time.Millisecond
					}
					if resp.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(resp.Data)
						if err != nil {
							return Audio{}, fmt.Errorf("decode tts audio chunk: %w", err)
						}
						buf.Write(chunk)
					}
				}
			}

			if f.Event == volc.EventSessionFinished || f.Last() || resp.Sequence < 0 {
				if buf.Len() == 0 {
					return Audio{}, ErrEmptyAudio
				}
				return Audio{Data: buf.Bytes(), Format: "mp3", Duration: duration}, nil
			}

		default:
			log.Printf("[narration] unexpected frame kind %d", f.Kind)
		}
	}
}

func resourceCandidates(voice string) []string {
	if strings.HasPrefix(voice, "S_") {
		// 复刻音色
		return []string{resourceMega}
	}
	lower := strings.ToLower(voice)
	for _, hint := range []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "saturn", "mars"} {
		if strings.Contains(lower, hint) {
			return []string{resourceSeed, resourceDefault}
		}
	}
	return []string{resourceDefault, resourceSeed}
}

func isResourceMismatch(err error) bool {
	return err != nil && strings.Contains(err.Error(), "resource ID is mismatched")
}
