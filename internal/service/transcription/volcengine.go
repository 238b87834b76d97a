package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-speak/backend/internal/model/practice"
	"github.com/zhouzirui/z-speak/backend/internal/volc"
)

const (
	defaultVolcEndpoint = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"
	volcResourceHourly  = "volc.bigasr.sauc.duration"
	volcResourceConc    = "volc.bigasr.sauc.concurrent"
	// 16kHz 16bit 单声道约 200ms
	volcChunkSize = 6400
)

// VolcengineConfig 火山引擎大模型流式识别配置。
type VolcengineConfig struct {
	AppID       string
	AccessToken string
	Endpoint    string
	Concurrent  bool // 并发版资源，默认小时版
	SampleRate  int
}

// Volcengine streams the recording to the Volcengine bigmodel ASR over its
// binary websocket protocol and waits for the final full result.
type Volcengine struct {
	appID      string
	token      string
	endpoint   string
	resourceID string
	sampleRate int
	dialer     *websocket.Dialer
}

// NewVolcengine 校验凭证并创建客户端。
func NewVolcengine(cfg VolcengineConfig) (*Volcengine, error) {
	appID := strings.TrimSpace(cfg.AppID)
	token := strings.TrimSpace(cfg.AccessToken)
	if appID == "" || token == "" {
		return nil, errors.New("火山引擎语音配置缺少 AppID 或 AccessToken")
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultVolcEndpoint
	}
	resourceID := volcResourceHourly
	if cfg.Concurrent {
		resourceID = volcResourceConc
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	return &Volcengine{
		appID:      appID,
		token:      token,
		endpoint:   endpoint,
		resourceID: resourceID,
		sampleRate: rate,
		dialer:     &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
	}, nil
}

func (v *Volcengine) Name() string { return "volcengine" }

type volcRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
	} `json:"request"`
}

type volcUtterance struct {
	Text     string `json:"text"`
	Definite bool   `json:"definite"`
}

type volcResponse struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string          `json:"text"`
		Utterances []volcUtterance `json:"utterances,omitempty"`
	} `json:"result"`
	AudioInfo struct {
		Duration int64 `json:"duration"` // ms
	} `json:"audio_info"`
}

// Transcribe sends the full request, then the audio in chunks, and reads
// server frames until the final one arrives.
func (v *Volcengine) Transcribe(ctx context.Context, blob practice.AudioBlob, language string) (Transcript, error) {
	format, codec, err := volcFormat(blob.MIMEType)
	if err != nil {
		return Transcript{}, err
	}

	conn, connectID, stop, err := volc.Dial(ctx, v.dialer, v.endpoint, volc.Credentials{
		AppKey:     v.appID,
		AccessKey:  v.token,
		ResourceID: v.resourceID,
	})
	if err != nil {
		var he *volc.HandshakeError
		if errors.As(err, &he) {
			return Transcript{}, &StatusError{StatusCode: he.StatusCode, Body: he.Body}
		}
		return Transcript{}, fmt.Errorf("connect to volcengine asr: %w", err)
	}
	defer conn.Close()
	defer stop()

	payload, err := json.Marshal(v.buildRequest(connectID, language, format, codec))
	if err != nil {
		return Transcript{}, fmt.Errorf("marshal asr request: %w", err)
	}
	request, err := volc.NewRequest(payload, true)
	if err != nil {
		return Transcript{}, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, request.Marshal()); err != nil {
		return Transcript{}, fmt.Errorf("send asr request: %w", err)
	}

	sendErr := make(chan error, 1)
	go func() {
		sendErr <- sendAudio(ctx, conn, blob.Data)
	}()

	transcript, err := receiveResult(conn)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Transcript{}, ctxErr
		}
		select {
		case se := <-sendErr:
			if se != nil {
				return Transcript{}, fmt.Errorf("send audio: %w", se)
			}
		default:
		}
		return Transcript{}, err
	}
	return transcript, nil
}

func (v *Volcengine) buildRequest(uid, language, format, codec string) volcRequest {
	var req volcRequest
	req.User.UID = uid
	req.Audio.Language = strings.TrimSpace(language)
	req.Audio.Format = format
	req.Audio.Codec = codec
	req.Audio.Rate = v.sampleRate
	req.Audio.Bits = 16
	req.Audio.Channel = 1
	req.Request.ModelName = "bigmodel"
	req.Request.EnableITN = true
	req.Request.EnablePunc = true
	req.Request.ShowUtterances = true
	req.Request.ResultType = "full"
	return req
}

// sendAudio 分包发送，nostream 模式无需按实时速率节流。序号 1 被 full request 占用。
func sendAudio(ctx context.Context, conn *websocket.Conn, audio []byte) error {
	sequence := int32(2)
	for start := 0; start < len(audio); start += volcChunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+volcChunkSize, len(audio))
		f, err := volc.NewAudio(audio[start:end], sequence, end == len(audio))
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, f.Marshal()); err != nil {
			return err
		}
		sequence++
	}
	return nil
}

func receiveResult(conn *websocket.Conn) (Transcript, error) {
	var (
		text     string
		duration int64
	)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return Transcript{}, fmt.Errorf("read asr response: %w", err)
		}
		f, err := volc.Parse(data)
		if err != nil {
			return Transcript{}, fmt.Errorf("decode asr frame: %w", err)
		}

		switch f.Kind {
		case volc.ServerError:
			body, _ := f.Body()
			return Transcript{}, fmt.Errorf("asr error %d: %s", f.ErrorCode, strings.TrimSpace(string(body)))

		case volc.FullServerResponse:
			body, err := f.Body()
			if err != nil {
				return Transcript{}, fmt.Errorf("decompress asr payload: %w", err)
			}
			var resp volcResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				log.Printf("[transcription] volcengine unparsable response: %v", err)
				continue
			}
			if resp.Code != 0 && resp.Code != 20000000 {
				return Transcript{}, fmt.Errorf("asr api error %d: %s", resp.Code, resp.Message)
			}
			if candidate := resultText(resp); candidate != "" {
				text = candidate
			}
			if resp.AudioInfo.Duration > 0 {
				duration = resp.AudioInfo.Duration
			}
			if f.Last() || resp.Sequence < 0 {
				confidence := 0.0
				if strings.TrimSpace(text) != "" {
					confidence = defaultConfidence
				}
				return Transcript{
					Text:       text,
					Confidence: confidence,
					Duration:   float64(duration) / 1000,
				}, nil
			}
		}
	}
}

func resultText(resp volcResponse) string {
	if resp.Result.Text != "" {
		return resp.Result.Text
	}
	parts := make([]string, 0, len(resp.Result.Utterances))
	for _, u := range resp.Result.Utterances {
		if t := strings.TrimSpace(u.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// volcFormat maps a blob MIME type to the service's format/codec pair.
func volcFormat(mime string) (string, string, error) {
	base := strings.ToLower(strings.TrimSpace(mime))
	if i := strings.Index(base, ";"); i >= 0 {
		base = base[:i]
	}
	switch base {
	case "", "audio/wav", "audio/x-wav", "audio/wave":
		return "wav", "raw", nil
	case "audio/pcm", "audio/l16":
		return "pcm", "raw", nil
	case "audio/ogg":
		return "ogg", "opus", nil
	case "audio/mpeg", "audio/mp3":
		return "mp3", "raw", nil
	default:
		return "", "", fmt.Errorf("%w for volcengine: %s", ErrUnsupportedFormat, mime)
	}
}
