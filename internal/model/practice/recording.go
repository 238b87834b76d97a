package practice

import "time"

// RecordingState 表示一次练习录音所处的阶段。
type RecordingState string

const (
	StateIdle       RecordingState = "idle"
	StateRecording  RecordingState = "recording"
	StatePaused     RecordingState = "paused"
	StateStopped    RecordingState = "stopped"
	StateProcessing RecordingState = "processing"
	StateCompleted  RecordingState = "completed"
)

// Active reports whether a recording session is holding resources or awaiting a result.
func (s RecordingState) Active() bool {
	switch s {
	case StateRecording, StatePaused, StateProcessing:
		return true
	default:
		return false
	}
}

// AudioBlob 录音结束后得到的完整音频。
type AudioBlob struct {
	Data      []byte    `json:"-"`
	MIMEType  string    `json:"mimeType"`
	Duration  int       `json:"duration"` // seconds
	CreatedAt time.Time `json:"createdAt"`
}

// Empty reports whether the blob carries no bytes at all.
func (b *AudioBlob) Empty() bool {
	return b == nil || len(b.Data) == 0
}

// Extension 根据 MIME 类型推断文件扩展名，上传转写服务时使用。
func (b *AudioBlob) Extension() string {
	if b == nil {
		return "wav"
	}
	switch baseMIME(b.MIMEType) {
	case "audio/webm":
		return "webm"
	case "audio/ogg":
		return "ogg"
	case "audio/mp4":
		return "m4a"
	case "audio/mpeg":
		return "mp3"
	default:
		return "wav"
	}
}

func baseMIME(mime string) string {
	for i := 0; i < len(mime); i++ {
		if mime[i] == ';' {
			return mime[:i]
		}
	}
	return mime
}
