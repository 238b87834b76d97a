package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os/exec"
	"sync"
	"time"
)

// MIME types tried in order when a recording is finalized.
const (
	MIMEWebmOpus = "audio/webm;codecs=opus"
	MIMEOggOpus  = "audio/ogg;codecs=opus"
	MIMEWebm     = "audio/webm"
	MIMEMP4      = "audio/mp4"
	MIMEWAV      = "audio/wav"
)

// PreferredMIMETypes is the negotiation order: Opus in a container first, WAV last.
var PreferredMIMETypes = []string{MIMEWebmOpus, MIMEOggOpus, MIMEWebm, MIMEMP4, MIMEWAV}

// Encoder turns raw PCM into a container format.
type Encoder interface {
	MIMEType() string
	Supported() bool
	Encode(ctx context.Context, pcm []byte, format Format) ([]byte, error)
}

// Negotiate picks the first preferred MIME type with a supported encoder.
// When nothing matches the platform default WAV encoder is used.
func Negotiate(preferred []string, encoders []Encoder) Encoder {
	for _, mime := range preferred {
		for _, enc := range encoders {
			if enc == nil || enc.MIMEType() != mime {
				continue
			}
			if enc.Supported() {
				return enc
			}
		}
	}
	return WAVEncoder{}
}

// WAVEncoder writes a canonical 44-byte RIFF header followed by the samples.
type WAVEncoder struct{}

func (WAVEncoder) MIMEType() string { return MIMEWAV }

func (WAVEncoder) Supported() bool { return true }

func (WAVEncoder) Encode(_ context.Context, pcm []byte, format Format) ([]byte, error) {
	rate := format.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	channels := format.Channels
	if channels <= 0 {
		channels = 1
	}
	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8
	byteRate := rate * blockAlign

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(rate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// FFmpegEncoder pipes PCM through ffmpeg to produce a compressed container.
type FFmpegEncoder struct {
	Binary  string
	mime    string
	args    []string
	timeout time.Duration

	once      sync.Once
	available bool
}

// NewFFmpegEncoder returns an encoder for one of the non-WAV preferred MIME types.
func NewFFmpegEncoder(binary, mime string) (*FFmpegEncoder, error) {
	if binary == "" {
		binary = "ffmpeg"
	}
	var args []string
	switch mime {
	case MIMEWebmOpus:
		args = []string{"-c:a", "libopus", "-b:a", "32k", "-f", "webm"}
	case MIMEOggOpus:
		args = []string{"-c:a", "libopus", "-b:a", "32k", "-f", "ogg"}
	case MIMEWebm:
		args = []string{"-f", "webm"}
	case MIMEMP4:
		args = []string{"-c:a", "aac", "-movflags", "frag_keyframe+empty_moov", "-f", "mp4"}
	default:
		return nil, fmt.Errorf("ffmpeg encoder: unsupported mime type %q", mime)
	}
	return &FFmpegEncoder{Binary: binary, mime: mime, args: args, timeout: 2 * time.Minute}, nil
}

// FFmpegEncoders returns encoders for every compressed preferred type.
func FFmpegEncoders(binary string) []Encoder {
	encoders := make([]Encoder, 0, 4)
	for _, mime := range []string{MIMEWebmOpus, MIMEOggOpus, MIMEWebm, MIMEMP4} {
		enc, err := NewFFmpegEncoder(binary, mime)
		if err != nil {
			continue
		}
		encoders = append(encoders, enc)
	}
	return encoders
}

func (e *FFmpegEncoder) MIMEType() string { return e.mime }

// Supported reports whether the ffmpeg binary can be found on PATH.
func (e *FFmpegEncoder) Supported() bool {
	e.once.Do(func() {
		_, err := exec.LookPath(e.Binary)
		e.available = err == nil
	})
	return e.available
}

func (e *FFmpegEncoder) Encode(ctx context.Context, pcm []byte, format Format) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le",
		"-ar", fmt.Sprint(format.SampleRate),
		"-ac", fmt.Sprint(format.Channels),
		"-i", "pipe:0",
	}
	args = append(args, e.args...)
	args = append(args, "pipe:1")

	cmd := exec.CommandContext(ctx, e.Binary, args...)
	cmd.Stdin = bytes.NewReader(pcm)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg encode %s: %w: %s", e.mime, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}
