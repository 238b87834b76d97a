// Package capture acquires microphone-like audio sources and turns them into
// finished recordings with a live amplitude signal.
package capture

import (
	"context"
	"errors"
	"time"
)

// ErrNoSource is returned when no capture device or client is available.
var ErrNoSource = errors.New("no capture source available")

// Format describes raw PCM frames produced by a Source.
type Format struct {
	SampleRate int
	Channels   int
	Encoding   string
}

// Frame is one chunk of captured audio.
type Frame struct {
	Data      []byte
	Format    Format
	Timestamp time.Time
}

// Constraints 采集参数：单声道、采样率以及前处理开关。
type Constraints struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultConstraints returns mono 16 kHz capture with all processing enabled.
func DefaultConstraints() Constraints {
	return Constraints{
		SampleRate:       16000,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

func (c Constraints) normalized() Constraints {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	// Answers are always captured mono.
	c.Channels = 1
	return c
}

// Format returns the PCM format a source must emit under these constraints.
func (c Constraints) Format() Format {
	c = c.normalized()
	return Format{SampleRate: c.SampleRate, Channels: c.Channels, Encoding: EncodingPCM16}
}

// EncodingPCM16 is signed 16-bit little-endian PCM.
const EncodingPCM16 = "pcm_s16le"

// Source produces raw PCM frames. Start must not leave anything open when it
// fails. The returned channel is closed once the source stops producing.
type Source interface {
	Name() string
	Start(ctx context.Context, c Constraints) (<-chan Frame, error)
	Close() error
}
