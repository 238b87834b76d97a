package capture

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zhouzirui/z-speak/backend/internal/model/practice"
)

// drainTimeout bounds how long Stop waits for in-flight frames after the source is closed.
const drainTimeout = 2 * time.Second

// Adapter 将采集源包装为可暂停、可结束的录音。
type Adapter struct {
	source      Source
	constraints Constraints
	encoders    []Encoder
	preferred   []string
}

// NewAdapter creates an adapter over source. Encoders are negotiated against
// PreferredMIMETypes when a recording is finalized; WAV is always available.
func NewAdapter(source Source, constraints Constraints, encoders ...Encoder) *Adapter {
	return &Adapter{
		source:      source,
		constraints: constraints.normalized(),
		encoders:    encoders,
		preferred:   PreferredMIMETypes,
	}
}

// Constraints returns the acquisition parameters handed to the source.
func (a *Adapter) Constraints() Constraints {
	return a.constraints
}

// MIMEType reports the container a finished recording will be encoded with.
func (a *Adapter) MIMEType() string {
	return Negotiate(a.preferred, a.encoders).MIMEType()
}

// Acquire opens the source and starts buffering audio. On failure nothing is
// left open and the error describes why the device could not be used.
func (a *Adapter) Acquire(ctx context.Context) (*Recording, error) {
	if a == nil || a.source == nil {
		return nil, ErrNoSource
	}

	// The recording outlives the request that started it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	frames, err := a.source.Start(runCtx, a.constraints)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("acquire %s: %w", a.source.Name(), err)
	}

	rec := &Recording{
		source:    a.source,
		format:    a.constraints.Format(),
		encoder:   Negotiate(a.preferred, a.encoders),
		cancel:    cancel,
		levels:    make(chan float64, 1),
		done:      make(chan struct{}),
		startedAt: time.Now().UTC(),
	}
	go rec.run(frames)

	log.Printf("[capture] acquired source=%s rate=%d mime=%s", a.source.Name(), rec.format.SampleRate, rec.encoder.MIMEType())
	return rec, nil
}

// Recording is one finite capture session. It yields exactly one blob.
type Recording struct {
	source    Source
	format    Format
	encoder   Encoder
	cancel    context.CancelFunc
	startedAt time.Time

	mu     sync.Mutex
	buf    bytes.Buffer
	paused bool
	level  float64

	levels chan float64
	done   chan struct{}

	releaseOnce sync.Once
	releaseErr  error

	stopOnce sync.Once
	blob     practice.AudioBlob
	stopErr  error
}

func (r *Recording) run(frames <-chan Frame) {
	defer close(r.done)
	defer close(r.levels)

	for frame := range frames {
		if len(frame.Data) == 0 {
			continue
		}

		r.mu.Lock()
		if r.paused {
			r.mu.Unlock()
			continue
		}
		r.buf.Write(frame.Data)
		lvl := Level(frame.Data)
		r.level = lvl
		r.mu.Unlock()

		publishLevel(r.levels, lvl)
	}
}

// publishLevel keeps only the most recent value when the reader is slow.
func publishLevel(ch chan float64, lvl float64) {
	select {
	case ch <- lvl:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- lvl:
	default:
	}
}

// Levels streams normalized amplitude values while recording. The channel
// closes when the source stops producing.
func (r *Recording) Levels() <-chan float64 {
	return r.levels
}

// Level returns the most recent amplitude.
func (r *Recording) Level() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.level
}

// Pause drops incoming frames until Resume; buffered audio is kept.
func (r *Recording) Pause() {
	r.mu.Lock()
	r.paused = true
	r.level = 0
	r.mu.Unlock()
}

// Resume starts buffering frames again.
func (r *Recording) Resume() {
	r.mu.Lock()
	r.paused = false
	r.mu.Unlock()
}

// Buffered returns the number of PCM bytes captured so far.
func (r *Recording) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Len()
}

// Stop releases the source and encodes everything buffered into a blob.
// Subsequent calls return the same blob.
func (r *Recording) Stop(ctx context.Context) (practice.AudioBlob, error) {
	r.stopOnce.Do(func() {
		if err := r.Release(); err != nil {
			log.Printf("[capture] release during stop failed: %v", err)
		}

		select {
		case <-r.done:
		case <-time.After(drainTimeout):
			log.Printf("[capture] source %s did not drain within %s", r.source.Name(), drainTimeout)
		}

		r.mu.Lock()
		pcm := append([]byte(nil), r.buf.Bytes()...)
		r.mu.Unlock()

		r.blob, r.stopErr = r.encode(ctx, pcm)
	})
	return r.blob, r.stopErr
}

func (r *Recording) encode(ctx context.Context, pcm []byte) (practice.AudioBlob, error) {
	enc := r.encoder
	data, err := enc.Encode(ctx, pcm, r.format)
	if err != nil && enc.MIMEType() != MIMEWAV {
		log.Printf("[capture] %s encode failed, falling back to wav: %v", enc.MIMEType(), err)
		enc = WAVEncoder{}
		data, err = enc.Encode(ctx, pcm, r.format)
	}
	if err != nil {
		return practice.AudioBlob{}, fmt.Errorf("encode recording: %w", err)
	}

	return practice.AudioBlob{
		Data:      data,
		MIMEType:  enc.MIMEType(),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Release closes the underlying source exactly once. It is safe to call from
// teardown paths that never call Stop.
func (r *Recording) Release() error {
	r.releaseOnce.Do(func() {
		r.cancel()
		r.releaseErr = r.source.Close()
		log.Printf("[capture] released source=%s after %s", r.source.Name(), time.Since(r.startedAt).Round(time.Millisecond))
	})
	return r.releaseErr
}
