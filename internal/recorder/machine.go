// Package recorder implements the recording state machine that drives one
// practice answer from capture through processing.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-speak/backend/internal/model/practice"
	"github.com/zhouzirui/z-speak/backend/internal/pipeline"
)

var (
	// ErrInvalidTransition is returned when an action is not allowed in the current state.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("recorder closed")
	// ErrNoRecording is returned by Process when stopping produced no audio.
	ErrNoRecording = errors.New("no recorded audio")
	// ErrNoProcessor is returned by Process when no orchestrator is configured.
	ErrNoProcessor = errors.New("no processor configured")
	// ErrAcquire wraps every failure to open the capture device.
	ErrAcquire = errors.New("capture device unavailable")
)

// Capture is an acquired audio device. Stop finalizes the audio and releases
// the device; Release only releases it. Both are idempotent.
type Capture interface {
	Levels() <-chan float64
	Pause()
	Resume()
	Stop(ctx context.Context) (practice.AudioBlob, error)
	Release() error
}

// AcquireFunc opens the capture device.
type AcquireFunc func(ctx context.Context) (Capture, error)

// Processor runs transcription and analysis for a stopped recording.
type Processor interface {
	Run(ctx context.Context, in pipeline.Input, cb pipeline.Callbacks) pipeline.Outcome
}

// Options configures a Machine.
type Options struct {
	ID          string
	// MaxDuration caps the counter in seconds, 0 disables the limit. With
	// AutoStop the machine stops itself at the cap; without it the counter
	// holds at the cap and recording continues until Stop.
	MaxDuration int
	AutoStop    bool
	Clock       Clock

	// Host callbacks, each invoked once per Process call.
	OnTranscription func(practice.TranscriptionResult)
	OnAnalysis      func(practice.AnswerAnalysis)
}

// Snapshot is the observable state for live display.
type Snapshot struct {
	ID          string                  `json:"id"`
	State       practice.RecordingState `json:"state"`
	Duration    int                     `json:"duration"`
	MaxDuration int                     `json:"maxDuration"`
	Level       float64                 `json:"level"`
	PlaybackID  string                  `json:"playbackId,omitempty"`
	MIMEType    string                  `json:"mimeType,omitempty"`
	Closed      bool                    `json:"closed,omitempty"`
}

// Result holds the most recent processing output.
type Result struct {
	Transcription *practice.TranscriptionResult `json:"transcription,omitempty"`
	Analysis      *practice.AnswerAnalysis      `json:"analysis,omitempty"`
}

// Machine owns at most one recording session at a time.
type Machine struct {
	opts      Options
	acquire   AcquireFunc
	processor Processor

	mu         sync.Mutex
	state      practice.RecordingState
	duration   int
	level      float64
	capture    Capture
	blob       *practice.AudioBlob
	playbackID string
	result     Result
	acquiring  bool
	stopping   bool
	closed     bool

	// generation distinguishes ticks and levels of the current recording from stale ones.
	generation uint64
	ticker     Ticker
	tickDone   chan struct{}

	listeners map[int]func(Snapshot)
	nextID    int
}

// New creates an idle machine.
func New(acquire AcquireFunc, processor Processor, opts Options) *Machine {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.MaxDuration < 0 {
		opts.MaxDuration = 0
	}
	return &Machine{
		opts:      opts,
		acquire:   acquire,
		processor: processor,
		state:     practice.StateIdle,
		listeners: make(map[int]func(Snapshot)),
	}
}

// ID returns the machine identifier.
func (m *Machine) ID() string {
	return m.opts.ID
}

// Start acquires the capture device and begins recording.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if err := m.checkLocked(practice.StateIdle); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.acquiring {
		m.mu.Unlock()
		return fmt.Errorf("%w: device acquisition already in progress", ErrInvalidTransition)
	}
	if m.acquire == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: no capture device configured", ErrAcquire)
	}
	m.acquiring = true
	m.mu.Unlock()

	capture, err := m.acquire(ctx)

	m.mu.Lock()
	m.acquiring = false
	if err != nil {
		m.mu.Unlock()
		log.Printf("[recorder] %s start failed: %v", m.opts.ID, err)
		return fmt.Errorf("%w: %w", ErrAcquire, err)
	}
	if m.closed {
		m.mu.Unlock()
		_ = capture.Release()
		return ErrClosed
	}

	m.state = practice.StateRecording
	m.duration = 0
	m.level = 0
	m.capture = capture
	m.blob = nil
	m.playbackID = ""
	m.result = Result{}
	m.generation++
	gen := m.generation

	m.ticker = m.opts.Clock.NewTicker(time.Second)
	m.tickDone = make(chan struct{})
	go m.tickLoop(m.ticker, m.tickDone, gen)
	go m.levelLoop(capture.Levels(), gen)

	snap, listeners := m.snapshotLocked()
	m.mu.Unlock()

	log.Printf("[recorder] %s recording started", m.opts.ID)
	notify(listeners, snap)
	return nil
}

// Pause suspends the duration counter and capture.
func (m *Machine) Pause() error {
	m.mu.Lock()
	if err := m.checkLocked(practice.StateRecording); err != nil {
		m.mu.Unlock()
		return err
	}
	m.state = practice.StatePaused
	m.level = 0
	m.capture.Pause()
	snap, listeners := m.snapshotLocked()
	m.mu.Unlock()

	notify(listeners, snap)
	return nil
}

// Resume continues a paused recording.
func (m *Machine) Resume() error {
	m.mu.Lock()
	if err := m.checkLocked(practice.StatePaused); err != nil {
		m.mu.Unlock()
		return err
	}
	m.state = practice.StateRecording
	m.capture.Resume()
	snap, listeners := m.snapshotLocked()
	m.mu.Unlock()

	notify(listeners, snap)
	return nil
}

// Stop halts the counter, finalizes the audio and releases the device.
func (m *Machine) Stop(ctx context.Context) error {
	m.mu.Lock()
	if err := m.checkLocked(practice.StateRecording, practice.StatePaused); err != nil {
		m.mu.Unlock()
		return err
	}
	capture, gen := m.beginStopLocked()
	m.mu.Unlock()

	return m.finishStop(ctx, capture, gen)
}

// beginStopLocked halts the counter and hands the capture to finishStop.
func (m *Machine) beginStopLocked() (Capture, uint64) {
	m.stopping = true
	m.stopTickerLocked()
	if m.opts.MaxDuration > 0 && m.duration > m.opts.MaxDuration {
		m.duration = m.opts.MaxDuration
	}
	return m.capture, m.generation
}

func (m *Machine) finishStop(ctx context.Context, capture Capture, gen uint64) error {
	// Stop releases the device as part of finalizing.
	blob, stopErr := capture.Stop(ctx)

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return ErrClosed
	}
	m.stopping = false
	m.capture = nil
	m.level = 0
	m.state = practice.StateStopped
	if stopErr == nil {
		blob.Duration = m.duration
		m.blob = &blob
		m.playbackID = uuid.NewString()
	}
	duration := m.duration
	snap, listeners := m.snapshotLocked()
	m.mu.Unlock()

	notify(listeners, snap)
	if stopErr != nil {
		log.Printf("[recorder] %s stop finalize failed: %v", m.opts.ID, stopErr)
		return fmt.Errorf("finalize recording: %w", stopErr)
	}
	log.Printf("[recorder] %s stopped duration=%ds bytes=%d mime=%s", m.opts.ID, duration, len(blob.Data), blob.MIMEType)
	return nil
}

// Reset discards the recording and returns to idle.
func (m *Machine) Reset() error {
	m.mu.Lock()
	if err := m.checkLocked(practice.StateStopped, practice.StateCompleted); err != nil {
		m.mu.Unlock()
		return err
	}
	m.state = practice.StateIdle
	m.duration = 0
	m.level = 0
	m.blob = nil
	m.playbackID = ""
	m.result = Result{}
	snap, listeners := m.snapshotLocked()
	m.mu.Unlock()

	notify(listeners, snap)
	return nil
}

// Process transcribes and analyzes the stopped recording. Both host callbacks
// fire exactly once. On success the machine ends in completed, otherwise it
// returns to stopped so the user can try again.
func (m *Machine) Process(ctx context.Context, question practice.Question) (pipeline.Outcome, error) {
	m.mu.Lock()
	if err := m.checkLocked(practice.StateStopped); err != nil {
		m.mu.Unlock()
		return pipeline.Outcome{}, err
	}
	if m.blob.Empty() {
		m.mu.Unlock()
		return pipeline.Outcome{}, ErrNoRecording
	}
	if m.processor == nil {
		m.mu.Unlock()
		return pipeline.Outcome{}, ErrNoProcessor
	}
	m.state = practice.StateProcessing
	m.result = Result{}
	in := pipeline.Input{
		SessionID: m.opts.ID,
		Blob:      *m.blob,
		Question:  question,
		Duration:  m.duration,
	}
	snap, listeners := m.snapshotLocked()
	m.mu.Unlock()

	notify(listeners, snap)

	outcome := m.processor.Run(ctx, in, pipeline.Callbacks{
		OnTranscription: func(res practice.TranscriptionResult) {
			m.mu.Lock()
			m.result.Transcription = &res
			m.mu.Unlock()
			if m.opts.OnTranscription != nil {
				m.opts.OnTranscription(res)
			}
		},
		OnAnalysis: func(a practice.AnswerAnalysis) {
			m.mu.Lock()
			m.result.Analysis = &a
			m.mu.Unlock()
			if m.opts.OnAnalysis != nil {
				m.opts.OnAnalysis(a)
			}
		},
	})

	m.mu.Lock()
	if m.state == practice.StateProcessing {
		if outcome.Succeeded {
			m.state = practice.StateCompleted
		} else {
			m.state = practice.StateStopped
		}
	}
	snap, listeners = m.snapshotLocked()
	m.mu.Unlock()

	notify(listeners, snap)
	return outcome, nil
}

// Close tears the machine down from any state. The ticker stops and the device
// is released before Close returns; an in-flight Process is left to finish.
func (m *Machine) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.stopTickerLocked()
	var capture Capture
	if !m.stopping {
		// A stop in flight owns the device and releases it itself.
		capture = m.capture
	}
	m.capture = nil
	if m.state == practice.StateRecording || m.state == practice.StatePaused {
		m.state = practice.StateIdle
		m.duration = 0
	}
	m.stopping = false
	// Invalidate any stop still finalizing in the background.
	m.generation++
	m.listeners = make(map[int]func(Snapshot))
	m.mu.Unlock()

	if capture != nil {
		if err := capture.Release(); err != nil {
			return fmt.Errorf("release capture device: %w", err)
		}
	}
	log.Printf("[recorder] %s closed", m.opts.ID)
	return nil
}

// Snapshot returns the current observable state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, _ := m.snapshotLocked()
	return snap
}

// State returns the current state.
func (m *Machine) State() practice.RecordingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Duration returns the elapsed recording time in seconds.
func (m *Machine) Duration() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duration
}

// Audio returns the finalized blob, if any.
func (m *Machine) Audio() (practice.AudioBlob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blob == nil {
		return practice.AudioBlob{}, false
	}
	return *m.blob, true
}

// Result returns the latest transcription and analysis.
func (m *Machine) Result() Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result
}

// Subscribe registers fn for every state, duration or level change. fn runs
// outside the machine's lock and must not block. The returned func unsubscribes.
func (m *Machine) Subscribe(fn func(Snapshot)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Machine) checkLocked(allowed ...practice.RecordingState) error {
	if m.closed {
		return ErrClosed
	}
	if m.stopping {
		return fmt.Errorf("%w: recording is being finalized", ErrInvalidTransition)
	}
	for _, s := range allowed {
		if m.state == s {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot leave %s", ErrInvalidTransition, m.state)
}

func (m *Machine) stopTickerLocked() {
	if m.ticker != nil {
		m.ticker.Stop()
		m.ticker = nil
	}
	if m.tickDone != nil {
		close(m.tickDone)
		m.tickDone = nil
	}
}

func (m *Machine) tickLoop(t Ticker, done <-chan struct{}, gen uint64) {
	for {
		select {
		case <-done:
			return
		case <-t.C():
			m.tick(gen)
		}
	}
}

func (m *Machine) tick(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.state != practice.StateRecording || m.stopping || m.closed {
		m.mu.Unlock()
		return
	}
	if !m.opts.AutoStop && m.opts.MaxDuration > 0 && m.duration >= m.opts.MaxDuration {
		m.mu.Unlock()
		return
	}
	m.duration++

	if m.opts.AutoStop && m.opts.MaxDuration > 0 && m.duration >= m.opts.MaxDuration {
		m.duration = m.opts.MaxDuration
		capture, g := m.beginStopLocked()
		m.mu.Unlock()

		log.Printf("[recorder] %s reached max duration %ds, stopping", m.opts.ID, m.opts.MaxDuration)
		if err := m.finishStop(context.Background(), capture, g); err != nil && !errors.Is(err, ErrClosed) {
			log.Printf("[recorder] %s auto-stop failed: %v", m.opts.ID, err)
		}
		return
	}

	snap, listeners := m.snapshotLocked()
	m.mu.Unlock()
	notify(listeners, snap)
}

func (m *Machine) levelLoop(levels <-chan float64, gen uint64) {
	if levels == nil {
		return
	}
	for lvl := range levels {
		m.mu.Lock()
		if gen != m.generation || m.closed {
			m.mu.Unlock()
			return
		}
		if m.state != practice.StateRecording || m.stopping {
			m.mu.Unlock()
			continue
		}
		m.level = lvl
		snap, listeners := m.snapshotLocked()
		m.mu.Unlock()
		notify(listeners, snap)
	}
}

func (m *Machine) snapshotLocked() (Snapshot, []func(Snapshot)) {
	snap := Snapshot{
		ID:          m.opts.ID,
		State:       m.state,
		Duration:    m.duration,
		MaxDuration: m.opts.MaxDuration,
		Level:       m.level,
		PlaybackID:  m.playbackID,
		Closed:      m.closed,
	}
	if m.blob != nil {
		snap.MIMEType = m.blob.MIMEType
	}

	listeners := make([]func(Snapshot), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	return snap, listeners
}

func notify(listeners []func(Snapshot), snap Snapshot) {
	for _, fn := range listeners {
		fn(snap)
	}
}
