package capture

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// PushSource receives PCM frames pushed by a remote client, typically the
// browser over a WebSocket. Acquisition fails while no client is attached.
type PushSource struct {
	name string

	mu       sync.Mutex
	attached bool
	out      chan Frame
	format   Format
}

// NewPushSource creates a source with no client attached.
func NewPushSource(name string) *PushSource {
	return &PushSource{name: name}
}

func (s *PushSource) Name() string {
	if strings.TrimSpace(s.name) == "" {
		return "push"
	}
	return s.name
}

// Attach marks a client as connected.
func (s *PushSource) Attach() {
	s.mu.Lock()
	s.attached = true
	s.mu.Unlock()
}

// Detach marks the client as gone. A running capture stays open so a
// reconnecting client keeps feeding the same recording; it ends with its
// context or Close.
func (s *PushSource) Detach() {
	s.mu.Lock()
	s.attached = false
	s.mu.Unlock()
}

// Attached reports whether a client is connected.
func (s *PushSource) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

func (s *PushSource) Start(ctx context.Context, c Constraints) (<-chan Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.attached {
		return nil, fmt.Errorf("%w: no client connected to %s", ErrNoSource, s.Name())
	}
	if s.out != nil {
		return nil, fmt.Errorf("%s is already capturing", s.Name())
	}

	s.format = c.Format()
	out := make(chan Frame, 64)
	s.out = out

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if s.out == out {
			s.closeLocked()
		}
		s.mu.Unlock()
	}()

	return out, nil
}

// Push delivers one chunk of PCM16 audio. It reports false when nothing is
// capturing or the buffer is full.
func (s *PushSource) Push(data []byte) bool {
	if len(data) == 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return false
	}

	frame := Frame{Data: append([]byte(nil), data...), Format: s.format, Timestamp: time.Now()}
	select {
	case s.out <- frame:
		return true
	default:
		return false
	}
}

func (s *PushSource) Close() error {
	s.mu.Lock()
	s.closeLocked()
	s.mu.Unlock()
	return nil
}

func (s *PushSource) closeLocked() {
	if s.out != nil {
		close(s.out)
		s.out = nil
	}
}
