package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// frameInterval is the amount of audio carried by one frame.
const frameInterval = 100 * time.Millisecond

// ReaderSource reads raw PCM16 from an io.Reader or a file path.
type ReaderSource struct {
	name     string
	path     string
	reader   io.Reader
	realtime bool

	mu   sync.Mutex
	file *os.File
}

// NewReaderSource wraps reader. With realtime set, frames are paced at the
// rate a live microphone would deliver them.
func NewReaderSource(name string, reader io.Reader, realtime bool) *ReaderSource {
	return &ReaderSource{name: name, reader: reader, realtime: realtime}
}

// NewFileSource reads PCM16 from path each time the source is started.
func NewFileSource(path string, realtime bool) *ReaderSource {
	return &ReaderSource{name: path, path: path, realtime: realtime}
}

func (s *ReaderSource) Name() string {
	if strings.TrimSpace(s.name) == "" {
		return "reader"
	}
	return s.name
}

func (s *ReaderSource) Start(ctx context.Context, c Constraints) (<-chan Frame, error) {
	reader := s.reader
	if s.path != "" {
		f, err := os.Open(s.path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoSource, err)
		}
		s.mu.Lock()
		s.file = f
		s.mu.Unlock()
		reader = f
	}
	if reader == nil {
		return nil, fmt.Errorf("%w: %s has no reader", ErrNoSource, s.Name())
	}

	format := c.Format()
	out := make(chan Frame, 32)
	go s.readLoop(ctx, reader, format, out)
	return out, nil
}

func (s *ReaderSource) readLoop(ctx context.Context, r io.Reader, format Format, out chan<- Frame) {
	defer close(out)

	chunk := format.SampleRate * format.Channels * 2 * int(frameInterval/time.Millisecond) / 1000
	if chunk <= 0 {
		chunk = 3200
	}

	var tick <-chan time.Time
	if s.realtime {
		ticker := time.NewTicker(frameInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	buf := make([]byte, chunk)
	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return
			case <-tick:
			}
		}

		n, err := io.ReadFull(r, buf)
		if n > 0 {
			frame := Frame{Data: append([]byte(nil), buf[:n]...), Format: format, Timestamp: time.Now()}
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *ReaderSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
