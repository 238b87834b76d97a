package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"
)

// CommandSource captures a local microphone through an ffmpeg subprocess that
// writes raw PCM16 to stdout.
type CommandSource struct {
	Binary      string
	InputFormat string // ffmpeg -f value, e.g. alsa, pulse, avfoundation
	Input       string // ffmpeg -i value, e.g. default or :0

	mu     sync.Mutex
	cmd    *exec.Cmd
	cancel context.CancelFunc
	waited chan struct{}
	stderr bytes.Buffer
}

// NewCommandSource returns a source using the platform's default input device.
func NewCommandSource(binary string) *CommandSource {
	if binary == "" {
		binary = "ffmpeg"
	}
	format, input := defaultInput()
	return &CommandSource{Binary: binary, InputFormat: format, Input: input}
}

func defaultInput() (string, string) {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation", ":0"
	case "windows":
		return "dshow", "audio=default"
	default:
		return "pulse", "default"
	}
}

func (s *CommandSource) Name() string {
	return fmt.Sprintf("%s:%s", s.InputFormat, s.Input)
}

// Args builds the ffmpeg command line for the given constraints.
func (s *CommandSource) Args(c Constraints) []string {
	c = c.normalized()
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	if s.InputFormat != "" {
		args = append(args, "-f", s.InputFormat)
	}
	args = append(args, "-i", s.Input)

	if filters := audioFilters(c); filters != "" {
		args = append(args, "-af", filters)
	}

	args = append(args,
		"-ac", fmt.Sprint(c.Channels),
		"-ar", fmt.Sprint(c.SampleRate),
		"-f", "s16le",
		"pipe:1",
	)
	return args
}

// audioFilters maps browser-style processing flags onto ffmpeg filters.
// ffmpeg has no acoustic echo canceller; a high-pass filter removes the
// low-frequency rumble that feeds back through laptop speakers.
func audioFilters(c Constraints) string {
	var filters []string
	if c.EchoCancellation {
		filters = append(filters, "highpass=f=100")
	}
	if c.NoiseSuppression {
		filters = append(filters, "afftdn")
	}
	if c.AutoGainControl {
		filters = append(filters, "dynaudnorm")
	}
	return strings.Join(filters, ",")
}

func (s *CommandSource) Start(ctx context.Context, c Constraints) (<-chan Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return nil, fmt.Errorf("%s is already capturing", s.Name())
	}
	if _, err := exec.LookPath(s.Binary); err != nil {
		return nil, fmt.Errorf("%w: %s not found: %v", ErrNoSource, s.Binary, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, s.Binary, s.Args(c)...)
	s.stderr.Reset()
	cmd.Stderr = &s.stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: start ffmpeg: %v", ErrNoSource, err)
	}

	s.cmd = cmd
	s.cancel = cancel
	s.waited = make(chan struct{})

	format := c.Format()
	out := make(chan Frame, 32)
	go s.readLoop(runCtx, stdout, format, out, s.waited)
	return out, nil
}

func (s *CommandSource) readLoop(ctx context.Context, stdout io.Reader, format Format, out chan<- Frame, waited chan struct{}) {
	defer close(waited)
	defer close(out)

	chunk := format.SampleRate * format.Channels * 2 / 10
	buf := make([]byte, chunk)
	for {
		n, err := io.ReadFull(stdout, buf)
		if n > 0 {
			frame := Frame{Data: append([]byte(nil), buf[:n]...), Format: format, Timestamp: time.Now()}
			select {
			case out <- frame:
			case <-ctx.Done():
			}
		}
		if err != nil {
			break
		}
	}

	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil {
		return
	}
	if err := cmd.Wait(); err != nil && ctx.Err() == nil {
		log.Printf("[capture] ffmpeg exited: %v: %s", err, strings.TrimSpace(s.stderr.String()))
	}
}

func (s *CommandSource) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	waited := s.waited
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	var err error
	select {
	case <-waited:
	case <-time.After(drainTimeout):
		err = errors.New("ffmpeg did not exit after cancel")
	}

	s.mu.Lock()
	s.cmd = nil
	s.waited = nil
	s.mu.Unlock()
	return err
}
