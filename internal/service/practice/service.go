package practice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-speak/backend/internal/capture"
	"github.com/zhouzirui/z-speak/backend/internal/model/practice"
	"github.com/zhouzirui/z-speak/backend/internal/model/question"
	"github.com/zhouzirui/z-speak/backend/internal/pipeline"
	"github.com/zhouzirui/z-speak/backend/internal/recorder"
)

var (
	ErrQuestionRequired = errors.New("question id is required")
	ErrSessionNotFound  = errors.New("session not found")
	ErrUnknownSource    = errors.New("unknown capture source")
	ErrNotPushSource    = errors.New("session does not accept streamed audio")
)

// Capture sources a session can be created with.
const (
	SourceBrowser    = "browser"
	SourceMicrophone = "microphone"
)

// AttemptStore persists finished attempts. It is optional.
type AttemptStore interface {
	InsertAttempt(ctx context.Context, a practice.Attempt) error
}

// Config 会话默认参数。
type Config struct {
	MaxDuration int
	AutoStop    bool
	Constraints capture.Constraints
	Encoders    []capture.Encoder
	FFmpeg      string
}

// Service keeps one recording state machine per practice session.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	questions question.Store
	processor recorder.Processor
	attempts  AttemptStore
	cfg       Config
}

// NewService bootstraps the in-memory session registry.
func NewService(questions question.Store, processor recorder.Processor, attempts AttemptStore, cfg Config) *Service {
	if cfg.Constraints == (capture.Constraints{}) {
		cfg.Constraints = capture.DefaultConstraints()
	}
	if cfg.FFmpeg == "" {
		cfg.FFmpeg = "ffmpeg"
	}
	return &Service{
		sessions:  make(map[string]*Session),
		questions: questions,
		processor: processor,
		attempts:  attempts,
		cfg:       cfg,
	}
}

// Session 一次练习：一道题、一个采集源、一台录音状态机。
type Session struct {
	ID         string
	QuestionID string
	Source     string
	CreatedAt  time.Time

	question practice.Question
	machine  *recorder.Machine
	push     *capture.PushSource
	events   *broadcaster
	unsub    func()
}

// View is the JSON shape of a session.
type View struct {
	ID         string            `json:"id"`
	QuestionID string            `json:"questionId"`
	Source     string            `json:"source"`
	CreatedAt  time.Time         `json:"createdAt"`
	Recorder   recorder.Snapshot `json:"recorder"`
	Result     recorder.Result   `json:"result"`
	Attached   bool              `json:"attached"`
}

// Event is pushed to SSE and websocket subscribers.
type Event struct {
	Type          string                        `json:"type"` // snapshot | transcription | analysis
	Snapshot      *recorder.Snapshot            `json:"snapshot,omitempty"`
	Transcription *practice.TranscriptionResult `json:"transcription,omitempty"`
	Analysis      *practice.AnswerAnalysis      `json:"analysis,omitempty"`
}

// CreateSession provisions a session for questionID using the named capture source.
func (s *Service) CreateSession(_ context.Context, questionID, source string) (*Session, error) {
	if questionID == "" {
		return nil, ErrQuestionRequired
	}
	q, ok := s.questions.FindByID(questionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", question.ErrNotFound, questionID)
	}
	if source == "" {
		source = SourceBrowser
	}

	sess := &Session{
		ID:         uuid.NewString(),
		QuestionID: q.ID,
		Source:     source,
		CreatedAt:  time.Now().UTC(),
		question:   q,
		events:     newBroadcaster(),
	}

	var src capture.Source
	switch source {
	case SourceBrowser:
		sess.push = capture.NewPushSource("browser-" + sess.ID[:8])
		src = sess.push
	case SourceMicrophone:
		src = capture.NewCommandSource(s.cfg.FFmpeg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}

	adapter := capture.NewAdapter(src, s.cfg.Constraints, s.cfg.Encoders...)
	acquire := func(ctx context.Context) (recorder.Capture, error) {
		rec, err := adapter.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return rec, nil
	}

	sess.machine = recorder.New(acquire, s.processor, recorder.Options{
		ID:          sess.ID,
		MaxDuration: s.cfg.MaxDuration,
		AutoStop:    s.cfg.AutoStop,
		OnTranscription: func(res practice.TranscriptionResult) {
			sess.events.publish(Event{Type: "transcription", Transcription: &res})
		},
		OnAnalysis: func(a practice.AnswerAnalysis) {
			sess.events.publish(Event{Type: "analysis", Analysis: &a})
		},
	})
	sess.unsub = sess.machine.Subscribe(func(snap recorder.Snapshot) {
		sess.events.publish(Event{Type: "snapshot", Snapshot: &snap})
	})

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	log.Printf("[practice] session %s created question=%s source=%s", sess.ID, q.ID, source)
	return sess, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// CloseSession tears the session down and forgets it.
func (s *Service) CloseSession(_ context.Context, id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	return sess.close()
}

// Shutdown closes every session.
func (s *Service) Shutdown() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for id, sess := range sessions {
		if err := sess.close(); err != nil {
			log.Printf("[practice] close session %s: %v", id, err)
		}
	}
}

// Start begins recording.
func (s *Service) Start(ctx context.Context, id string) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	// 录音的生命周期长于本次请求
	return sess.machine.Start(context.WithoutCancel(ctx))
}

// Pause pauses recording.
func (s *Service) Pause(ctx context.Context, id string) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	return sess.machine.Pause()
}

// Resume resumes a paused recording.
func (s *Service) Resume(ctx context.Context, id string) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	return sess.machine.Resume()
}

// Stop finalizes the recording.
func (s *Service) Stop(ctx context.Context, id string) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	return sess.machine.Stop(ctx)
}

// Reset discards the recording so the question can be answered again.
func (s *Service) Reset(ctx context.Context, id string) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	return sess.machine.Reset()
}

// Process runs transcription and analysis and waits for the outcome. The
// attempt is persisted whether or not processing succeeded.
func (s *Service) Process(ctx context.Context, id string) (pipeline.Outcome, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	// 远程调用不随请求取消
	ctx = context.WithoutCancel(ctx)

	outcome, err := sess.machine.Process(ctx, sess.question)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	s.saveAttempt(ctx, sess, outcome)
	return outcome, nil
}

// ProcessAsync checks the session can be processed and runs Process in the
// background. Results reach subscribers through events.
func (s *Service) ProcessAsync(ctx context.Context, id string) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if state := sess.machine.State(); state != practice.StateStopped {
		return fmt.Errorf("%w: cannot process from %s", recorder.ErrInvalidTransition, state)
	}
	if _, ok := sess.machine.Audio(); !ok {
		return recorder.ErrNoRecording
	}

	bg := context.WithoutCancel(ctx)
	go func() {
		if _, err := s.Process(bg, id); err != nil {
			log.Printf("[practice] session %s process: %v", id, err)
		}
	}()
	return nil
}

func (s *Service) saveAttempt(ctx context.Context, sess *Session, outcome pipeline.Outcome) {
	if s.attempts == nil {
		return
	}
	snap := sess.machine.Snapshot()
	attempt := practice.Attempt{
		ID:            uuid.NewString(),
		SessionID:     sess.ID,
		QuestionID:    sess.QuestionID,
		State:         snap.State,
		Duration:      snap.Duration,
		MIMEType:      snap.MIMEType,
		Succeeded:     outcome.Succeeded,
		Transcription: outcome.Transcription,
		Analysis:      outcome.Analysis,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.attempts.InsertAttempt(ctx, attempt); err != nil {
		log.Printf("[practice] save attempt for session %s: %v", sess.ID, err)
	}
}

// View returns the JSON view of the session.
func (sess *Session) View() View {
	attached := false
	if sess.push != nil {
		attached = sess.push.Attached()
	}
	return View{
		ID:         sess.ID,
		QuestionID: sess.QuestionID,
		Source:     sess.Source,
		CreatedAt:  sess.CreatedAt,
		Recorder:   sess.machine.Snapshot(),
		Result:     sess.machine.Result(),
		Attached:   attached,
	}
}

// Question returns the question being answered.
func (sess *Session) Question() practice.Question {
	return sess.question
}

// Audio returns the recorded blob once the session has stopped.
func (sess *Session) Audio() (practice.AudioBlob, bool) {
	return sess.machine.Audio()
}

// Subscribe streams session events until the returned func is called.
func (sess *Session) Subscribe() (<-chan Event, func()) {
	return sess.events.subscribe()
}

// AttachClient marks a streaming client as connected. Only browser sessions accept one.
func (sess *Session) AttachClient() error {
	if sess.push == nil {
		return ErrNotPushSource
	}
	sess.push.Attach()
	return nil
}

// DetachClient marks the streaming client as gone.
func (sess *Session) DetachClient() {
	if sess.push != nil {
		sess.push.Detach()
	}
}

// PushAudio forwards one PCM16 chunk from the client. It reports whether the
// chunk was accepted by a running capture.
func (sess *Session) PushAudio(data []byte) bool {
	if sess.push == nil {
		return false
	}
	return sess.push.Push(data)
}

func (sess *Session) close() error {
	if sess.unsub != nil {
		sess.unsub()
	}
	err := sess.machine.Close()
	if sess.push != nil {
		_ = sess.push.Close()
	}
	sess.events.close()
	log.Printf("[practice] session %s closed", sess.ID)
	return err
}
