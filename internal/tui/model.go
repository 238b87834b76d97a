// Package tui is the terminal client: pick a question, record an answer from
// the microphone and read the feedback.
package tui

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/zhouzirui/z-speak/backend/internal/model/practice"
	"github.com/zhouzirui/z-speak/backend/internal/recorder"
	practiceService "github.com/zhouzirui/z-speak/backend/internal/service/practice"
)

// Controller is the part of the practice service the terminal drives.
type Controller interface {
	CreateSession(ctx context.Context, questionID, source string) (*practiceService.Session, error)
	CloseSession(ctx context.Context, id string) error
	Start(ctx context.Context, id string) error
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Reset(ctx context.Context, id string) error
	ProcessAsync(ctx context.Context, id string) error
}

type screen int

const (
	screenQuestions screen = iota
	screenPractice
)

// Model is the root bubbletea model.
type Model struct {
	ctx    context.Context
	ctl    Controller
	source string

	questions []practice.Question
	cursor    int
	screen    screen
	initialID string

	// Current session
	sessionID     string
	question      practice.Question
	events        <-chan practiceService.Event
	unsubscribe   func()
	snapshot      recorder.Snapshot
	transcription *practice.TranscriptionResult
	analysis      *practice.AnswerAnalysis
	busy          string
	spinner       spinner.Model

	errorMessage string
	width        int
	height       int
}

// New creates the model. When questionID is set the session for it opens
// immediately instead of showing the question list.
func New(ctx context.Context, ctl Controller, questions []practice.Question, source, questionID string) Model {
	if source == "" {
		source = practiceService.SourceMicrophone
	}
	return Model{
		ctx:       ctx,
		ctl:       ctl,
		source:    source,
		questions: questions,
		initialID: questionID,
		screen:    screenQuestions,
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(warnStyle)),
	}
}

// Init opens the preselected question, if any.
func (m Model) Init() tea.Cmd {
	if m.initialID == "" {
		return nil
	}
	return openSessionCmd(m.ctx, m.ctl, m.initialID, m.source)
}

func openSessionCmd(ctx context.Context, ctl Controller, questionID, source string) tea.Cmd {
	return func() tea.Msg {
		sess, err := ctl.CreateSession(ctx, questionID, source)
		if err != nil {
			return SessionErrorMsg{Err: err}
		}
		events, unsubscribe := sess.Subscribe()
		return SessionOpenedMsg{Session: sess, Events: events, Unsubscribe: unsubscribe}
	}
}

// waitForEvent reads the next session event.
func waitForEvent(sessionID string, events <-chan practiceService.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return EventsClosedMsg{SessionID: sessionID}
		}
		return EventMsg{SessionID: sessionID, Event: ev}
	}
}

func actionCmd(action string, run func() error) tea.Cmd {
	return func() tea.Msg {
		return ActionDoneMsg{Action: action, Err: run()}
	}
}

func closeSessionCmd(ctx context.Context, ctl Controller, id string) tea.Cmd {
	return func() tea.Msg {
		if err := ctl.CloseSession(ctx, id); err != nil && !errors.Is(err, practiceService.ErrSessionNotFound) {
			return ActionDoneMsg{Action: "close", Err: err}
		}
		return nil
	}
}

// clearErrorCmd fires after a delay to clear transient errors.
func clearErrorCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return ClearErrorMsg{}
	})
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case SessionOpenedMsg:
		m.sessionID = msg.Session.ID
		m.question = msg.Session.Question()
		m.events = msg.Events
		m.unsubscribe = msg.Unsubscribe
		m.snapshot = msg.Session.View().Recorder
		m.transcription = nil
		m.analysis = nil
		m.busy = ""
		m.screen = screenPractice
		return m, waitForEvent(m.sessionID, msg.Events)

	case SessionErrorMsg:
		m.errorMessage = msg.Err.Error()
		return m, clearErrorCmd()

	case EventMsg:
		if msg.SessionID != m.sessionID {
			return m, nil
		}
		wasProcessing := m.snapshot.State == practice.StateProcessing
		m.applyEvent(msg.Event)
		// 每个会话只保留一个挂起的读取
		next := waitForEvent(m.sessionID, m.events)
		if !wasProcessing && m.snapshot.State == practice.StateProcessing {
			return m, tea.Batch(next, m.spinner.Tick)
		}
		return m, next

	case spinner.TickMsg:
		// 处理结束后不再续订，动画自然停止
		if m.snapshot.State != practice.StateProcessing {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case EventsClosedMsg:
		return m, nil

	case ActionDoneMsg:
		if m.busy == msg.Action {
			m.busy = ""
		}
		if msg.Err != nil {
			m.errorMessage = msg.Action + ": " + msg.Err.Error()
			return m, clearErrorCmd()
		}
		return m, nil

	case ClearErrorMsg:
		m.errorMessage = ""
		return m, nil
	}
	return m, nil
}

func (m *Model) applyEvent(ev practiceService.Event) {
	switch ev.Type {
	case "snapshot":
		if ev.Snapshot != nil {
			m.snapshot = *ev.Snapshot
			if m.snapshot.State == practice.StateIdle {
				m.transcription = nil
				m.analysis = nil
			}
		}
	case "transcription":
		m.transcription = ev.Transcription
	case "analysis":
		m.analysis = ev.Analysis
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == KeyCtrlC || key == KeyQuit {
		return m, m.quit()
	}
	if m.screen == screenQuestions {
		return m.handleListKey(key)
	}
	return m.handlePracticeKey(key)
}

func (m Model) quit() tea.Cmd {
	if m.sessionID == "" {
		return tea.Quit
	}
	return tea.Sequence(closeSessionCmd(m.ctx, m.ctl, m.sessionID), tea.Quit)
}

func (m Model) handleListKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case KeyUp, KeyK:
		if m.cursor > 0 {
			m.cursor--
		}
	case KeyDown, KeyJ:
		if m.cursor < len(m.questions)-1 {
			m.cursor++
		}
	case KeyEnter:
		if len(m.questions) == 0 {
			return m, nil
		}
		return m, openSessionCmd(m.ctx, m.ctl, m.questions[m.cursor].ID, m.source)
	}
	return m, nil
}

func (m Model) handlePracticeKey(key string) (tea.Model, tea.Cmd) {
	if m.busy != "" {
		return m, nil
	}
	id := m.sessionID
	ctx := m.ctx

	run := func(action string, fn func(context.Context, string) error) (tea.Model, tea.Cmd) {
		m.busy = action
		m.errorMessage = ""
		return m, actionCmd(action, func() error { return fn(ctx, id) })
	}

	state := m.snapshot.State
	switch key {
	case KeySpace:
		switch state {
		case practice.StateIdle:
			return run("start", m.ctl.Start)
		case practice.StateRecording:
			return run("pause", m.ctl.Pause)
		case practice.StatePaused:
			return run("resume", m.ctl.Resume)
		}
	case KeyStop:
		if state == practice.StateRecording || state == practice.StatePaused {
			return run("stop", m.ctl.Stop)
		}
	case KeySubmit:
		if state == practice.StateStopped {
			return run("process", m.ctl.ProcessAsync)
		}
	case KeyRetry:
		if state == practice.StateStopped || state == practice.StateCompleted {
			return run("reset", m.ctl.Reset)
		}
	case KeyEsc:
		if state.Active() {
			return m, nil
		}
		cmd := closeSessionCmd(ctx, m.ctl, id)
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		m.sessionID = ""
		m.events = nil
		m.unsubscribe = nil
		m.screen = screenQuestions
		m.transcription = nil
		m.analysis = nil
		return m, cmd
	}
	return m, nil
}
