package tui

import practiceService "github.com/zhouzirui/z-speak/backend/internal/service/practice"

// SessionOpenedMsg is sent once a practice session exists for the selected question.
type SessionOpenedMsg struct {
	Session     *practiceService.Session
	Events      <-chan practiceService.Event
	Unsubscribe func()
}

// SessionErrorMsg is sent when a session could not be created.
type SessionErrorMsg struct {
	Err error
}

// EventMsg wraps one event streamed from the session.
type EventMsg struct {
	SessionID string
	Event     practiceService.Event
}

// EventsClosedMsg signals that the session event stream ended.
type EventsClosedMsg struct {
	SessionID string
}

// ActionDoneMsg carries the result of a recorder action.
type ActionDoneMsg struct {
	Action string
	Err    error
}

// ClearErrorMsg clears a transient error after a timeout.
type ClearErrorMsg struct{}
