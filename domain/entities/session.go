package entities

import "time"

// SessionState is the authoritative state of one scribe session
type SessionState string

const (
	SessionStateWaiting   SessionState = "waiting"
	SessionStateJoining   SessionState = "joining"
	SessionStateRecording SessionState = "recording"
	SessionStatePaused    SessionState = "paused"
	SessionStateFinishing SessionState = "finishing"
	SessionStateFinished  SessionState = "finished"
)

var sessionTransitions = map[SessionState][]SessionState{
	SessionStateWaiting:   {SessionStateJoining},
	SessionStateJoining:   {SessionStatePaused, SessionStateRecording, SessionStateFinished},
	SessionStateRecording: {SessionStatePaused, SessionStateFinishing},
	SessionStatePaused:    {SessionStateRecording, SessionStateFinishing},
	SessionStateFinishing: {SessionStateFinished},
}

// CanTransitionTo reports whether moving from s to next is a legal transition.
// Same-state moves are not transitions.
func (s SessionState) CanTransitionTo(next SessionState) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsLive reports whether the scribe is inside the meeting
func (s SessionState) IsLive() bool {
	return s == SessionStateRecording || s == SessionStatePaused
}

// IsTerminal reports whether no transition leaves s
func (s SessionState) IsTerminal() bool {
	return s == SessionStateFinished
}

// SessionSnapshot is a read-only view of a running session
type SessionSnapshot struct {
	SessionID   string       `json:"session_id"`
	InviteID    string       `json:"invite_id"`
	MeetingName string       `json:"meeting_name"`
	Platform    Platform     `json:"platform"`
	State       SessionState `json:"state"`
	Captions    int          `json:"captions"`
	Messages    int          `json:"messages"`
	Speakers    int          `json:"speakers"`
	StartedAt   time.Time    `json:"started_at"`
}
