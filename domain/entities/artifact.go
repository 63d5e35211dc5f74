package entities

import (
	"strings"
	"time"
)

// EndReason explains why a session left the meeting
type EndReason string

const (
	EndReasonCommand     EndReason = "end_command"
	EndReasonMeetingEnd  EndReason = "meeting_ended"
	EndReasonAdapter     EndReason = "adapter_failure"
	EndReasonTimeout     EndReason = "meeting_timeout"
	EndReasonShutdown    EndReason = "shutdown"
	EndReasonNotAdmitted EndReason = "not_admitted"
)

// Summary is the generated digest of a meeting
type Summary struct {
	Title       string   `json:"title" bson:"title"`
	Summary     string   `json:"summary" bson:"summary"`
	ActionItems []string `json:"action_items" bson:"action_items"`
}

// Artifact is everything a finished session hands to delivery
type Artifact struct {
	SessionID    string            `json:"session_id" bson:"_id"`
	InviteID     string            `json:"invite_id" bson:"invite_id"`
	MeetingName  string            `json:"meeting_name" bson:"meeting_name"`
	Platform     Platform          `json:"platform" bson:"platform"`
	Participants []string          `json:"participants" bson:"participants"`
	Attendees    []string          `json:"attendees" bson:"attendees"`
	Captions     []Caption         `json:"captions" bson:"captions"`
	RawMessages  []string          `json:"raw_messages" bson:"raw_messages"`
	Attachments  map[string]string `json:"attachments" bson:"attachments"`
	Summary      Summary           `json:"summary" bson:"summary"`
	Files        map[string]string `json:"files,omitempty" bson:"files,omitempty"`
	StartedAt    time.Time         `json:"started_at" bson:"started_at"`
	EndedAt      time.Time         `json:"ended_at" bson:"ended_at"`
	EndReason    EndReason         `json:"end_reason" bson:"end_reason"`
}

// Empty reports whether nothing was saved during the meeting
func (a *Artifact) Empty() bool {
	return len(a.Captions) == 0 && len(a.RawMessages) == 0
}

// Transcript renders the caption log, one line per caption
func (a *Artifact) Transcript() string {
	lines := make([]string, 0, len(a.Captions))
	for _, c := range a.Captions {
		lines = append(lines, c.Line())
	}
	return strings.Join(lines, "\n")
}

// Chat renders the raw message log
func (a *Artifact) Chat() string {
	return strings.Join(a.RawMessages, "\n")
}
