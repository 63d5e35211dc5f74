package repositories

import (
	"context"

	"github.com/satriahrh/scribe/domain/entities"
)

// JoinCredentials identify the meeting and the name the scribe joins under
type JoinCredentials struct {
	Platform    entities.Platform
	MeetingID   string
	Password    string
	DisplayName string
}

// Admission is the outcome of a join attempt
type Admission string

const (
	AdmissionAdmitted Admission = "admitted"
	AdmissionRejected Admission = "rejected"
)

// MeetingPlatform is the black-box adapter for one meeting platform session.
// Callbacks must be registered before Join and may be invoked from any goroutine.
type MeetingPlatform interface {
	Join(ctx context.Context, creds JoinCredentials) (Admission, error)
	SendMessage(ctx context.Context, text string) error
	// OnSpeakerChange receives events stamped when the platform observed
	// them; a zero Timestamp means arrival time.
	OnSpeakerChange(func(event entities.SpeakerEvent))
	OnChatMessage(func(message entities.ChatMessage))
	// OnMeetingEnd receives nil when the meeting ended normally and the
	// adapter error otherwise.
	OnMeetingEnd(func(err error))
	Leave(ctx context.Context) error
}

// PlatformFactory opens a fresh adapter for one session
type PlatformFactory interface {
	Open(ctx context.Context, invite *entities.Invite) (MeetingPlatform, error)
}
