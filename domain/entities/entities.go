package entities

import (
	"errors"
	"strings"
	"time"
)

// Platform identifies the meeting provider an invite points at
type Platform string

const (
	PlatformChime Platform = "chime"
	PlatformWebex Platform = "webex"
	PlatformZoom  Platform = "zoom"
)

// InviteStatus is the lifecycle status written back to the invite store
type InviteStatus string

const (
	InviteStatusCreated   InviteStatus = "created"
	InviteStatusScheduled InviteStatus = "scheduled"
	InviteStatusJoining   InviteStatus = "joining"
	InviteStatusRunning   InviteStatus = "running"
	InviteStatusFinishing InviteStatus = "finishing"
	InviteStatusFinished  InviteStatus = "finished"
	InviteStatusFailed    InviteStatus = "failed"
)

// Invite represents one scheduled meeting the scribe should attend
type Invite struct {
	ID           string       `json:"id" bson:"_id"`
	Name         string       `json:"name" bson:"name"`
	Platform     Platform     `json:"platform" bson:"platform"`
	MeetingID    string       `json:"meeting_id" bson:"meeting_id"`
	Password     string       `json:"password,omitempty" bson:"password,omitempty"`
	MeetingTime  int64        `json:"meeting_time" bson:"meeting_time"` // epoch seconds
	Participants []string     `json:"participants" bson:"participants"`
	Status       InviteStatus `json:"status" bson:"status"`
	ScribeName   string       `json:"scribe_name,omitempty" bson:"scribe_name,omitempty"`
	CreatedAt    time.Time    `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" bson:"updated_at"`
}

// StartTime returns the scheduled meeting start
func (i *Invite) StartTime() time.Time {
	return time.Unix(i.MeetingTime, 0)
}

// Validate checks the fields a session needs to join the meeting
func (i *Invite) Validate() error {
	if i.ID == "" {
		return errors.New("invite id is required")
	}
	switch i.Platform {
	case PlatformChime, PlatformWebex, PlatformZoom:
	default:
		return errors.New("unsupported platform")
	}
	if strings.TrimSpace(i.MeetingID) == "" {
		return errors.New("meeting id is required")
	}
	if i.MeetingTime <= 0 {
		return errors.New("meeting time is required")
	}
	return nil
}

// ChangeType is the kind of invite change delivered by the change feed
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeRemove ChangeType = "remove"
)

// InviteChange is one record of the invite change feed. Invite is nil for removals.
type InviteChange struct {
	Type     ChangeType `json:"type"`
	InviteID string     `json:"invite_id"`
	Invite   *Invite    `json:"invite,omitempty"`
}

// ScheduledLaunch is a deferred session launch keyed by invite id
type ScheduledLaunch struct {
	InviteID string    `json:"invite_id"`
	FireTime time.Time `json:"fire_time"`
	Payload  []byte    `json:"payload,omitempty"`
}
