package platform

import (
	"encoding/json"
	"fmt"
	"time"
)

// FrameType defines the type of a bridge text frame
type FrameType string

// Frames sent to the sidecar
const (
	FrameJoin        FrameType = "join"
	FrameSendMessage FrameType = "send_message"
	FrameLeave       FrameType = "leave"
)

// Frames received from the sidecar. Meeting audio arrives as binary frames.
const (
	FrameAdmitted      FrameType = "admitted"
	FrameRejected      FrameType = "rejected"
	FrameSpeakerChange FrameType = "speaker_change"
	FrameChatMessage   FrameType = "chat_message"
	FrameMeetingEnd    FrameType = "meeting_end"
	FrameError         FrameType = "error"
)

// BaseFrame defines the common structure for all bridge frames
type BaseFrame struct {
	Type      FrameType `json:"type"`
	Timestamp string    `json:"timestamp,omitempty"`
}

// JoinFrame asks the sidecar to open the meeting and request admission
type JoinFrame struct {
	BaseFrame
	Platform    string `json:"platform"`
	MeetingID   string `json:"meeting_id"`
	Password    string `json:"password,omitempty"`
	DisplayName string `json:"display_name"`
}

// SendMessageFrame posts text into the meeting chat
type SendMessageFrame struct {
	BaseFrame
	Text string `json:"text"`
}

// EventFrame is any frame the sidecar sends; unused fields stay empty
type EventFrame struct {
	BaseFrame
	Name            string `json:"name,omitempty"`
	Sender          string `json:"sender,omitempty"`
	Text            string `json:"text,omitempty"`
	AttachmentTitle string `json:"attachment_title,omitempty"`
	AttachmentURL   string `json:"attachment_url,omitempty"`
	Code            string `json:"error_code,omitempty"`
	Message         string `json:"message,omitempty"`
}

func newBase(t FrameType, now time.Time) BaseFrame {
	return BaseFrame{Type: t, Timestamp: now.UTC().Format(time.RFC3339)}
}

// parseEvent decodes a sidecar frame and checks it carries a type
func parseEvent(data []byte) (EventFrame, error) {
	var frame EventFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return EventFrame{}, fmt.Errorf("failed to parse frame: %w", err)
	}
	if frame.Type == "" {
		return EventFrame{}, fmt.Errorf("frame missing type field")
	}
	return frame, nil
}

// eventTime reads the frame timestamp, falling back to now
func (f EventFrame) eventTime(now time.Time) time.Time {
	if f.Timestamp == "" {
		return now
	}
	t, err := time.Parse(time.RFC3339Nano, f.Timestamp)
	if err != nil {
		return now
	}
	return t
}
