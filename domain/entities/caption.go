package entities

import (
	"fmt"
	"time"
)

// UnknownSpeaker is attributed to words spoken before any speaker event
const UnknownSpeaker = "Unknown"

// SpeakerEvent records that Name became the active speaker at Timestamp
type SpeakerEvent struct {
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

// ItemType distinguishes recognized words from punctuation
type ItemType string

const (
	ItemTypeWord        ItemType = "word"
	ItemTypePunctuation ItemType = "punctuation"
)

// TranscriptItem is one recognized token
type TranscriptItem struct {
	Text         string        `json:"text"`
	Type         ItemType      `json:"type"`
	StartOffset  time.Duration `json:"start_offset"`
	SpeakerLabel string        `json:"speaker_label,omitempty"`
}

// RecognitionResult groups the tokens of one recognizer result event
type RecognitionResult struct {
	Items     []TranscriptItem `json:"items"`
	IsPartial bool             `json:"is_partial"`
}

// Caption is one attributed utterance
type Caption struct {
	Speaker       string    `json:"speaker" bson:"speaker"`
	Timestamp     time.Time `json:"timestamp" bson:"timestamp"`
	TimestampText string    `json:"timestamp_text" bson:"timestamp_text"`
	Text          string    `json:"text" bson:"text"`
}

func (c Caption) String() string {
	return fmt.Sprintf("%s: %s", c.Speaker, c.Text)
}

// Line renders the caption as a transcript line
func (c Caption) Line() string {
	return fmt.Sprintf("[%s] %s: %s", c.TimestampText, c.Speaker, c.Text)
}

// ClockText formats t the way transcript and chat lines show it
func ClockText(t time.Time) string {
	return t.Format("15:04")
}

// ChatMessage is one message observed in the meeting chat
type ChatMessage struct {
	Sender          string    `json:"sender"`
	Text            string    `json:"text"`
	AttachmentTitle string    `json:"attachment_title,omitempty"`
	AttachmentURL   string    `json:"attachment_url,omitempty"`
	ReceivedAt      time.Time `json:"received_at"`
}
