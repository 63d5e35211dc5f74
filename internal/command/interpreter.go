// Package command interprets in-meeting chat messages as recording controls.
package command

import (
	"strings"
	"unicode"

	"github.com/satriahrh/scribe/domain/entities"
)

// Decision is what the session should do about one chat message
type Decision struct {
	// Transition is the state to move to, empty when the state stays put.
	Transition entities.SessionState
	// Replies is the acknowledgement sequence to send for the transition.
	Replies []string
	// Record is the raw-message log line to keep, empty when nothing is kept.
	Record string
	// Attachment is set when the message carried a titled link worth keeping.
	AttachmentTitle string
	AttachmentURL   string
}

// Interpreter maps chat messages to session decisions. The caller passes the
// current session state on every call. The only thing remembered between
// calls is the last sender, since platforms omit the sender on follow-up
// lines. Not safe for concurrent use.
type Interpreter struct {
	identity   string
	system     map[string]struct{}
	lastSender string
}

// DefaultSystemSenders are platform accounts that post notices into the chat
func DefaultSystemSenders() []string {
	return []string{"Amazon Chime", "Webex", "Zoom"}
}

// NewInterpreter creates an interpreter that ignores messages sent under
// identity and by any of the system senders
func NewInterpreter(identity string, systemSenders ...string) *Interpreter {
	system := make(map[string]struct{}, len(systemSenders))
	for _, sender := range systemSenders {
		if sender = strings.TrimSpace(sender); sender != "" {
			system[strings.ToLower(sender)] = struct{}{}
		}
	}
	return &Interpreter{identity: identity, system: system}
}

// Interpret decides what message does to a session currently in state.
// Only live sessions react; END wins over PAUSE, which wins over START.
// A message without a sender continues the previous sender's message.
func (i *Interpreter) Interpret(state entities.SessionState, message entities.ChatMessage) Decision {
	message.Sender = i.resolveSender(message.Sender)
	if !state.IsLive() || message.Sender == "" || i.ignored(message.Sender) {
		return Decision{}
	}

	tokens := tokenize(message.Text)
	switch {
	case tokens[EndCommand]:
		return Decision{
			Transition: entities.SessionStateFinishing,
			Replies:    EndMessages(),
		}
	case tokens[PauseCommand] && state == entities.SessionStateRecording:
		return Decision{
			Transition: entities.SessionStatePaused,
			Replies:    PauseMessages(),
		}
	case tokens[StartCommand] && state == entities.SessionStatePaused:
		return Decision{
			Transition: entities.SessionStateRecording,
			Replies:    StartMessages(),
		}
	}

	if state != entities.SessionStateRecording {
		return Decision{}
	}
	return Decision{
		Record:          RawLine(message),
		AttachmentTitle: message.AttachmentTitle,
		AttachmentURL:   message.AttachmentURL,
	}
}

func (i *Interpreter) resolveSender(sender string) string {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return i.lastSender
	}
	i.lastSender = sender
	return sender
}

func (i *Interpreter) ignored(sender string) bool {
	if i.identity != "" && sender == i.identity {
		return true
	}
	if _, ok := i.system[strings.ToLower(sender)]; ok {
		return true
	}
	return strings.HasPrefix(sender, IdentityPrefix)
}

// RawLine renders a chat message for the raw-message log. An attachment is
// appended after the text, or stands alone when there is no text.
func RawLine(message entities.ChatMessage) string {
	body := strings.TrimSpace(message.Text)
	switch {
	case message.AttachmentTitle == "":
	case body == "":
		body = message.AttachmentTitle
	default:
		body += " | " + message.AttachmentTitle
	}
	return "[" + entities.ClockText(message.ReceivedAt) + "] " + message.Sender + ": " + body
}

// tokenize returns the upper-cased standalone words of text
func tokenize(text string) map[string]bool {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make(map[string]bool, len(words))
	for _, w := range words {
		tokens[strings.ToUpper(w)] = true
	}
	return tokens
}
