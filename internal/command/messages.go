package command

import (
	"fmt"
	"strings"
)

// Control tokens recognized in the meeting chat
const (
	StartCommand = "START"
	PauseCommand = "PAUSE"
	EndCommand   = "END"
)

// IdentityPrefix starts every display name the scribe joins under
const IdentityPrefix = "Scribe"

// Identity returns the display name the scribe uses in a meeting
func Identity(scribeName string) string {
	if strings.TrimSpace(scribeName) == "" {
		return IdentityPrefix
	}
	return fmt.Sprintf("%s [%s]", IdentityPrefix, scribeName)
}

// IntroMessages is sent once after admission, before anything is recorded
func IntroMessages(invitedBy []string) []string {
	intro := "Hello! I am an AI-assisted scribe."
	if who := joinNames(invitedBy); who != "" {
		intro = fmt.Sprintf("%s I was invited by %s.", intro, who)
	}
	return []string{
		intro,
		fmt.Sprintf(`If all other participants consent to my use, send "%s" in the chat `+
			`to start saving new speakers, messages, and machine-generated captions.`, StartCommand),
		fmt.Sprintf(`If you do not consent to my use, send "%s" in the chat `+
			`to remove me from this meeting.`, EndCommand),
	}
}

var (
	startMessages = []string{
		"Saving new speakers, messages, and machine-generated captions.",
		fmt.Sprintf(`Send "%s" in the chat to stop saving meeting details.`, PauseCommand),
	}
	pauseMessages = []string{
		"Not saving speakers, messages, or machine-generated captions.",
		fmt.Sprintf(`Send "%s" in the chat to start saving meeting details.`, StartCommand),
	}
	endMessages = []string{
		"Leaving the meeting.",
	}
)

// StartMessages acknowledges a START command
func StartMessages() []string { return clone(startMessages) }

// PauseMessages acknowledges a PAUSE command
func PauseMessages() []string { return clone(pauseMessages) }

// EndMessages acknowledges an END command
func EndMessages() []string { return clone(endMessages) }

func clone(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// joinNames renders "a", "a and b", or "a, b, and c"
func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	default:
		return strings.Join(names[:len(names)-1], ", ") + ", and " + names[len(names)-1]
	}
}
