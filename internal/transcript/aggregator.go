// Package transcript turns finalized recognition results and speaker-change
// events into an append-only, speaker-attributed caption log.
//
// An Aggregator is not safe for concurrent use. It is owned by the session
// goroutine, which serializes every speaker event and recognition result
// through it.
package transcript

import (
	"sort"
	"strings"
	"time"

	"github.com/satriahrh/scribe/domain/entities"
)

// Aggregator attributes recognized words to speakers and builds captions
type Aggregator struct {
	streamStart time.Time
	speakers    []entities.SpeakerEvent
	captions    []entities.Caption

	attendees []string
	seen      map[string]struct{}
}

// New creates an empty aggregator. Start must be called once the audio
// stream is open so word offsets can be turned into instants.
func New() *Aggregator {
	return &Aggregator{
		seen: make(map[string]struct{}),
	}
}

// Start sets the instant the recognizer's offsets are relative to
func (a *Aggregator) Start(streamStart time.Time) {
	a.streamStart = streamStart
}

// StreamStart returns the instant set by Start
func (a *Aggregator) StreamStart() time.Time {
	return a.streamStart
}

// AddSpeaker records a speaker change. Events are kept ordered by timestamp;
// an event sharing a timestamp with earlier ones is placed after them so the
// most recently appended one wins.
func (a *Aggregator) AddSpeaker(name string, at time.Time) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}

	a.markAttendee(name)

	event := entities.SpeakerEvent{Name: name, Timestamp: at}
	idx := sort.Search(len(a.speakers), func(i int) bool {
		return a.speakers[i].Timestamp.After(at)
	})
	if idx == len(a.speakers) {
		a.speakers = append(a.speakers, event)
		return
	}
	a.speakers = append(a.speakers, entities.SpeakerEvent{})
	copy(a.speakers[idx+1:], a.speakers[idx:])
	a.speakers[idx] = event
}

// SpeakerAt returns the speaker active at t: the last event whose timestamp
// is at or before t, or UnknownSpeaker when none precedes it.
func (a *Aggregator) SpeakerAt(t time.Time) string {
	idx := sort.Search(len(a.speakers), func(i int) bool {
		return a.speakers[i].Timestamp.After(t)
	})
	if idx == 0 {
		return entities.UnknownSpeaker
	}
	return a.speakers[idx-1].Name
}

// Apply folds one recognition result into the caption log and returns the
// number of tokens that changed it. Partial results are ignored.
func (a *Aggregator) Apply(result entities.RecognitionResult) int {
	if result.IsPartial {
		return 0
	}

	applied := 0
	for _, item := range result.Items {
		switch item.Type {
		case entities.ItemTypeWord:
			a.appendWord(item)
			applied++
		case entities.ItemTypePunctuation:
			if a.appendPunctuation(item) {
				applied++
			}
		}
	}
	return applied
}

func (a *Aggregator) appendWord(item entities.TranscriptItem) {
	at := a.streamStart.Add(item.StartOffset)
	speaker := a.SpeakerAt(at)

	if n := len(a.captions); n > 0 && a.captions[n-1].Speaker == speaker {
		a.captions[n-1].Text += " " + item.Text
		return
	}

	// Results are assumed to finalize in order. Clamp so a late result cannot
	// place a caption before the one it follows.
	if n := len(a.captions); n > 0 && at.Before(a.captions[n-1].Timestamp) {
		at = a.captions[n-1].Timestamp
	}

	a.captions = append(a.captions, entities.Caption{
		Speaker:       speaker,
		Timestamp:     at,
		TimestampText: entities.ClockText(at),
		Text:          item.Text,
	})
}

func (a *Aggregator) appendPunctuation(item entities.TranscriptItem) bool {
	n := len(a.captions)
	if n == 0 {
		return false
	}
	a.captions[n-1].Text += item.Text
	return true
}

func (a *Aggregator) markAttendee(speaker string) {
	if _, ok := a.seen[speaker]; ok {
		return
	}
	a.seen[speaker] = struct{}{}
	a.attendees = append(a.attendees, speaker)
}

// Captions returns a copy of the caption log
func (a *Aggregator) Captions() []entities.Caption {
	out := make([]entities.Caption, len(a.captions))
	copy(out, a.captions)
	return out
}

// Len returns the number of captions produced so far
func (a *Aggregator) Len() int {
	return len(a.captions)
}

// Attendees returns the distinct speaker names in order of first appearance
func (a *Aggregator) Attendees() []string {
	out := make([]string, len(a.attendees))
	copy(out, a.attendees)
	return out
}
