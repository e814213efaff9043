// Package events defines the typed events a call orchestrator consumes.
// Every producer (media stream, speech recognition, playback marks)
// funnels into the same intake so a call's events can be processed
// strictly in arrival order.
package events

import "time"

type Kind string

const (
	KindStreamStarted        Kind = "stream-started"
	KindStreamStopped        Kind = "stream-stopped"
	KindMediaFrame           Kind = "media-frame"
	KindMarkPlayed           Kind = "mark-played"
	KindTranscription        Kind = "transcription"
	KindInterimTranscription Kind = "interim-transcription"
)

type Event interface {
	Kind() Kind
	Timestamp() time.Time
}

type Base struct {
	kind      Kind
	timestamp time.Time
}

func NewBase(kind Kind) Base {
	return Base{kind: kind, timestamp: time.Now()}
}

func (b Base) Kind() Kind {
	return b.kind
}

func (b Base) Timestamp() time.Time {
	return b.timestamp
}
