package events

// StreamStartedEvent signals that the provider media stream is live and
// node execution may begin.
type StreamStartedEvent struct {
	Base
	streamID string
}

func NewStreamStartedEvent(streamID string) StreamStartedEvent {
	return StreamStartedEvent{Base: NewBase(KindStreamStarted), streamID: streamID}
}

func (e StreamStartedEvent) StreamID() string { return e.streamID }

// StreamStoppedEvent signals the media stream closed (caller hangup or
// provider teardown). It cancels every pending suspension for the call.
type StreamStoppedEvent struct {
	Base
}

func NewStreamStoppedEvent() StreamStoppedEvent {
	return StreamStoppedEvent{Base: NewBase(KindStreamStopped)}
}

// MediaFrameEvent carries one decoded inbound audio frame.
type MediaFrameEvent struct {
	Base
	audio []byte
}

func NewMediaFrameEvent(audio []byte) MediaFrameEvent {
	return MediaFrameEvent{Base: NewBase(KindMediaFrame), audio: audio}
}

func (e MediaFrameEvent) Audio() []byte { return e.audio }

// MarkPlayedEvent confirms the provider finished playing audio up to the
// named mark.
type MarkPlayedEvent struct {
	Base
	name string
}

func NewMarkPlayedEvent(name string) MarkPlayedEvent {
	return MarkPlayedEvent{Base: NewBase(KindMarkPlayed), name: name}
}

func (e MarkPlayedEvent) Name() string { return e.name }
