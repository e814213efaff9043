package events

// TranscriptionEvent carries one finalized unit of recognized user
// speech. It is guaranteed to logically follow the media it was derived
// from.
type TranscriptionEvent struct {
	Base
	transcript string
	confidence float64
	language   string
}

func NewTranscriptionEvent(transcript string, confidence float64, language string) TranscriptionEvent {
	return TranscriptionEvent{
		Base:       NewBase(KindTranscription),
		transcript: transcript,
		confidence: confidence,
		language:   language,
	}
}

func (t TranscriptionEvent) String() string      { return t.transcript }
func (t TranscriptionEvent) Transcript() string  { return t.transcript }
func (t TranscriptionEvent) Confidence() float64 { return t.confidence }
func (t TranscriptionEvent) Language() string    { return t.language }

// InterimTranscriptionEvent is a partial, still-changing transcript. The
// orchestrator ignores these for routing but they are useful for
// observability.
type InterimTranscriptionEvent struct {
	Base
	transcript string
}

func NewInterimTranscriptionEvent(transcript string) InterimTranscriptionEvent {
	return InterimTranscriptionEvent{Base: NewBase(KindInterimTranscription), transcript: transcript}
}

func (t InterimTranscriptionEvent) String() string     { return t.transcript + "..." }
func (t InterimTranscriptionEvent) Transcript() string { return t.transcript }
