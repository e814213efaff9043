// Package speechtotext defines the streaming transcription boundary used
// by the orchestrator. Adapters deliver recognized speech through the
// callbacks configured here.
package speechtotext

type TranscriptionOptions struct {
	// Language is the BCP-47 language tag of the caller's expected
	// speech.
	Language string

	// TranscriptionCallback is called once per finalized utterance.
	TranscriptionCallback func(transcript string, confidence float64, detectedLanguage string)
	// InterimTranscriptionCallback is called for partial, still-changing
	// transcripts.
	InterimTranscriptionCallback func(transcript string)

	SpeechStartedCallback func()
	SpeechEndedCallback   func()

	// ErrorCallback is called when the transcription stream fails.
	ErrorCallback func(error)
}

type TranscriptionOption func(*TranscriptionOptions)

func WithLanguage(language string) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.Language = language
	}
}

func WithTranscriptionCallback(callback func(transcript string, confidence float64, detectedLanguage string)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.TranscriptionCallback = callback
	}
}

func WithInterimTranscriptionCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.InterimTranscriptionCallback = callback
	}
}

func WithSpeechStartedCallback(callback func()) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.SpeechStartedCallback = callback
	}
}

func WithSpeechEndedCallback(callback func()) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.SpeechEndedCallback = callback
	}
}

func WithErrorCallback(callback func(error)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.ErrorCallback = callback
	}
}
