package orchestration

import (
	"context"
	"time"

	"github.com/telvox/callflow-core/core/callrecord"
	"github.com/telvox/callflow-core/core/guardrail"
	"github.com/telvox/callflow-core/core/intent"
	"github.com/telvox/callflow-core/core/session"
	"github.com/telvox/callflow-core/core/speechtotext"
	"github.com/telvox/callflow-core/core/telephony"
)

type OrchestratorOption func(*Orchestrator)

// SpeechToText is a live transcription stream. Audio frames go in,
// transcripts come back through the callbacks registered on Transcribe.
type SpeechToText interface {
	Transcribe(ctx context.Context, opts ...speechtotext.TranscriptionOption) error
	SendAudio(audio []byte) error
	Close(ctx context.Context) error
}

func WithSpeechToTextClient(client SpeechToText) OrchestratorOption {
	return func(o *Orchestrator) {
		o.speechToText = client
	}
}

// TextToSpeech synthesizes a complete utterance into raw audio in the
// provider's stream encoding.
type TextToSpeech interface {
	Synthesize(ctx context.Context, text string, language string) ([]byte, error)
}

func WithTextToSpeechClient(client TextToSpeech) OrchestratorOption {
	return func(o *Orchestrator) {
		o.textToSpeech = client
	}
}

// MediaSink is the outbound half of the provider media stream. Audio
// chunks are base64 payloads in the stream encoding; marks are echoed
// back by the provider once the audio queued before them has played.
type MediaSink interface {
	SendAudioChunk(payload string) error
	SendMark(name string) error
	CloseStream() error
}

func WithMediaSink(sink MediaSink) OrchestratorOption {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

func WithSessionStore(store session.Store) OrchestratorOption {
	return func(o *Orchestrator) {
		o.sessions = store
	}
}

func WithCallRecordStore(store callrecord.Store) OrchestratorOption {
	return func(o *Orchestrator) {
		o.records = store
	}
}

func WithGuardrailPolicy(policy *guardrail.Policy) OrchestratorOption {
	return func(o *Orchestrator) {
		o.guard = policy
	}
}

func WithIntentResolver(resolver *intent.Resolver) OrchestratorOption {
	return func(o *Orchestrator) {
		o.intents = resolver
	}
}

func WithTelephonyController(controller telephony.Controller) OrchestratorOption {
	return func(o *Orchestrator) {
		o.control = controller
	}
}

// WithEscalationNumber sets the number calls are transferred to when
// retries are exhausted. Without one, escalation ends the call instead.
func WithEscalationNumber(number string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.escalationNumber = number
	}
}

// WithEscalationDelay overrides the pause between the escalation
// apology and the forced transfer or hangup.
func WithEscalationDelay(delay time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.escalationDelay = delay
	}
}

// WithHangupTimeout overrides how long the orchestrator waits for the
// closing message's mark before dropping the stream anyway.
func WithHangupTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.hangupTimeout = timeout
	}
}
