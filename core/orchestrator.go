package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/telvox/callflow-core/core/callrecord"
	"github.com/telvox/callflow-core/core/events"
	"github.com/telvox/callflow-core/core/graph"
	"github.com/telvox/callflow-core/core/guardrail"
	"github.com/telvox/callflow-core/core/intent"
	"github.com/telvox/callflow-core/core/session"
	"github.com/telvox/callflow-core/core/speechtotext"
	"github.com/telvox/callflow-core/core/telephony"
	"github.com/telvox/callflow-core/core/texttospeech"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultEscalationDelay = 3 * time.Second
	defaultHangupTimeout   = 5 * time.Second

	reprompt          = "I didn't quite understand that. Could you please say that again?"
	escalationMessage = "I'm having trouble understanding. Let me connect you with someone who can help."
	faultMessage      = "I'm sorry, something went wrong on our end. Please call back in a little while."
)

// CallBinding identifies the live call a single orchestrator serves.
type CallBinding struct {
	CallID         string
	ProviderCallID string
	AgentID        string
	WorkflowID     string
	TenantID       string
	Language       string
}

// Orchestrator drives one call through its conversation graph. All
// state transitions happen on the Run goroutine; external parties only
// ever call Handle, which queues events in arrival order.
type Orchestrator struct {
	call  CallBinding
	graph *graph.Graph

	sessions session.Store
	records  callrecord.Store
	guard    *guardrail.Policy
	intents  *intent.Resolver

	speechToText SpeechToText
	textToSpeech TextToSpeech
	sink         MediaSink
	control      telephony.Controller

	escalationNumber string
	escalationDelay  time.Duration
	hangupTimeout    time.Duration

	events    chan events.Event
	done      chan struct{}
	closeOnce sync.Once

	baseContext context.Context
	startedAt   time.Time

	streamID         string
	awaitingReply    bool
	lastIntentNodeID string
	lastMark         string
	pendingCloseMark string
	hangupTimer      *time.Timer
	finalStatus      callrecord.Status
}

func NewOrchestrator(call CallBinding, g *graph.Graph, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		call:            call,
		graph:           g,
		guard:           guardrail.NewPolicy(),
		escalationDelay: defaultEscalationDelay,
		hangupTimeout:   defaultHangupTimeout,
		events:          make(chan events.Event, 256),
		done:            make(chan struct{}),
		baseContext:     context.Background(),
		finalStatus:     callrecord.StatusCompleted,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Handle queues an event for the Run loop. Safe to call from any
// goroutine; events arriving after the loop has stopped are dropped.
func (o *Orchestrator) Handle(event events.Event) {
	select {
	case <-o.done:
	case o.events <- event:
	}
}

// Run initializes the session, starts transcription and processes
// events until the media stream stops or ctx is cancelled. It must be
// called at most once per orchestrator instance.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "orchestrator.run")
	defer span.End()
	o.baseContext = ctx
	o.startedAt = time.Now()

	state := session.State{
		CallID:        o.call.CallID,
		AgentID:       o.call.AgentID,
		TenantID:      o.call.TenantID,
		WorkflowID:    o.call.WorkflowID,
		CurrentNodeID: o.graph.Start(),
		Language:      o.call.Language,
		Variables:     map[string]any{},
	}
	if err := o.sessions.Init(ctx, state); err != nil {
		o.recordFault(ctx, fmt.Errorf("failed to initialize session: %w", err))
		return err
	}

	if err := o.startTranscription(ctx); err != nil {
		o.recordFault(ctx, err)
		o.failCall(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			o.shutdown(ctx)
			return ctx.Err()

		case event := <-o.events:
			switch e := event.(type) {
			case events.StreamStartedEvent:
				o.streamID = e.StreamID()
				if err := o.records.SetStatus(ctx, o.call.CallID, callrecord.StatusInProgress); err != nil {
					o.recordFault(ctx, fmt.Errorf("failed to mark call in progress: %w", err))
				}
				o.executeCurrentNode(ctx)

			case events.MediaFrameEvent:
				if o.speechToText != nil {
					if err := o.speechToText.SendAudio(e.Audio()); err != nil {
						o.recordFault(ctx, fmt.Errorf("failed to forward audio frame: %w", err))
					}
				}

			case events.TranscriptionEvent:
				o.handleUtterance(ctx, e.Transcript())

			case events.InterimTranscriptionEvent:
				logger.DebugContext(ctx, "interim transcript", "transcript", e.Transcript())

			case events.MarkPlayedEvent:
				if o.pendingCloseMark != "" && e.Name() == o.pendingCloseMark {
					o.hangup(ctx)
				}

			case escalationDueEvent:
				o.completeEscalation(ctx)

			case hangupDueEvent:
				o.hangup(ctx)

			case events.StreamStoppedEvent:
				o.shutdown(ctx)
				return nil
			}
		}
	}
}

func (o *Orchestrator) startTranscription(ctx context.Context) error {
	if o.speechToText == nil {
		return nil
	}
	err := o.speechToText.Transcribe(ctx,
		speechtotext.WithLanguage(o.call.Language),
		speechtotext.WithTranscriptionCallback(func(transcript string, confidence float64, detectedLanguage string) {
			o.Handle(events.NewTranscriptionEvent(transcript, confidence, detectedLanguage))
		}),
		speechtotext.WithInterimTranscriptionCallback(func(transcript string) {
			o.Handle(events.NewInterimTranscriptionEvent(transcript))
		}),
		speechtotext.WithErrorCallback(func(err error) {
			o.recordFault(o.baseContext, fmt.Errorf("transcription stream error: %w", err))
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to start transcription: %w", err)
	}
	return nil
}

// executeCurrentNode runs the session's current node and keeps
// advancing through nodes that do not wait for caller input.
func (o *Orchestrator) executeCurrentNode(ctx context.Context) {
	for {
		state, err := o.sessions.Get(ctx, o.call.CallID)
		if err != nil {
			o.recordFault(ctx, fmt.Errorf("failed to load session: %w", err))
			o.failCall(ctx)
			return
		}

		node, err := o.graph.Node(state.CurrentNodeID)
		if err != nil {
			o.recordFault(ctx, fmt.Errorf("failed to resolve current node: %w", err))
			o.failCall(ctx)
			return
		}

		ctx, span := tracer.Start(ctx, "orchestrator.execute-node",
			trace.WithAttributes(nodeAttributes(node)...))

		next, suspended := o.executeNode(ctx, node, state)
		span.End()
		if suspended {
			return
		}
		if next == "" {
			return
		}
		if err := o.sessions.SetCurrentNode(ctx, o.call.CallID, next); err != nil {
			o.recordFault(ctx, fmt.Errorf("failed to advance session: %w", err))
			o.failCall(ctx)
			return
		}
	}
}

// executeNode performs one node's action. It returns the id of the
// node to advance to, or suspended=true when the node waits for the
// caller or ends the call.
func (o *Orchestrator) executeNode(ctx context.Context, node graph.Node, state session.State) (next string, suspended bool) {
	switch cfg := node.Config.(type) {
	case graph.StartConfig:
		if cfg.GreetingText != "" {
			o.speak(ctx, graph.Interpolate(cfg.GreetingText, state.Variables))
		}
		if id, ok := o.graph.NextNode(node.ID, ""); ok {
			return id, false
		}
		return "", true

	case graph.ResponseConfig:
		o.speak(ctx, graph.Interpolate(cfg.Text, state.Variables))
		if cfg.ExpectResponse {
			o.awaitingReply = true
			return "", true
		}
		if id, ok := o.graph.NextNode(node.ID, ""); ok {
			return id, false
		}
		return "", true

	case graph.IntentConfig:
		// Suspend until the caller says something.
		o.lastIntentNodeID = node.ID
		return "", true

	case graph.TransferConfig:
		whisper := cfg.WhisperText
		if whisper == "" {
			whisper = "Please hold while I transfer you."
		}
		o.speak(ctx, graph.Interpolate(whisper, state.Variables))
		o.transfer(ctx, cfg.PhoneNumber)
		return "", true

	case graph.FallbackConfig:
		if cfg.FallbackText != "" {
			o.speak(ctx, graph.Interpolate(cfg.FallbackText, state.Variables))
		} else {
			o.speak(ctx, reprompt)
		}
		if id, ok := o.graph.NextNode(node.ID, ""); ok {
			return id, false
		}
		// No outgoing edge. Return to the intent node that routed
		// here so the caller's next utterance is classified again.
		if o.lastIntentNodeID != "" {
			return o.lastIntentNodeID, false
		}
		return "", true

	case graph.DisconnectConfig:
		if cfg.GoodbyeText != "" {
			o.speak(ctx, graph.Interpolate(cfg.GoodbyeText, state.Variables))
		}
		o.scheduleHangup()
		return "", true

	case graph.LogicConfig:
		if id, ok := o.evaluateLogic(ctx, node, cfg, state); ok {
			return id, false
		}
		return "", true

	default:
		logger.WarnContext(ctx, "skipping node with unknown kind",
			"nodeId", node.ID, "kind", node.Kind)
		if id, ok := o.graph.NextNode(node.ID, ""); ok {
			return id, false
		}
		return "", true
	}
}

// evaluateLogic picks the edge whose sourceHandle matches the first
// condition that holds, falling back to the node's default handle.
func (o *Orchestrator) evaluateLogic(ctx context.Context, node graph.Node, cfg graph.LogicConfig, state session.State) (string, bool) {
	for _, condition := range cfg.Conditions {
		if !condition.Holds(state.Variables) {
			continue
		}
		if id, ok := o.graph.Resolve(node.ID, condition.OutputHandle); ok {
			return id, true
		}
		logger.WarnContext(ctx, "logic condition matched but has no edge",
			"nodeId", node.ID, "handle", condition.OutputHandle)
	}
	if cfg.DefaultHandle != "" {
		if id, ok := o.graph.Resolve(node.ID, cfg.DefaultHandle); ok {
			return id, true
		}
	}
	if id, ok := o.graph.NextNode(node.ID, ""); ok {
		return id, true
	}
	return "", false
}

// handleUtterance processes one final transcript from the caller.
func (o *Orchestrator) handleUtterance(ctx context.Context, transcript string) {
	ctx, span := tracer.Start(ctx, "orchestrator.handle-utterance")
	defer span.End()

	if err := o.sessions.AppendTranscript(ctx, o.call.CallID, session.TranscriptEntry{
		Role: session.RoleUser, Text: transcript, Timestamp: time.Now(),
	}); err != nil {
		o.recordFault(ctx, fmt.Errorf("failed to append transcript: %w", err))
	}

	state, err := o.sessions.Get(ctx, o.call.CallID)
	if err != nil {
		o.recordFault(ctx, fmt.Errorf("failed to load session: %w", err))
		o.failCall(ctx)
		return
	}

	if verdict := o.guard.Evaluate(transcript, state); verdict.Blocked {
		logger.InfoContext(ctx, "guardrail blocked utterance", "reason", verdict.Reason)
		o.speak(ctx, verdict.ResponseText)
		if verdict.Reason == guardrail.ReasonRetryExhausted {
			o.scheduleEscalation()
		}
		return
	}

	node, err := o.graph.Node(state.CurrentNodeID)
	if err != nil {
		o.recordFault(ctx, fmt.Errorf("failed to resolve current node: %w", err))
		o.failCall(ctx)
		return
	}

	switch cfg := node.Config.(type) {
	case graph.IntentConfig:
		o.handleIntentReply(ctx, node, cfg, state, transcript)

	case graph.ResponseConfig:
		if !o.awaitingReply {
			return
		}
		o.awaitingReply = false
		if cfg.SaveResponseAs != "" {
			if err := o.sessions.SetVariable(ctx, o.call.CallID, cfg.SaveResponseAs, transcript); err != nil {
				o.recordFault(ctx, fmt.Errorf("failed to save response variable: %w", err))
			}
		}
		if id, ok := o.graph.NextNode(node.ID, ""); ok {
			o.advanceTo(ctx, id)
		}

	default:
		logger.DebugContext(ctx, "utterance outside an input node, ignoring",
			"nodeId", node.ID)
	}
}

func (o *Orchestrator) handleIntentReply(ctx context.Context, node graph.Node, cfg graph.IntentConfig, state session.State, transcript string) {
	match := o.intents.Classify(ctx, transcript, cfg, state.Variables)

	if err := o.sessions.AppendTranscript(ctx, o.call.CallID, session.TranscriptEntry{
		Role:      session.RoleSystem,
		Text:      fmt.Sprintf("Intent: %s (confidence %.2f)", match.Name, match.Confidence),
		Timestamp: time.Now(),
	}); err != nil {
		o.recordFault(ctx, fmt.Errorf("failed to append transcript: %w", err))
	}

	if match.IsFallback() {
		count, err := o.sessions.IncrementRetry(ctx, o.call.CallID)
		if err != nil {
			o.recordFault(ctx, fmt.Errorf("failed to increment retries: %w", err))
			o.failCall(ctx)
			return
		}

		threshold := cfg.RetryThreshold
		if threshold <= 0 {
			threshold = guardrail.DefaultRetryThreshold
		}
		if count >= threshold {
			o.speak(ctx, escalationMessage)
			o.scheduleEscalation()
			return
		}

		if id, ok := o.graph.Resolve(node.ID, match.OutputHandle); ok {
			o.lastIntentNodeID = node.ID
			o.advanceTo(ctx, id)
			return
		}
		o.speak(ctx, reprompt)
		return
	}

	if err := o.sessions.ResetRetry(ctx, o.call.CallID); err != nil {
		o.recordFault(ctx, fmt.Errorf("failed to reset retries: %w", err))
	}

	if id, ok := o.graph.Resolve(node.ID, match.OutputHandle); ok {
		o.advanceTo(ctx, id)
		return
	}
	logger.WarnContext(ctx, "matched intent has no outgoing edge",
		"nodeId", node.ID, "intent", match.Name, "handle", match.OutputHandle)
	o.speak(ctx, reprompt)
}

func (o *Orchestrator) advanceTo(ctx context.Context, nodeID string) {
	if err := o.sessions.SetCurrentNode(ctx, o.call.CallID, nodeID); err != nil {
		o.recordFault(ctx, fmt.Errorf("failed to advance session: %w", err))
		o.failCall(ctx)
		return
	}
	o.executeCurrentNode(ctx)
}

// speak synthesizes text and streams it out, followed by a mark so
// playback completion can be observed. A synthesis failure is logged
// and the call carries on.
func (o *Orchestrator) speak(ctx context.Context, text string) {
	if text == "" {
		return
	}
	ctx, span := tracer.Start(ctx, "orchestrator.speak")
	defer span.End()

	if err := o.sessions.AppendTranscript(ctx, o.call.CallID, session.TranscriptEntry{
		Role: session.RoleAgent, Text: text, Timestamp: time.Now(),
	}); err != nil {
		o.recordFault(ctx, fmt.Errorf("failed to append transcript: %w", err))
	}

	if o.textToSpeech == nil || o.sink == nil {
		return
	}

	audio, err := o.textToSpeech.Synthesize(ctx, text, o.call.Language)
	if err != nil {
		o.recordFault(ctx, fmt.Errorf("failed to synthesize speech: %w", err))
		return
	}

	for _, chunk := range texttospeech.EncodeBase64Chunks(audio, texttospeech.DefaultChunkSize) {
		if err := o.sink.SendAudioChunk(chunk); err != nil {
			o.recordFault(ctx, fmt.Errorf("failed to send audio chunk: %w", err))
			return
		}
	}

	o.lastMark = fmt.Sprintf("speech-%d", time.Now().UnixNano())
	if err := o.sink.SendMark(o.lastMark); err != nil {
		o.recordFault(ctx, fmt.Errorf("failed to send playback mark: %w", err))
	}
}

func (o *Orchestrator) transfer(ctx context.Context, number string) {
	if o.control == nil || o.call.ProviderCallID == "" {
		logger.WarnContext(ctx, "transfer requested without telephony control, ending call",
			"number", number)
		o.scheduleHangup()
		return
	}
	if err := o.control.TransferCall(ctx, o.call.ProviderCallID, number); err != nil {
		o.recordFault(ctx, fmt.Errorf("failed to transfer call: %w", err))
		o.failCall(ctx)
		return
	}
	logger.InfoContext(ctx, "call transferred", "callId", o.call.CallID, "number", number)
}

// scheduleEscalation arms the forced transfer-or-hangup that follows
// the escalation apology. The timer posts back into the event loop so
// the action runs on the Run goroutine.
func (o *Orchestrator) scheduleEscalation() {
	time.AfterFunc(o.escalationDelay, func() {
		o.Handle(newEscalationDueEvent())
	})
}

func (o *Orchestrator) completeEscalation(ctx context.Context) {
	if o.escalationNumber != "" && o.control != nil && o.call.ProviderCallID != "" {
		o.transfer(ctx, o.escalationNumber)
		return
	}
	o.hangup(ctx)
}

// scheduleHangup waits for the closing message's mark to play, with a
// timer so the call still ends if the mark never comes back.
func (o *Orchestrator) scheduleHangup() {
	o.pendingCloseMark = o.lastMark
	if o.pendingCloseMark == "" {
		o.Handle(newHangupDueEvent())
		return
	}
	o.hangupTimer = time.AfterFunc(o.hangupTimeout, func() {
		o.Handle(newHangupDueEvent())
	})
}

func (o *Orchestrator) hangup(ctx context.Context) {
	if o.hangupTimer != nil {
		o.hangupTimer.Stop()
		o.hangupTimer = nil
	}
	o.pendingCloseMark = ""
	if o.sink != nil {
		if err := o.sink.CloseStream(); err != nil {
			o.recordFault(ctx, fmt.Errorf("failed to close media stream: %w", err))
		}
	}
	// A locally initiated close ends the loop without waiting for the
	// provider's stop message, which may never come.
	o.Handle(events.NewStreamStoppedEvent())
}

// failCall plays an audible closing message and ends the call. Used on
// unexpected faults so the caller never sits in silence.
func (o *Orchestrator) failCall(ctx context.Context) {
	o.finalStatus = callrecord.StatusFailed
	o.speak(ctx, faultMessage)
	o.scheduleHangup()
}

// shutdown releases the session and finalizes the durable record. The
// transcript survives the session's destruction.
func (o *Orchestrator) shutdown(ctx context.Context) {
	o.closeOnce.Do(func() {
		close(o.done)

		if o.hangupTimer != nil {
			o.hangupTimer.Stop()
		}

		if o.speechToText != nil {
			if err := o.speechToText.Close(ctx); err != nil {
				o.recordFault(ctx, fmt.Errorf("failed to close speech-to-text client: %w", err))
			}
		}

		var transcript []session.TranscriptEntry
		if state, err := o.sessions.Get(ctx, o.call.CallID); err == nil {
			transcript = state.Transcript
		}

		duration := int(time.Since(o.startedAt).Seconds())
		if err := o.records.Finalize(ctx, o.call.CallID, o.finalStatus, duration, transcript); err != nil {
			o.recordFault(ctx, fmt.Errorf("failed to finalize call record: %w", err))
		}

		if err := o.sessions.Destroy(ctx, o.call.CallID); err != nil {
			o.recordFault(ctx, fmt.Errorf("failed to destroy session: %w", err))
		}

		logger.InfoContext(ctx, "call ended", "callId", o.call.CallID)
	})
}

func (o *Orchestrator) recordFault(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logger.ErrorContext(ctx, err.Error(), "callId", o.call.CallID)
}
