package orchestration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telvox/callflow-core/core/callrecord"
	"github.com/telvox/callflow-core/core/events"
	"github.com/telvox/callflow-core/core/graph"
	"github.com/telvox/callflow-core/core/intent"
	"github.com/telvox/callflow-core/core/session"
	"github.com/telvox/callflow-core/core/speechtotext"
)

type fakeTextToSpeech struct{}

func (fakeTextToSpeech) Synthesize(_ context.Context, text, _ string) ([]byte, error) {
	return []byte("audio:" + text), nil
}

type fakeSpeechToText struct{}

func (fakeSpeechToText) Transcribe(context.Context, ...speechtotext.TranscriptionOption) error {
	return nil
}
func (fakeSpeechToText) SendAudio([]byte) error       { return nil }
func (fakeSpeechToText) Close(context.Context) error  { return nil }

type fakeSink struct {
	mu     sync.Mutex
	chunks []string
	marks  []string
	closed bool
}

func (s *fakeSink) SendAudioChunk(payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, payload)
	return nil
}

func (s *fakeSink) SendMark(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks = append(s.marks, name)
	return nil
}

func (s *fakeSink) CloseStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) markCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.marks)
}

func (s *fakeSink) lastMark() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.marks) == 0 {
		return ""
	}
	return s.marks[len(s.marks)-1]
}

func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeController struct {
	mu        sync.Mutex
	transfers []string
	ended     []string
}

func (c *fakeController) TransferCall(_ context.Context, providerCallID, phoneNumber string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transfers = append(c.transfers, providerCallID+"->"+phoneNumber)
	return nil
}

func (c *fakeController) EndCall(_ context.Context, providerCallID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ended = append(c.ended, providerCallID)
	return nil
}

type stubClassifier struct {
	mu      sync.Mutex
	results []intent.Classification
}

func (s *stubClassifier) Classify(context.Context, string) (intent.Classification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.results) == 0 {
		return intent.Classification{}, errors.New("no result stubbed")
	}
	result := s.results[0]
	if len(s.results) > 1 {
		s.results = s.results[1:]
	}
	return result, nil
}

type harness struct {
	orchestrator *Orchestrator
	sink         *fakeSink
	sessions     *session.MemoryStore
	records      *callrecord.MemoryStore
	control      *fakeController
	runErr       chan error
}

func newHarness(t *testing.T, def graph.Definition, classifier intent.Classifier, extra ...OrchestratorOption) *harness {
	t.Helper()

	g, err := graph.Load(def)
	require.NoError(t, err)

	h := &harness{
		sink:     &fakeSink{},
		sessions: session.NewMemoryStore(time.Minute),
		records:  callrecord.NewMemoryStore(),
		control:  &fakeController{},
		runErr:   make(chan error, 1),
	}

	require.NoError(t, h.records.Create(context.Background(), callrecord.Call{
		ID:        "call-1",
		Direction: callrecord.DirectionInbound,
		Status:    callrecord.StatusInitiated,
		StartedAt: time.Now(),
	}))

	opts := []OrchestratorOption{
		WithSessionStore(h.sessions),
		WithCallRecordStore(h.records),
		WithIntentResolver(intent.NewResolver(classifier)),
		WithSpeechToTextClient(fakeSpeechToText{}),
		WithTextToSpeechClient(fakeTextToSpeech{}),
		WithMediaSink(h.sink),
		WithTelephonyController(h.control),
		WithEscalationDelay(5 * time.Millisecond),
		WithHangupTimeout(50 * time.Millisecond),
	}
	opts = append(opts, extra...)

	h.orchestrator = NewOrchestrator(CallBinding{
		CallID:         "call-1",
		ProviderCallID: "CA-1",
		AgentID:        "agent-1",
		WorkflowID:     "wf-1",
		TenantID:       "tenant-1",
		Language:       "en",
	}, g, opts...)

	go func() { h.runErr <- h.orchestrator.Run(context.Background()) }()
	h.orchestrator.Handle(events.NewStreamStartedEvent("MZ-1"))
	return h
}

func (h *harness) waitFor(t *testing.T, condition func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", message)
}

func (h *harness) waitForRunExit(t *testing.T) {
	t.Helper()
	select {
	case err := <-h.runErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
}

func (h *harness) spokenTexts(t *testing.T) []string {
	t.Helper()
	call, err := h.records.Get(context.Background(), "call-1")
	require.NoError(t, err)
	var spoken []string
	for _, entry := range call.Transcript {
		if entry.Role == session.RoleAgent {
			spoken = append(spoken, entry.Text)
		}
	}
	return spoken
}

func scriptedGraph() graph.Definition {
	return graph.Definition{
		Nodes: []graph.Node{
			{ID: "start", Kind: graph.NodeKindStart, Config: graph.StartConfig{GreetingText: "Welcome"}},
			{ID: "thanks", Kind: graph.NodeKindResponse, Config: graph.ResponseConfig{Text: "Thanks for calling"}},
			{ID: "end", Kind: graph.NodeKindDisconnect, Config: graph.DisconnectConfig{GoodbyeText: "Goodbye"}},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: "start", Target: "thanks"},
			{ID: "e2", Source: "thanks", Target: "end"},
		},
	}
}

func TestRunCompletesScriptedCallWithoutInput(t *testing.T) {
	h := newHarness(t, scriptedGraph(), &stubClassifier{})

	h.waitFor(t, func() bool { return h.sink.markCount() >= 3 }, "closing message playback")
	h.orchestrator.Handle(events.NewMarkPlayedEvent(h.sink.lastMark()))
	h.waitFor(t, h.sink.isClosed, "stream close")
	h.waitForRunExit(t)

	assert.Equal(t, []string{"Welcome", "Thanks for calling", "Goodbye"}, h.spokenTexts(t))

	call, err := h.records.Get(context.Background(), "call-1")
	require.NoError(t, err)
	assert.Equal(t, callrecord.StatusCompleted, call.Status)
	assert.Len(t, call.Transcript, 3)

	_, err = h.sessions.Get(context.Background(), "call-1")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestHangupFiresWithoutMarkConfirmation(t *testing.T) {
	h := newHarness(t, scriptedGraph(), &stubClassifier{})

	// Never echo the mark back; the hangup timeout drops the stream.
	h.waitFor(t, h.sink.isClosed, "stream close after timeout")
	h.waitForRunExit(t)
}

func intentGraph() graph.Definition {
	return graph.Definition{
		Nodes: []graph.Node{
			{ID: "start", Kind: graph.NodeKindStart, Config: graph.StartConfig{GreetingText: "Hello"}},
			{ID: "ask", Kind: graph.NodeKindIntent, Config: graph.IntentConfig{
				Intents: []graph.Intent{
					{Name: "book", Examples: []string{"I want to book"}, OutputHandle: "handle-book"},
					{Name: "agent", Examples: []string{"talk to a human"}, OutputHandle: "handle-agent"},
				},
				FallbackHandle:      "handle-fallback",
				ConfidenceThreshold: 0.7,
			}},
			{ID: "booked", Kind: graph.NodeKindResponse, Config: graph.ResponseConfig{Text: "Booked it"}},
			{ID: "handoff", Kind: graph.NodeKindTransfer, Config: graph.TransferConfig{PhoneNumber: "+15550100", WhisperText: "Transferring you now"}},
			{ID: "end", Kind: graph.NodeKindDisconnect, Config: graph.DisconnectConfig{GoodbyeText: "Bye"}},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: "start", Target: "ask"},
			{ID: "e2", Source: "ask", SourceHandle: "handle-book", Target: "booked"},
			{ID: "e3", Source: "ask", SourceHandle: "handle-agent", Target: "handoff"},
			{ID: "e4", Source: "booked", Target: "end"},
		},
	}
}

func TestIntentMatchRoutesToDeclaredHandle(t *testing.T) {
	classifier := &stubClassifier{results: []intent.Classification{{Intent: "book", Confidence: 0.93}}}
	h := newHarness(t, intentGraph(), classifier)

	h.waitFor(t, func() bool { return h.sink.markCount() >= 1 }, "greeting")
	h.orchestrator.Handle(events.NewTranscriptionEvent("I'd like to book a table", 0.9, "en"))

	h.waitFor(t, func() bool { return h.sink.markCount() >= 3 }, "confirmation and goodbye")
	h.orchestrator.Handle(events.NewMarkPlayedEvent(h.sink.lastMark()))
	h.waitForRunExit(t)

	assert.Equal(t, []string{"Hello", "Booked it", "Bye"}, h.spokenTexts(t))
}

func TestIntentMatchRoutesToTransfer(t *testing.T) {
	classifier := &stubClassifier{results: []intent.Classification{{Intent: "agent", Confidence: 0.88}}}
	h := newHarness(t, intentGraph(), classifier)

	h.waitFor(t, func() bool { return h.sink.markCount() >= 1 }, "greeting")
	h.orchestrator.Handle(events.NewTranscriptionEvent("let me talk to a human", 0.9, "en"))

	h.waitFor(t, func() bool {
		h.control.mu.Lock()
		defer h.control.mu.Unlock()
		return len(h.control.transfers) == 1
	}, "transfer")

	h.control.mu.Lock()
	assert.Equal(t, "CA-1->+15550100", h.control.transfers[0])
	h.control.mu.Unlock()

	// The provider tears the stream down after redirecting the leg.
	h.orchestrator.Handle(events.NewStreamStoppedEvent())
	h.waitForRunExit(t)
}

func TestThirdFallbackEscalates(t *testing.T) {
	classifier := &stubClassifier{results: []intent.Classification{{Intent: intent.FallbackSentinel, Confidence: 0.1}}}
	h := newHarness(t, intentGraph(), classifier)

	h.waitFor(t, func() bool { return h.sink.markCount() >= 1 }, "greeting")

	for i := 0; i < 3; i++ {
		marks := h.sink.markCount()
		h.orchestrator.Handle(events.NewTranscriptionEvent("mumble", 0.4, "en"))
		h.waitFor(t, func() bool { return h.sink.markCount() > marks }, "reply to utterance")
	}

	// No escalation number is configured, so the forced action is a hangup.
	h.waitFor(t, h.sink.isClosed, "stream close after escalation")
	h.waitForRunExit(t)

	spoken := h.spokenTexts(t)
	require.GreaterOrEqual(t, len(spoken), 4)
	assert.Contains(t, spoken[len(spoken)-1], "trouble understanding")
	assert.Equal(t, reprompt, spoken[1])
	assert.Equal(t, reprompt, spoken[2])
}

func TestEscalationTransfersWhenNumberConfigured(t *testing.T) {
	classifier := &stubClassifier{results: []intent.Classification{{Intent: intent.FallbackSentinel, Confidence: 0.1}}}
	h := newHarness(t, intentGraph(), classifier, WithEscalationNumber("+15550199"))

	h.waitFor(t, func() bool { return h.sink.markCount() >= 1 }, "greeting")

	for i := 0; i < 3; i++ {
		marks := h.sink.markCount()
		h.orchestrator.Handle(events.NewTranscriptionEvent("mumble", 0.4, "en"))
		h.waitFor(t, func() bool { return h.sink.markCount() > marks }, "reply to utterance")
	}

	h.waitFor(t, func() bool {
		h.control.mu.Lock()
		defer h.control.mu.Unlock()
		return len(h.control.transfers) == 1
	}, "escalation transfer")

	h.control.mu.Lock()
	assert.Equal(t, "CA-1->+15550199", h.control.transfers[0])
	h.control.mu.Unlock()

	h.orchestrator.Handle(events.NewStreamStoppedEvent())
	h.waitForRunExit(t)
}

func TestAbusiveUtteranceBlockedBeforeClassification(t *testing.T) {
	classifier := &stubClassifier{}
	h := newHarness(t, intentGraph(), classifier)

	h.waitFor(t, func() bool { return h.sink.markCount() >= 1 }, "greeting")
	h.orchestrator.Handle(events.NewTranscriptionEvent("you are STUPID", 0.9, "en"))
	h.waitFor(t, func() bool { return h.sink.markCount() >= 2 }, "guardrail response")

	spoken := h.spokenTexts(t)
	assert.True(t, strings.Contains(strings.ToLower(spoken[1]), "respectful"),
		"expected a de-escalation response, got %q", spoken[1])

	h.orchestrator.Handle(events.NewStreamStoppedEvent())
	h.waitForRunExit(t)
}

func TestResponseNodeSavesReplyAndInterpolates(t *testing.T) {
	def := graph.Definition{
		Nodes: []graph.Node{
			{ID: "start", Kind: graph.NodeKindStart, Config: graph.StartConfig{GreetingText: "Hi there"}},
			{ID: "ask-name", Kind: graph.NodeKindResponse, Config: graph.ResponseConfig{
				Text: "What's your name?", ExpectResponse: true, SaveResponseAs: "name",
			}},
			{ID: "greet", Kind: graph.NodeKindResponse, Config: graph.ResponseConfig{Text: "Nice to meet you, {{name}}"}},
			{ID: "end", Kind: graph.NodeKindDisconnect, Config: graph.DisconnectConfig{GoodbyeText: "Bye {{name}}"}},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: "start", Target: "ask-name"},
			{ID: "e2", Source: "ask-name", Target: "greet"},
			{ID: "e3", Source: "greet", Target: "end"},
		},
	}
	h := newHarness(t, def, &stubClassifier{})

	h.waitFor(t, func() bool { return h.sink.markCount() >= 2 }, "question")
	h.orchestrator.Handle(events.NewTranscriptionEvent("Sam", 0.9, "en"))

	h.waitFor(t, func() bool { return h.sink.markCount() >= 4 }, "greeting and goodbye")
	h.orchestrator.Handle(events.NewMarkPlayedEvent(h.sink.lastMark()))
	h.waitForRunExit(t)

	assert.Equal(t, []string{
		"Hi there", "What's your name?", "Nice to meet you, Sam", "Bye Sam",
	}, h.spokenTexts(t))
}

func TestLogicNodeRoutesOnSavedVariable(t *testing.T) {
	def := graph.Definition{
		Nodes: []graph.Node{
			{ID: "start", Kind: graph.NodeKindStart, Config: graph.StartConfig{GreetingText: "Hi"}},
			{ID: "ask", Kind: graph.NodeKindResponse, Config: graph.ResponseConfig{
				Text: "Sales or support?", ExpectResponse: true, SaveResponseAs: "department",
			}},
			{ID: "route", Kind: graph.NodeKindLogic, Config: graph.LogicConfig{
				Conditions: []graph.LogicCondition{
					{Variable: "department", Operator: "contains", Value: "sales", OutputHandle: "handle-sales"},
				},
				DefaultHandle: "handle-support",
			}},
			{ID: "sales", Kind: graph.NodeKindResponse, Config: graph.ResponseConfig{Text: "Connecting you to sales"}},
			{ID: "support", Kind: graph.NodeKindResponse, Config: graph.ResponseConfig{Text: "Connecting you to support"}},
			{ID: "end", Kind: graph.NodeKindDisconnect, Config: graph.DisconnectConfig{GoodbyeText: "Bye"}},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: "start", Target: "ask"},
			{ID: "e2", Source: "ask", Target: "route"},
			{ID: "e3", Source: "route", SourceHandle: "handle-sales", Target: "sales"},
			{ID: "e4", Source: "route", SourceHandle: "handle-support", Target: "support"},
			{ID: "e5", Source: "sales", Target: "end"},
			{ID: "e6", Source: "support", Target: "end"},
		},
	}
	h := newHarness(t, def, &stubClassifier{})

	h.waitFor(t, func() bool { return h.sink.markCount() >= 2 }, "question")
	h.orchestrator.Handle(events.NewTranscriptionEvent("Sales please", 0.9, "en"))

	h.waitFor(t, func() bool { return h.sink.markCount() >= 4 }, "routing and goodbye")
	h.orchestrator.Handle(events.NewMarkPlayedEvent(h.sink.lastMark()))
	h.waitForRunExit(t)

	assert.Contains(t, h.spokenTexts(t), "Connecting you to sales")
	assert.NotContains(t, h.spokenTexts(t), "Connecting you to support")
}

func TestFaultedCallRecordsFailedStatus(t *testing.T) {
	// The start node's edge points at a node that does not exist, so the
	// walk faults after the greeting.
	def := graph.Definition{
		Nodes: []graph.Node{
			{ID: "start", Kind: graph.NodeKindStart, Config: graph.StartConfig{GreetingText: "Welcome"}},
		},
		Edges: []graph.Edge{{ID: "e1", Source: "start", Target: "ghost"}},
	}
	h := newHarness(t, def, &stubClassifier{})

	h.waitFor(t, h.sink.isClosed, "stream close after fault")
	h.waitForRunExit(t)

	spoken := h.spokenTexts(t)
	require.NotEmpty(t, spoken)
	assert.Equal(t, faultMessage, spoken[len(spoken)-1])

	call, err := h.records.Get(context.Background(), "call-1")
	require.NoError(t, err)
	assert.Equal(t, callrecord.StatusFailed, call.Status)
}

func TestMediaFramesForwardedToTranscription(t *testing.T) {
	// Frames arriving before any transcript must not disturb node state.
	h := newHarness(t, scriptedGraph(), &stubClassifier{})

	h.orchestrator.Handle(events.NewMediaFrameEvent([]byte{0x7f, 0x7f}))
	h.waitFor(t, func() bool { return h.sink.markCount() >= 3 }, "scripted playback")
	h.orchestrator.Handle(events.NewMarkPlayedEvent(h.sink.lastMark()))
	h.waitForRunExit(t)
}
