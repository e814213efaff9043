package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	orchestration "github.com/telvox/callflow-core/core"
	"github.com/telvox/callflow-core/core/events"
)

// Provider media-stream protocol frames. The same envelope is used in
// both directions; which fields are set depends on the event.
type streamMessage struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid,omitempty"`
	Start     *streamStart `json:"start,omitempty"`
	Media     *streamMedia `json:"media,omitempty"`
	Mark      *streamMark  `json:"mark,omitempty"`
}

type streamStart struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters"`
}

type streamMedia struct {
	Payload string `json:"payload"`
	Track   string `json:"track,omitempty"`
}

type streamMark struct {
	Name string `json:"name"`
}

var streamUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleMediaStream owns one live call: it upgrades the provider's
// websocket, binds an orchestrator from the start frame's parameters
// and shuttles frames between the socket and the orchestrator until
// either side hangs up.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "server.media-stream")
	defer span.End()

	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnContext(ctx, "failed to upgrade media stream", "error", err)
		return
	}
	defer conn.Close()

	// The orchestrator outlives the request context: provider hangup is
	// signalled through the stream, not through request cancellation.
	callCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		orchestrator *orchestration.Orchestrator
		runDone      chan error
	)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.WarnContext(ctx, "dropping unreadable stream frame", "error", err)
			continue
		}

		switch msg.Event {
		case "connected":
			// Handshake preamble, nothing to do yet.

		case "start":
			if msg.Start == nil || orchestrator != nil {
				continue
			}
			orchestrator, runDone = s.startCall(callCtx, conn, msg.Start)
			if orchestrator == nil {
				return
			}
			orchestrator.Handle(events.NewStreamStartedEvent(msg.Start.StreamSid))

		case "media":
			if orchestrator == nil || msg.Media == nil {
				continue
			}
			audio, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				logger.WarnContext(ctx, "dropping undecodable media frame", "error", err)
				continue
			}
			orchestrator.Handle(events.NewMediaFrameEvent(audio))

		case "mark":
			if orchestrator == nil || msg.Mark == nil {
				continue
			}
			orchestrator.Handle(events.NewMarkPlayedEvent(msg.Mark.Name))

		case "stop":
			if orchestrator != nil {
				orchestrator.Handle(events.NewStreamStoppedEvent())
			}
		}
	}

	if orchestrator == nil {
		return
	}

	// Socket gone; make sure the orchestrator winds down and releases
	// the session even if no stop frame arrived.
	orchestrator.Handle(events.NewStreamStoppedEvent())
	select {
	case <-runDone:
	case <-time.After(s.shutdownGrace):
		cancel()
		<-runDone
	}
}

// startCall resolves the workflow named in the start frame and spins
// up the call's orchestrator on its own goroutine.
func (s *Server) startCall(ctx context.Context, conn *websocket.Conn, start *streamStart) (*orchestration.Orchestrator, chan error) {
	params := start.CustomParameters

	language := params["language"]
	if language == "" {
		language = s.defaultLanguage
	}

	g, err := s.workflows.Workflow(ctx, params["workflowId"])
	if err != nil {
		logger.ErrorContext(ctx, "failed to resolve workflow for stream",
			"workflowId", params["workflowId"], "error", err)
		return nil, nil
	}

	opts := []orchestration.OrchestratorOption{
		orchestration.WithSessionStore(s.sessions),
		orchestration.WithCallRecordStore(s.records),
		orchestration.WithGuardrailPolicy(s.guard),
		orchestration.WithIntentResolver(s.intents),
		orchestration.WithMediaSink(newStreamSink(conn, start.StreamSid)),
	}
	if s.newSpeechToText != nil {
		opts = append(opts, orchestration.WithSpeechToTextClient(s.newSpeechToText()))
	}
	if s.newTextToSpeech != nil {
		opts = append(opts, orchestration.WithTextToSpeechClient(s.newTextToSpeech()))
	}
	if s.control != nil {
		opts = append(opts, orchestration.WithTelephonyController(s.control))
	}
	if s.escalationNumber != "" {
		opts = append(opts, orchestration.WithEscalationNumber(s.escalationNumber))
	}

	orchestrator := orchestration.NewOrchestrator(orchestration.CallBinding{
		CallID:         params["callId"],
		ProviderCallID: start.CallSid,
		AgentID:        params["agentId"],
		WorkflowID:     params["workflowId"],
		TenantID:       params["tenantId"],
		Language:       language,
	}, g, opts...)

	runDone := make(chan error, 1)
	go func() { runDone <- orchestrator.Run(ctx) }()
	return orchestrator, runDone
}

// streamSink writes orchestrator output back over the provider
// websocket. gorilla connections allow one concurrent writer, hence
// the mutex.
type streamSink struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	streamSid string
}

func newStreamSink(conn *websocket.Conn, streamSid string) *streamSink {
	return &streamSink{conn: conn, streamSid: streamSid}
}

func (s *streamSink) SendAudioChunk(payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(streamMessage{
		Event:     "media",
		StreamSid: s.streamSid,
		Media:     &streamMedia{Payload: payload},
	})
}

func (s *streamSink) SendMark(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(streamMessage{
		Event:     "mark",
		StreamSid: s.streamSid,
		Mark:      &streamMark{Name: name},
	})
}

func (s *streamSink) CloseStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "call ended"), deadline)
	return s.conn.Close()
}
