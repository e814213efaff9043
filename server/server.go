// Package server exposes the voice webhook and media-stream surface:
// provider callbacks come in over HTTP, live call audio over websocket.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	orchestration "github.com/telvox/callflow-core/core"
	"github.com/telvox/callflow-core/core/callrecord"
	"github.com/telvox/callflow-core/core/dispatch"
	"github.com/telvox/callflow-core/core/graph"
	"github.com/telvox/callflow-core/core/guardrail"
	"github.com/telvox/callflow-core/core/intent"
	"github.com/telvox/callflow-core/core/session"
	"github.com/telvox/callflow-core/core/telephony"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// WorkflowSource resolves a workflow id to its compiled conversation
// graph.
type WorkflowSource interface {
	Workflow(ctx context.Context, workflowID string) (*graph.Graph, error)
}

// StaticWorkflows is a WorkflowSource backed by a fixed map, loaded
// once at boot.
type StaticWorkflows map[string]*graph.Graph

func (w StaticWorkflows) Workflow(_ context.Context, workflowID string) (*graph.Graph, error) {
	g, ok := w[workflowID]
	if !ok {
		return nil, fmt.Errorf("unknown workflow: %s", workflowID)
	}
	return g, nil
}

type SpeechToTextFactory func() orchestration.SpeechToText

type TextToSpeechFactory func() orchestration.TextToSpeech

type Server struct {
	mux *http.ServeMux

	workflows  WorkflowSource
	sessions   session.Store
	records    callrecord.Store
	guard      *guardrail.Policy
	intents    *intent.Resolver
	dispatcher *dispatch.Dispatcher
	control    telephony.Controller

	newSpeechToText SpeechToTextFactory
	newTextToSpeech TextToSpeechFactory

	// publicHost is the externally reachable host used in the wss://
	// media-stream URLs handed to the provider.
	publicHost       string
	defaultLanguage  string
	escalationNumber string
	shutdownGrace    time.Duration
}

type Option func(*Server)

func WithWorkflowSource(source WorkflowSource) Option {
	return func(s *Server) { s.workflows = source }
}

func WithSessionStore(store session.Store) Option {
	return func(s *Server) { s.sessions = store }
}

func WithCallRecordStore(store callrecord.Store) Option {
	return func(s *Server) { s.records = store }
}

func WithGuardrailPolicy(policy *guardrail.Policy) Option {
	return func(s *Server) { s.guard = policy }
}

func WithIntentResolver(resolver *intent.Resolver) Option {
	return func(s *Server) { s.intents = resolver }
}

func WithDispatcher(dispatcher *dispatch.Dispatcher) Option {
	return func(s *Server) { s.dispatcher = dispatcher }
}

func WithTelephonyController(controller telephony.Controller) Option {
	return func(s *Server) { s.control = controller }
}

func WithSpeechToTextFactory(factory SpeechToTextFactory) Option {
	return func(s *Server) { s.newSpeechToText = factory }
}

func WithTextToSpeechFactory(factory TextToSpeechFactory) Option {
	return func(s *Server) { s.newTextToSpeech = factory }
}

func WithDefaultLanguage(language string) Option {
	return func(s *Server) { s.defaultLanguage = language }
}

func WithEscalationNumber(number string) Option {
	return func(s *Server) { s.escalationNumber = number }
}

// New builds the server. publicHost is the host (no scheme) provider
// callbacks and stream URLs are addressed to.
func New(publicHost string, opts ...Option) *Server {
	s := &Server{
		mux:             http.NewServeMux(),
		publicHost:      publicHost,
		defaultLanguage: "en",
		shutdownGrace:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.guard == nil {
		s.guard = guardrail.NewPolicy()
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/voice/inbound", s.handleInbound)
	s.mux.HandleFunc("/voice/outbound", s.handleOutbound)
	s.mux.HandleFunc("/voice/outbound-connect", s.handleOutboundConnect)
	s.mux.HandleFunc("/voice/status", s.handleStatus)
	s.mux.HandleFunc("/voice/media-stream", s.handleMediaStream)
}

// Handler returns the routed handler wrapped with HTTP tracing.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.mux, "callflow.server")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
