package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/telvox/callflow-core/core/callrecord"
	"github.com/telvox/callflow-core/core/dispatch"
)

// handleInbound answers the provider's webhook for an incoming call.
// It creates the durable record and tells the provider to open a media
// stream carrying the call's binding parameters.
func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, span := tracer.Start(r.Context(), "server.inbound")
	defer span.End()

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form payload", http.StatusBadRequest)
		return
	}

	binding := streamBinding{
		CallID:     uuid.NewString(),
		AgentID:    r.URL.Query().Get("agentId"),
		WorkflowID: r.URL.Query().Get("workflowId"),
		TenantID:   r.URL.Query().Get("tenantId"),
		Language:   r.URL.Query().Get("language"),
	}
	if binding.Language == "" {
		binding.Language = s.defaultLanguage
	}

	if binding.WorkflowID == "" {
		logger.WarnContext(ctx, "inbound call without a workflow, rejecting")
		body, err := rejectionTwiML("We're sorry, this number is not configured. Goodbye.")
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeTwiML(w, body)
		return
	}

	err := s.records.Create(ctx, callrecord.Call{
		ID:             binding.CallID,
		ProviderCallID: r.PostFormValue("CallSid"),
		Direction:      callrecord.DirectionInbound,
		Status:         callrecord.StatusInitiated,
		FromNumber:     r.PostFormValue("From"),
		ToNumber:       r.PostFormValue("To"),
		AgentID:        binding.AgentID,
		WorkflowID:     binding.WorkflowID,
		TenantID:       binding.TenantID,
		StartedAt:      time.Now(),
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to create call record", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	body, err := connectStreamTwiML(s.publicHost, binding)
	if err != nil {
		logger.ErrorContext(ctx, "failed to render directive", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	logger.InfoContext(ctx, "inbound call accepted",
		"callId", binding.CallID, "workflowId", binding.WorkflowID)
	writeTwiML(w, body)
}

// handleOutboundConnect answers the provider webhook for an outbound
// leg the dispatcher placed. The call record already exists; the
// binding travels in the connect URL's query string.
func (s *Server) handleOutboundConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	_, span := tracer.Start(r.Context(), "server.outbound-connect")
	defer span.End()

	binding := streamBinding{
		CallID:     r.URL.Query().Get("callId"),
		AgentID:    r.URL.Query().Get("agentId"),
		WorkflowID: r.URL.Query().Get("workflowId"),
		TenantID:   r.URL.Query().Get("tenantId"),
		Language:   r.URL.Query().Get("language"),
	}
	if binding.Language == "" {
		binding.Language = s.defaultLanguage
	}
	if binding.CallID == "" || binding.WorkflowID == "" {
		http.Error(w, "callId and workflowId are required", http.StatusBadRequest)
		return
	}

	body, err := connectStreamTwiML(s.publicHost, binding)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeTwiML(w, body)
}

// twilioTerminalStatuses maps the provider's terminal call statuses
// onto record statuses. Non-terminal updates are acknowledged and
// dropped; the orchestrator tracks in-call progress itself.
var twilioTerminalStatuses = map[string]callrecord.Status{
	"completed": callrecord.StatusCompleted,
	"failed":    callrecord.StatusFailed,
	"busy":      callrecord.StatusBusy,
	"no-answer": callrecord.StatusNoAnswer,
	"canceled":  callrecord.StatusFailed,
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, span := tracer.Start(r.Context(), "server.status-callback")
	defer span.End()

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form payload", http.StatusBadRequest)
		return
	}

	providerCallID := r.PostFormValue("CallSid")
	callStatus := r.PostFormValue("CallStatus")
	duration, _ := strconv.Atoi(r.PostFormValue("CallDuration"))

	status, terminal := twilioTerminalStatuses[callStatus]
	if !terminal {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := s.records.FinalizeByProviderID(ctx, providerCallID, status, duration); err != nil {
		// The record may already be finalized by the orchestrator's
		// own teardown; that is not worth failing the webhook over.
		logger.WarnContext(ctx, "failed to finalize call from status callback",
			"providerCallId", providerCallID, "status", callStatus, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

type outboundCall struct {
	To       string         `json:"to"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type outboundRequest struct {
	AgentID        string         `json:"agentId"`
	WorkflowID     string         `json:"workflowId"`
	TenantID       string         `json:"tenantId"`
	From           string         `json:"from"`
	Calls          []outboundCall `json:"calls"`
	StaggerSeconds int            `json:"staggerSeconds,omitempty"`
}

type outboundResponse struct {
	JobIDs []string `json:"jobIds"`
}

// handleOutbound queues one or more outbound calls on the dispatcher.
func (s *Server) handleOutbound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, span := tracer.Start(r.Context(), "server.outbound")
	defer span.End()

	// Outbound dialing is optional wiring; without provider credentials
	// there is no dispatcher behind this route.
	if s.dispatcher == nil {
		logger.WarnContext(ctx, "outbound call requested but no dispatcher is configured")
		http.Error(w, "outbound dialing is not configured", http.StatusServiceUnavailable)
		return
	}

	var req outboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.WorkflowID == "" || len(req.Calls) == 0 {
		http.Error(w, "workflowId and at least one call are required", http.StatusBadRequest)
		return
	}

	specs := make([]dispatch.JobSpec, 0, len(req.Calls))
	for _, call := range req.Calls {
		if call.To == "" {
			http.Error(w, "every call needs a to number", http.StatusBadRequest)
			return
		}
		specs = append(specs, dispatch.JobSpec{
			AgentID:    req.AgentID,
			WorkflowID: req.WorkflowID,
			TenantID:   req.TenantID,
			ToNumber:   call.To,
			FromNumber: req.From,
			Metadata:   call.Metadata,
		})
	}

	var jobIDs []string
	if len(specs) == 1 {
		jobID, err := s.dispatcher.Enqueue(ctx, specs[0], 0)
		if err != nil {
			logger.ErrorContext(ctx, "failed to enqueue outbound call", "error", err)
			http.Error(w, "failed to enqueue call", http.StatusInternalServerError)
			return
		}
		jobIDs = []string{jobID}
	} else {
		interval := time.Duration(req.StaggerSeconds) * time.Second
		ids, err := s.dispatcher.EnqueueBatch(ctx, specs, interval)
		if err != nil {
			logger.ErrorContext(ctx, "failed to enqueue outbound batch", "error", err)
			http.Error(w, "failed to enqueue calls", http.StatusInternalServerError)
			return
		}
		jobIDs = ids
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(outboundResponse{JobIDs: jobIDs})
}
