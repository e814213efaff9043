package server

import (
	"encoding/xml"
	"fmt"
	"net/http"
)

// Provider call-control directives, rendered as TwiML.

type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Say     *twimlSay     `xml:"Say,omitempty"`
	Connect *twimlConnect `xml:"Connect,omitempty"`
	Hangup  *twimlHangup  `xml:"Hangup,omitempty"`
}

type twimlSay struct {
	Text string `xml:",chardata"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type twimlHangup struct{}

// streamBinding is everything the media-stream handler needs to pick
// the call back up once the provider connects the websocket.
type streamBinding struct {
	CallID     string
	AgentID    string
	WorkflowID string
	TenantID   string
	Language   string
}

func (b streamBinding) parameters() []twimlParameter {
	return []twimlParameter{
		{Name: "callId", Value: b.CallID},
		{Name: "agentId", Value: b.AgentID},
		{Name: "workflowId", Value: b.WorkflowID},
		{Name: "tenantId", Value: b.TenantID},
		{Name: "language", Value: b.Language},
	}
}

func connectStreamTwiML(host string, binding streamBinding) ([]byte, error) {
	directive := twimlResponse{
		Connect: &twimlConnect{
			Stream: twimlStream{
				URL:        fmt.Sprintf("wss://%s/voice/media-stream", host),
				Parameters: binding.parameters(),
			},
		},
	}
	body, err := xml.Marshal(directive)
	if err != nil {
		return nil, fmt.Errorf("failed to render connect-stream directive: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

func rejectionTwiML(message string) ([]byte, error) {
	directive := twimlResponse{
		Say:    &twimlSay{Text: message},
		Hangup: &twimlHangup{},
	}
	body, err := xml.Marshal(directive)
	if err != nil {
		return nil, fmt.Errorf("failed to render rejection directive: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

func writeTwiML(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
