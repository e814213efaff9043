package graph

import (
	"encoding/json"
	"fmt"
)

type NodeKind string

const (
	NodeKindStart      NodeKind = "start"
	NodeKindIntent     NodeKind = "intent"
	NodeKindResponse   NodeKind = "response"
	NodeKindTransfer   NodeKind = "transfer"
	NodeKindFallback   NodeKind = "fallback"
	NodeKindDisconnect NodeKind = "disconnect"
	NodeKindLogic      NodeKind = "logic"
)

// NodeConfig is the kind-dependent payload of a node. Concrete types are
// selected while decoding a definition, so callers dispatch with a type
// switch rather than poking at untyped maps.
type NodeConfig interface{ nodeConfig() }

type StartConfig struct {
	GreetingText     string `json:"greetingText"`
	GreetingAudioURL string `json:"greetingAudioUrl,omitempty"`
}

type Intent struct {
	Name         string   `json:"name"`
	Examples     []string `json:"examples"`
	OutputHandle string   `json:"outputHandle"`
}

type IntentConfig struct {
	Intents             []Intent `json:"intents"`
	FallbackHandle      string   `json:"fallbackHandle"`
	ConfidenceThreshold float64  `json:"confidenceThreshold"`
	RetryThreshold      int      `json:"retryThreshold,omitempty"`
}

type ResponseConfig struct {
	Text           string `json:"text"`
	SSML           string `json:"ssml,omitempty"`
	ExpectResponse bool   `json:"expectResponse"`
	SaveResponseAs string `json:"saveResponseAs,omitempty"`
}

type TransferConfig struct {
	PhoneNumber  string `json:"phoneNumber"`
	SIPURI       string `json:"sipUri,omitempty"`
	WhisperText  string `json:"whisperText,omitempty"`
	WarmTransfer bool   `json:"warmTransfer"`
}

type FallbackConfig struct {
	RetryCount     int    `json:"retryCount"`
	FallbackText   string `json:"fallbackText"`
	EscalateToNode string `json:"escalateToNode,omitempty"`
}

type DisconnectConfig struct {
	GoodbyeText string `json:"goodbyeText"`
	Reason      string `json:"reason,omitempty"`
}

type LogicCondition struct {
	Variable     string `json:"variable"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
	OutputHandle string `json:"outputHandle"`
}

type LogicConfig struct {
	Conditions    []LogicCondition `json:"conditions"`
	DefaultHandle string           `json:"defaultHandle"`
}

func (StartConfig) nodeConfig()      {}
func (IntentConfig) nodeConfig()     {}
func (ResponseConfig) nodeConfig()   {}
func (TransferConfig) nodeConfig()   {}
func (FallbackConfig) nodeConfig()   {}
func (DisconnectConfig) nodeConfig() {}
func (LogicConfig) nodeConfig()      {}

type Node struct {
	ID    string
	Kind  NodeKind
	Label string
	// Config is nil only for kinds this engine does not recognise; the
	// orchestrator treats those nodes as pass-through. Recognised kinds
	// always carry their typed config, zero-valued when the definition
	// omitted it.
	Config NodeConfig
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID   string   `json:"id"`
		Type NodeKind `json:"type"`
		Data struct {
			Label  string          `json:"label"`
			Config json.RawMessage `json:"config"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	n.ID = raw.ID
	n.Kind = raw.Type
	n.Label = raw.Data.Label
	n.Config = nil

	decode := func(into NodeConfig) error {
		if len(raw.Data.Config) == 0 || string(raw.Data.Config) == "null" {
			return nil
		}
		if err := json.Unmarshal(raw.Data.Config, into); err != nil {
			return fmt.Errorf("failed to decode %s node %q config: %w", raw.Type, raw.ID, err)
		}
		return nil
	}

	switch raw.Type {
	case NodeKindStart:
		cfg := &StartConfig{}
		if err := decode(cfg); err != nil {
			return err
		}
		n.Config = *cfg
	case NodeKindIntent:
		cfg := &IntentConfig{}
		if err := decode(cfg); err != nil {
			return err
		}
		n.Config = *cfg
	case NodeKindResponse:
		cfg := &ResponseConfig{}
		if err := decode(cfg); err != nil {
			return err
		}
		n.Config = *cfg
	case NodeKindTransfer:
		cfg := &TransferConfig{}
		if err := decode(cfg); err != nil {
			return err
		}
		n.Config = *cfg
	case NodeKindFallback:
		cfg := &FallbackConfig{}
		if err := decode(cfg); err != nil {
			return err
		}
		n.Config = *cfg
	case NodeKindDisconnect:
		cfg := &DisconnectConfig{}
		if err := decode(cfg); err != nil {
			return err
		}
		n.Config = *cfg
	case NodeKindLogic:
		cfg := &LogicConfig{}
		if err := decode(cfg); err != nil {
			return err
		}
		n.Config = *cfg
	}

	return nil
}

type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	Target       string `json:"target"`
	Label        string `json:"label,omitempty"`
}

// Definition is the wire form of a conversation graph as produced by the
// authoring surface.
type Definition struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}
