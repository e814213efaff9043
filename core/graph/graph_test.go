package graph

import (
	"errors"
	"testing"
)

func definitionWithNodes(nodes ...Node) Definition {
	return Definition{Nodes: nodes}
}

func TestLoadRequiresExactlyOneStartNode(t *testing.T) {
	if _, err := Load(definitionWithNodes(
		Node{ID: "a", Kind: NodeKindResponse},
	)); !errors.Is(err, ErrNoStartNode) {
		t.Fatalf("expected ErrNoStartNode, got %v", err)
	}

	if _, err := Load(definitionWithNodes(
		Node{ID: "a", Kind: NodeKindStart},
		Node{ID: "b", Kind: NodeKindStart},
	)); !errors.Is(err, ErrMultipleStartNode) {
		t.Fatalf("expected ErrMultipleStartNode, got %v", err)
	}

	g, err := Load(definitionWithNodes(
		Node{ID: "a", Kind: NodeKindStart},
		Node{ID: "b", Kind: NodeKindResponse},
	))
	if err != nil {
		t.Fatalf("expected valid graph, got error %v", err)
	}
	if got := g.Start(); got != "a" {
		t.Fatalf("expected start node %q, got %q", "a", got)
	}
}

func TestNextNodePrefersHandleThenDefaultThenDeclaredOrder(t *testing.T) {
	g, err := Load(Definition{
		Nodes: []Node{
			{ID: "start", Kind: NodeKindStart},
			{ID: "yes", Kind: NodeKindResponse},
			{ID: "no", Kind: NodeKindResponse},
			{ID: "any", Kind: NodeKindResponse},
		},
		Edges: []Edge{
			{ID: "e1", Source: "start", SourceHandle: "yes", Target: "yes"},
			{ID: "e2", Source: "start", SourceHandle: "no", Target: "no"},
			{ID: "e3", Source: "start", Target: "any"},
		},
	})
	if err != nil {
		t.Fatalf("failed to load graph: %v", err)
	}

	if next, ok := g.NextNode("start", "no"); !ok || next != "no" {
		t.Fatalf("expected handle edge to win, got %q (ok=%t)", next, ok)
	}
	if next, ok := g.NextNode("start", ""); !ok || next != "any" {
		t.Fatalf("expected unhandled edge as default, got %q (ok=%t)", next, ok)
	}
	if next, ok := g.NextNode("start", "unknown"); !ok || next != "any" {
		t.Fatalf("expected fallback to default edge for unknown handle, got %q (ok=%t)", next, ok)
	}
}

func TestNextNodeFirstEdgeWhenNoDefault(t *testing.T) {
	g, err := Load(Definition{
		Nodes: []Node{
			{ID: "start", Kind: NodeKindStart},
			{ID: "yes", Kind: NodeKindResponse},
		},
		Edges: []Edge{
			{ID: "e1", Source: "start", SourceHandle: "yes", Target: "yes"},
		},
	})
	if err != nil {
		t.Fatalf("failed to load graph: %v", err)
	}

	if next, ok := g.NextNode("start", ""); !ok || next != "yes" {
		t.Fatalf("expected first declared edge, got %q (ok=%t)", next, ok)
	}
}

func TestNextNodeTerminalWhenNoEdges(t *testing.T) {
	g, err := Load(definitionWithNodes(Node{ID: "start", Kind: NodeKindStart}))
	if err != nil {
		t.Fatalf("failed to load graph: %v", err)
	}

	if next, ok := g.NextNode("start", "anything"); ok {
		t.Fatalf("expected terminal node, got next %q", next)
	}
}

func TestResolveIsStrict(t *testing.T) {
	g, err := Load(Definition{
		Nodes: []Node{
			{ID: "start", Kind: NodeKindStart},
			{ID: "other", Kind: NodeKindResponse},
		},
		Edges: []Edge{
			{ID: "e1", Source: "start", Target: "other"},
		},
	})
	if err != nil {
		t.Fatalf("failed to load graph: %v", err)
	}

	if next, ok := g.Resolve("start", "missing"); ok {
		t.Fatalf("expected strict resolve to miss, got %q", next)
	}
}

func TestNodeLookup(t *testing.T) {
	g, err := Load(definitionWithNodes(Node{ID: "start", Kind: NodeKindStart}))
	if err != nil {
		t.Fatalf("failed to load graph: %v", err)
	}

	if _, err := g.Node("start"); err != nil {
		t.Fatalf("expected node lookup to succeed, got %v", err)
	}
	if _, err := g.Node("ghost"); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestParseDecodesTaggedConfigs(t *testing.T) {
	g, err := Parse([]byte(`{
		"nodes": [
			{"id": "n1", "type": "start", "data": {"label": "Greeting", "config": {"greetingText": "Hello {{name}}"}}},
			{"id": "n2", "type": "intent", "data": {"config": {
				"intents": [{"name": "billing", "examples": ["my bill"], "outputHandle": "billing"}],
				"fallbackHandle": "fallback",
				"confidenceThreshold": 0.7
			}}},
			{"id": "n3", "type": "hologram", "data": {"config": {"weird": true}}}
		],
		"edges": [{"id": "e1", "source": "n1", "target": "n2"}]
	}`))
	if err != nil {
		t.Fatalf("failed to parse graph: %v", err)
	}

	start, err := g.Node("n1")
	if err != nil {
		t.Fatalf("failed to look up start node: %v", err)
	}
	cfg, ok := start.Config.(StartConfig)
	if !ok {
		t.Fatalf("expected StartConfig, got %T", start.Config)
	}
	if cfg.GreetingText != "Hello {{name}}" {
		t.Fatalf("unexpected greeting text %q", cfg.GreetingText)
	}

	intentNode, err := g.Node("n2")
	if err != nil {
		t.Fatalf("failed to look up intent node: %v", err)
	}
	intentCfg, ok := intentNode.Config.(IntentConfig)
	if !ok {
		t.Fatalf("expected IntentConfig, got %T", intentNode.Config)
	}
	if intentCfg.ConfidenceThreshold != 0.7 || len(intentCfg.Intents) != 1 {
		t.Fatalf("unexpected intent config %+v", intentCfg)
	}

	unknown, err := g.Node("n3")
	if err != nil {
		t.Fatalf("failed to look up unknown-kind node: %v", err)
	}
	if unknown.Config != nil {
		t.Fatalf("expected nil config for unknown kind, got %T", unknown.Config)
	}
}

func TestInterpolate(t *testing.T) {
	got := Interpolate("Hi {{name}}", map[string]any{"name": "Sam"})
	if got != "Hi Sam" {
		t.Fatalf("expected %q, got %q", "Hi Sam", got)
	}

	got = Interpolate("Hi {{missing}}", map[string]any{})
	if got != "Hi {{missing}}" {
		t.Fatalf("expected unresolved token to stay verbatim, got %q", got)
	}

	got = Interpolate("Order {{id}} for {{name}}", map[string]any{"id": 42, "name": "Sam"})
	if got != "Order 42 for Sam" {
		t.Fatalf("expected stringified values, got %q", got)
	}
}

func TestParseDefaultsConfigForRecognisedKinds(t *testing.T) {
	g, err := Parse([]byte(`{
		"nodes": [
			{"id": "n1", "type": "start", "data": {"config": {"greetingText": "Hi"}}},
			{"id": "n2", "type": "disconnect", "data": {"label": "bye"}},
			{"id": "n3", "type": "intent", "data": {"config": null}}
		],
		"edges": []
	}`))
	if err != nil {
		t.Fatalf("failed to parse graph: %v", err)
	}

	disconnect, err := g.Node("n2")
	if err != nil {
		t.Fatalf("failed to look up disconnect node: %v", err)
	}
	if _, ok := disconnect.Config.(DisconnectConfig); !ok {
		t.Fatalf("expected zero DisconnectConfig for config-less node, got %T", disconnect.Config)
	}

	intentNode, err := g.Node("n3")
	if err != nil {
		t.Fatalf("failed to look up intent node: %v", err)
	}
	if _, ok := intentNode.Config.(IntentConfig); !ok {
		t.Fatalf("expected zero IntentConfig for null config, got %T", intentNode.Config)
	}
}
