// Package graph holds the compiled, read-only form of a conversation
// definition: an O(1) node index plus a per-source edge index used by the
// orchestrator to resolve transitions.
package graph

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNoStartNode       = errors.New("conversation graph has no start node")
	ErrMultipleStartNode = errors.New("conversation graph has more than one start node")
	ErrNodeNotFound      = errors.New("node not found")
)

type Graph struct {
	nodes         map[string]Node
	edgesBySource map[string][]Edge
	startID       string
}

// Load compiles a definition. It fails if the single-start-node invariant
// does not hold; all other authoring concerns are validated upstream.
func Load(def Definition) (*Graph, error) {
	g := &Graph{
		nodes:         make(map[string]Node, len(def.Nodes)),
		edgesBySource: make(map[string][]Edge),
	}

	for _, node := range def.Nodes {
		g.nodes[node.ID] = node
		if node.Kind == NodeKindStart {
			if g.startID != "" {
				return nil, ErrMultipleStartNode
			}
			g.startID = node.ID
		}
	}
	if g.startID == "" {
		return nil, ErrNoStartNode
	}

	for _, edge := range def.Edges {
		g.edgesBySource[edge.Source] = append(g.edgesBySource[edge.Source], edge)
	}

	return g, nil
}

// Parse decodes a raw JSON definition and compiles it.
func Parse(data []byte) (*Graph, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to decode conversation graph: %w", err)
	}
	return Load(def)
}

// Start returns the id of the unique start node.
func (g *Graph) Start() string {
	return g.startID
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (Node, error) {
	node, ok := g.nodes[id]
	if !ok {
		return Node{}, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return node, nil
}

// NextNode resolves the default transition out of a node. When handle is
// non-empty the edge with that sourceHandle wins; otherwise the first edge
// without a sourceHandle, falling back to the first edge in declared
// order. ok is false when the node is terminal.
func (g *Graph) NextNode(nodeID, handle string) (string, bool) {
	edges := g.edgesBySource[nodeID]
	if len(edges) == 0 {
		return "", false
	}

	if handle != "" {
		for _, edge := range edges {
			if edge.SourceHandle == handle {
				return edge.Target, true
			}
		}
	}

	for _, edge := range edges {
		if edge.SourceHandle == "" {
			return edge.Target, true
		}
	}
	return edges[0].Target, true
}

// Resolve is the strict named-handle lookup used for intent and logic
// branches. Unlike NextNode it never falls back to another edge.
func (g *Graph) Resolve(nodeID, handle string) (string, bool) {
	for _, edge := range g.edgesBySource[nodeID] {
		if edge.SourceHandle == handle {
			return edge.Target, true
		}
	}
	return "", false
}
