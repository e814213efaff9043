package orchestration

import (
	"github.com/telvox/callflow-core/core/events"
	"github.com/telvox/callflow-core/core/graph"
	"go.opentelemetry.io/otel/attribute"
)

// Timer-driven events posted back into the loop so escalation and
// hangup actions run on the Run goroutine like everything else.
const (
	kindEscalationDue events.Kind = "escalation-due"
	kindHangupDue     events.Kind = "hangup-due"
)

type escalationDueEvent struct {
	events.Base
}

func newEscalationDueEvent() escalationDueEvent {
	return escalationDueEvent{Base: events.NewBase(kindEscalationDue)}
}

type hangupDueEvent struct {
	events.Base
}

func newHangupDueEvent() hangupDueEvent {
	return hangupDueEvent{Base: events.NewBase(kindHangupDue)}
}

func nodeAttributes(node graph.Node) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("node.id", node.ID),
		attribute.String("node.kind", string(node.Kind)),
	}
}
