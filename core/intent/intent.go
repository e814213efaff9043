// Package intent maps a finalized user utterance onto one of the intents
// a graph node declares. The external classifier is only trusted within
// the node's declared intent set; anything else collapses to the
// fallback sentinel.
package intent

import (
	"context"
	"fmt"
	"strings"

	"github.com/telvox/callflow-core/core/graph"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// FallbackSentinel is the distinguished classification result meaning
// "no declared intent matched".
const FallbackSentinel = "__fallback__"

// Classification is the constrained classifier output.
type Classification struct {
	Intent     string  `json:"intent" jsonschema:"title=Intent,description=Name of the matched intent or __fallback__ when none matches"`
	Confidence float64 `json:"confidence" jsonschema:"title=Confidence,description=Classifier confidence between 0 and 1"`
}

// Classifier is the external classification boundary: prompt in, one
// constrained JSON object out, no streaming.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (Classification, error)
}

// Match is the resolved classification for one utterance.
type Match struct {
	Name         string
	Confidence   float64
	OutputHandle string
}

func (m Match) IsFallback() bool { return m.Name == FallbackSentinel }

type Resolver struct {
	classifier Classifier
}

func NewResolver(classifier Classifier) *Resolver {
	return &Resolver{classifier: classifier}
}

// Classify resolves an utterance against the node's declared intents.
// It never returns an error: transport and parse failures at the
// classifier boundary collapse to a fallback match with confidence 0,
// because a live call must keep moving regardless of classifier health.
func (r *Resolver) Classify(ctx context.Context, utterance string, cfg graph.IntentConfig, variables map[string]any) Match {
	ctx, span := tracer.Start(ctx, "classify intent")
	defer span.End()

	fallback := Match{
		Name:         FallbackSentinel,
		OutputHandle: cfg.FallbackHandle,
	}

	classification, err := r.classifier.Classify(ctx, BuildPrompt(utterance, cfg, variables))
	if err != nil {
		recordedErr := fmt.Errorf("intent classification failed: %w", err)
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
		logger.WarnContext(ctx, "Intent classification failed, falling back", "error", err)
		return fallback
	}

	span.SetAttributes(
		attribute.String("intent.name", classification.Intent),
		attribute.Float64("intent.confidence", classification.Confidence),
	)

	if classification.Intent == FallbackSentinel || classification.Confidence < cfg.ConfidenceThreshold {
		fallback.Confidence = classification.Confidence
		return fallback
	}

	for _, declared := range cfg.Intents {
		if declared.Name == classification.Intent {
			return Match{
				Name:         declared.Name,
				Confidence:   classification.Confidence,
				OutputHandle: declared.OutputHandle,
			}
		}
	}

	// The classifier named something the node never declared.
	return fallback
}

// BuildPrompt renders the enumerated-intent classification prompt for
// one utterance.
func BuildPrompt(utterance string, cfg graph.IntentConfig, variables map[string]any) string {
	var b strings.Builder
	b.WriteString("You are an intent classifier for a voice AI system. Classify the user's message into one of the following intents.\n\n")
	b.WriteString("Available intents:\n")
	for _, declared := range cfg.Intents {
		quoted := make([]string, 0, len(declared.Examples))
		for _, example := range declared.Examples {
			quoted = append(quoted, fmt.Sprintf("%q", example))
		}
		fmt.Fprintf(&b, "- %q: Examples: %s\n", declared.Name, strings.Join(quoted, ", "))
	}

	if len(variables) > 0 {
		b.WriteString("\nKnown conversation context:\n")
		for name, value := range variables {
			fmt.Fprintf(&b, "- %s: %v\n", name, value)
		}
	}

	fmt.Fprintf(&b, "\nUser message: %q\n\n", utterance)
	b.WriteString(`Respond with ONLY a JSON object: {"intent": "<intent_name>", "confidence": <0.0-1.0>}` + "\n")
	b.WriteString(`If no intent matches well, respond with: {"intent": "__fallback__", "confidence": 0.0}`)
	return b.String()
}
