// Package guardrail screens each user utterance with cheap deterministic
// checks before any paid classification runs. The checks double as the
// human-escalation trigger: retry exhaustion is reported here regardless
// of what the classifier would have said.
package guardrail

import (
	"strings"

	"github.com/telvox/callflow-core/core/session"
)

type Reason string

const (
	ReasonAbuse          Reason = "abuse"
	ReasonRetryExhausted Reason = "retry_exhausted"
	ReasonEmptyInput     Reason = "empty_input"
)

// Verdict is the outcome of screening one utterance. ResponseText is
// what the agent should say when the utterance is blocked.
type Verdict struct {
	Blocked      bool
	ResponseText string
	Reason       Reason
}

const DefaultRetryThreshold = 3

// curated, lower-case; matched as substrings so inflected forms trip too
var defaultAbuseTerms = []string{
	"fuck", "shit", "damn", "bastard", "idiot", "stupid",
	"gaali", "bakwas", "bevkoof", "chutiya", "madarchod",
}

type Policy struct {
	abuseTerms     []string
	retryThreshold int
}

type Option func(*Policy)

// WithAbuseTerms replaces the curated abuse term list. Terms are matched
// case-insensitively as substrings.
func WithAbuseTerms(terms ...string) Option {
	return func(p *Policy) {
		p.abuseTerms = make([]string, 0, len(terms))
		for _, term := range terms {
			p.abuseTerms = append(p.abuseTerms, strings.ToLower(term))
		}
	}
}

func WithRetryThreshold(threshold int) Option {
	return func(p *Policy) { p.retryThreshold = threshold }
}

func NewPolicy(opts ...Option) *Policy {
	p := &Policy{
		abuseTerms:     defaultAbuseTerms,
		retryThreshold: DefaultRetryThreshold,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RetryThreshold reports the configured escalation threshold.
func (p *Policy) RetryThreshold() int { return p.retryThreshold }

// Evaluate applies the rules in fixed order, first match wins: abuse,
// retry exhaustion, empty input.
func (p *Policy) Evaluate(utterance string, state session.State) Verdict {
	lowered := strings.ToLower(utterance)
	for _, term := range p.abuseTerms {
		if strings.Contains(lowered, term) {
			return Verdict{
				Blocked:      true,
				ResponseText: "I understand you're frustrated. Let me help you with your query. Please keep the conversation respectful.",
				Reason:       ReasonAbuse,
			}
		}
	}

	if state.RetryCount >= p.retryThreshold {
		return Verdict{
			Blocked:      true,
			ResponseText: "I'm sorry, I'm having trouble understanding your request. Let me transfer you to a human agent.",
			Reason:       ReasonRetryExhausted,
		}
	}

	if len(strings.TrimSpace(utterance)) < 2 {
		return Verdict{
			Blocked:      true,
			ResponseText: "I didn't catch that. Could you please say that again?",
			Reason:       ReasonEmptyInput,
		}
	}

	return Verdict{}
}
