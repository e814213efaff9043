// Package openai implements the intent.Classifier boundary with the
// OpenAI Chat Completions API. Requests are deterministic (temperature
// zero) and the output is constrained by a JSON schema reflected from
// intent.Classification.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/telvox/callflow-core/core/intent"
)

// Options configure the classifier adapter. The defaults favour cheap,
// reproducible classification over expressiveness.
type Options struct {
	Model               string
	MaxCompletionTokens int64
}

type Classifier struct {
	client *openai.Client
	opts   Options
	schema *jsonschema.Schema
}

// NewClassifier creates a classifier using the default OpenAI client
// (reads OPENAI_API_KEY from the environment).
func NewClassifier(optFns ...func(o *Options)) *Classifier {
	client := openai.NewClient()
	return NewClassifierFromClient(&client, optFns...)
}

// NewClassifierFromClient creates a classifier from an existing client.
func NewClassifierFromClient(client *openai.Client, optFns ...func(o *Options)) *Classifier {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		MaxCompletionTokens: 100,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	reflector := jsonschema.Reflector{DoNotReference: true}
	return &Classifier{
		client: client,
		opts:   opts,
		schema: reflector.Reflect(&intent.Classification{}),
	}
}

var _ intent.Classifier = (*Classifier)(nil)

func (c *Classifier) Classify(ctx context.Context, prompt string) (intent.Classification, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.opts.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature:         openai.Float(0),
		MaxCompletionTokens: openai.Int(c.opts.MaxCompletionTokens),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "intent_classification",
					Schema: c.schema,
					Strict: openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return intent.Classification{}, fmt.Errorf("failed to prompt intent classifier: %w", err)
	}
	if len(resp.Choices) == 0 {
		return intent.Classification{}, fmt.Errorf("no response from intent classifier")
	}

	var classification intent.Classification
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &classification); err != nil {
		return intent.Classification{}, fmt.Errorf("failed to unmarshal intent classification response: %w", err)
	}
	return classification, nil
}
