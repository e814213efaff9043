// Package deepgram synthesizes speech through Deepgram's batch speak
// endpoint, returning mulaw audio ready for a telephony media stream.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const speakURL = "https://api.deepgram.com/v1/speak"

// voiceForLanguage picks the synthesis voice. Hindi and Hinglish ride on
// the default English voice until a dedicated one ships.
var voiceForLanguage = map[string]string{
	"en-US":    "aura-asteria-en",
	"hi-IN":    "aura-asteria-en",
	"hinglish": "aura-asteria-en",
}

const defaultVoice = "aura-asteria-en"

type TextToSpeechClient struct {
	apiKey     string
	httpClient *http.Client
}

type ClientOption func(*TextToSpeechClient)

func WithAPIKey(apiKey string) ClientOption {
	return func(c *TextToSpeechClient) { c.apiKey = apiKey }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *TextToSpeechClient) { c.httpClient = client }
}

func NewTextToSpeechClient(opts ...ClientOption) (*TextToSpeechClient, error) {
	client := &TextToSpeechClient{
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(client)
	}

	if client.apiKey == "" {
		apiKey, ok := os.LookupEnv("DEEPGRAM_API_KEY")
		if !ok {
			return nil, fmt.Errorf("deepgram api key not found")
		}
		client.apiKey = apiKey
	}

	return client, nil
}

// Synthesize renders text into 8kHz mono mulaw audio.
func (c *TextToSpeechClient) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	voice, ok := voiceForLanguage[language]
	if !ok {
		voice = defaultVoice
	}

	body, err := json.Marshal(struct {
		Text string `json:"text"`
	}{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to encode speak request: %w", err)
	}

	requestURL, _ := url.Parse(speakURL)
	queryParams := requestURL.Query()
	queryParams.Set("model", voice)
	queryParams.Set("encoding", "mulaw")
	queryParams.Set("sample_rate", "8000")
	queryParams.Set("container", "none")
	requestURL.RawQuery = queryParams.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build speak request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call deepgram speak: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("deepgram speak returned status %d: %s", resp.StatusCode, msg)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read synthesized audio: %w", err)
	}
	return audio, nil
}
