package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const twilioAPIBase = "https://api.twilio.com"

// TwilioClient implements Dialer and Controller against the Twilio REST
// API.
type TwilioClient struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

var (
	_ Dialer     = (*TwilioClient)(nil)
	_ Controller = (*TwilioClient)(nil)
)

type TwilioOption func(*TwilioClient)

// WithBaseURL overrides the API endpoint, used by tests.
func WithBaseURL(baseURL string) TwilioOption {
	return func(c *TwilioClient) { c.baseURL = baseURL }
}

func WithHTTPClient(client *http.Client) TwilioOption {
	return func(c *TwilioClient) { c.httpClient = client }
}

func NewTwilioClient(accountSID, authToken string, opts ...TwilioOption) *TwilioClient {
	client := &TwilioClient{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    twilioAPIBase,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

func (c *TwilioClient) PlaceCall(ctx context.Context, req CallRequest) (string, error) {
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	form.Set("Url", req.ConnectURL)
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
		for _, event := range []string{"completed", "failed", "busy", "no-answer"} {
			form.Add("StatusCallbackEvent", event)
		}
	}

	var created struct {
		SID string `json:"sid"`
	}
	if err := c.post(ctx, fmt.Sprintf("/2010-04-01/Accounts/%s/Calls.json", c.accountSID), form, &created); err != nil {
		return "", err
	}
	return created.SID, nil
}

func (c *TwilioClient) TransferCall(ctx context.Context, providerCallID, phoneNumber string) error {
	form := url.Values{}
	form.Set("Twiml", fmt.Sprintf("<Response><Dial>%s</Dial></Response>", phoneNumber))
	return c.post(ctx, c.callPath(providerCallID), form, nil)
}

func (c *TwilioClient) EndCall(ctx context.Context, providerCallID string) error {
	form := url.Values{}
	form.Set("Status", "completed")
	return c.post(ctx, c.callPath(providerCallID), form, nil)
}

func (c *TwilioClient) callPath(providerCallID string) string {
	return fmt.Sprintf("/2010-04-01/Accounts/%s/Calls/%s.json", c.accountSID, providerCallID)
}

func (c *TwilioClient) post(ctx context.Context, path string, form url.Values, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build twilio request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call twilio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &ProviderError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			// 429 and 5xx are worth retrying; 4xx rejections are not.
			Transient: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
	}

	if into == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("failed to decode twilio response: %w", err)
	}
	return nil
}
