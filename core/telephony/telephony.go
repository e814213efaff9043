// Package telephony is the control-plane boundary to the call provider:
// placing outbound legs, transferring and ending live ones. Media flows
// over the provider's stream, not through this package.
package telephony

import (
	"context"
	"errors"
	"fmt"
)

// CallRequest describes one outbound leg to place.
type CallRequest struct {
	To   string
	From string
	// ConnectURL is the callback the provider hits once the leg is
	// answered; it must reply with the directive joining the leg to the
	// media stream.
	ConnectURL string
	// StatusCallbackURL receives the terminal status of the leg.
	StatusCallbackURL string
}

// Dialer places outbound call legs with the provider.
type Dialer interface {
	// PlaceCall requests the provider create a leg and returns the
	// provider's call id.
	PlaceCall(ctx context.Context, req CallRequest) (string, error)
}

// Controller manipulates a live leg.
type Controller interface {
	// TransferCall redirects a live leg to a phone number.
	TransferCall(ctx context.Context, providerCallID, phoneNumber string) error
	// EndCall hangs up a live leg.
	EndCall(ctx context.Context, providerCallID string) error
}

// ProviderError is a rejection from the telephony provider. Transient
// rejections are eligible for the dispatcher's backoff retry; permanent
// ones fail the job outright.
type ProviderError struct {
	StatusCode int
	Message    string
	Transient  bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("telephony provider rejected request (status %d): %s", e.StatusCode, e.Message)
}

// IsTransient reports whether err is a provider rejection worth
// retrying.
func IsTransient(err error) bool {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}
	// Transport-level failures (timeouts, resets) are transient by
	// definition.
	return err != nil
}
