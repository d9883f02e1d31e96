// Package payment adapts the external payment gateway: creating
// payment intents over its REST API and verifying the signatures on
// everything it sends back.  The rest of the system treats gateway
// input as untrusted until a signature check has passed.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// ErrUpstreamGateway is returned when the gateway cannot be reached
// or answers with a server error after the bounded retries are
// exhausted.  The caller's reservation stays intact so the buyer can
// retry payment without re-claiming keys.
var ErrUpstreamGateway = errors.New("upstream gateway error")

// Intent is a remote payment intent created for a quoted total.  The
// ID is the payment reference carried through confirmation, webhook
// and settlement.
type Intent struct {
	ID          string `json:"id"`
	AmountCents uint64 `json:"amount"`
	Currency    string `json:"currency"`
}

// Gateway creates payment intents.  Implemented over the provider's
// REST API in production and by a fake in tests.
type Gateway interface {
	CreateIntent(ctx context.Context, amountCents uint64, currency string, notes map[string]string) (*Intent, error)
}

// restGateway talks to the provider's orders endpoint with basic
// auth.  Server errors and transport failures are retried a small
// bounded number of times with backoff before surfacing
// ErrUpstreamGateway.
type restGateway struct {
	client  *resty.Client
	retries int
}

// NewGateway returns a Gateway over the provider's REST API.  keyID
// and keySecret are the merchant credentials; baseURL points at the
// provider (e.g. https://api.razorpay.com).
func NewGateway(baseURL, keyID, keySecret string) Gateway {
	client := resty.New().
		SetBaseURL(baseURL).
		SetBasicAuth(keyID, keySecret).
		SetTimeout(10 * time.Second)
	return &restGateway{client: client, retries: 3}
}

// CreateIntent creates a remote payment intent for the given amount.
// Each attempt sends a fresh receipt id so the provider can
// de-duplicate on its side.
func (g *restGateway) CreateIntent(ctx context.Context, amountCents uint64, currency string, notes map[string]string) (*Intent, error) {
	body := map[string]interface{}{
		"amount":   amountCents,
		"currency": currency,
		"receipt":  uuid.New().String(),
		"notes":    notes,
	}
	backoff := 500 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < g.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		var intent Intent
		resp, err := g.client.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(&intent).
			Post("/v1/orders")
		if err != nil {
			lastErr = err
			log.Printf("payment: create intent attempt %d failed: %v", attempt+1, err)
			continue
		}
		if resp.StatusCode() >= 500 {
			lastErr = fmt.Errorf("gateway returned %d", resp.StatusCode())
			log.Printf("payment: create intent attempt %d: %v", attempt+1, lastErr)
			continue
		}
		if resp.IsError() {
			// 4xx is not retryable; the request itself is wrong.
			return nil, fmt.Errorf("payment: create intent rejected: %d", resp.StatusCode())
		}
		return &intent, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUpstreamGateway, lastErr)
}
