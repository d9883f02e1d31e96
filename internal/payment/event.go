package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrMalformedEvent tags webhook bodies that passed signature
// verification but cannot be acted on: unparseable JSON, or a known
// event kind missing the buyer note.  Redelivery of the same body
// can never fix either, so callers acknowledge and drop these.
var ErrMalformedEvent = errors.New("malformed webhook event")

// Webhook event kinds after decoding.  Unknown gateway events map to
// EventIgnored: the delivery is acknowledged with 2xx and nothing
// else happens, so new event types on the provider side can never
// crash the endpoint.
const (
	EventCaptured = "captured"
	EventFailed   = "failed"
	EventIgnored  = "ignored"
)

// Event is the decoded form of a webhook delivery: a tagged union of
// the variants the service acts on.  It is only constructed after
// the raw body has passed signature verification.
type Event struct {
	Kind        string // EventCaptured, EventFailed or EventIgnored
	IntentID    string // gateway order/intent id
	PaymentID   string // gateway payment id
	BuyerID     uint64 // buyer id carried in the intent notes
	AmountCents uint64
	Reason      string // failure description, empty for captured
}

// webhookBody mirrors the provider's envelope. Only the fields the
// service reads are declared; everything else is ignored by the
// JSON decoder.
type webhookBody struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID               string            `json:"id"`
				OrderID          string            `json:"order_id"`
				Amount           uint64            `json:"amount"`
				ErrorDescription string            `json:"error_description"`
				Notes            map[string]string `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// DecodeEvent parses a verified webhook body into an Event.  Known
// kinds are payment.captured and payment.failed; anything else
// decodes to EventIgnored.  A malformed body or a known kind missing
// its buyer note is an error, because the service cannot act on it.
func DecodeEvent(body []byte) (*Event, error) {
	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	var kind string
	switch wb.Event {
	case "payment.captured":
		kind = EventCaptured
	case "payment.failed":
		kind = EventFailed
	default:
		return &Event{Kind: EventIgnored}, nil
	}
	entity := wb.Payload.Payment.Entity
	buyerID, err := strconv.ParseUint(entity.Notes["buyer_id"], 10, 64)
	if err != nil || buyerID == 0 {
		return nil, fmt.Errorf("%w: missing buyer note on %s", ErrMalformedEvent, wb.Event)
	}
	return &Event{
		Kind:        kind,
		IntentID:    entity.OrderID,
		PaymentID:   entity.ID,
		BuyerID:     buyerID,
		AmountCents: entity.Amount,
		Reason:      entity.ErrorDescription,
	}, nil
}
