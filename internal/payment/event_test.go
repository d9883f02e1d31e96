package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEventCaptured(t *testing.T) {
	body := []byte(`{
		"event": "payment.captured",
		"payload": {"payment": {"entity": {
			"id": "pay_1",
			"order_id": "order_1",
			"amount": 11800,
			"notes": {"buyer_id": "7"}
		}}}
	}`)

	ev, err := DecodeEvent(body)
	require.NoError(t, err)
	assert.Equal(t, EventCaptured, ev.Kind)
	assert.Equal(t, "order_1", ev.IntentID)
	assert.Equal(t, "pay_1", ev.PaymentID)
	assert.Equal(t, uint64(7), ev.BuyerID)
	assert.Equal(t, uint64(11800), ev.AmountCents)
	assert.Empty(t, ev.Reason)
}

func TestDecodeEventFailed(t *testing.T) {
	body := []byte(`{
		"event": "payment.failed",
		"payload": {"payment": {"entity": {
			"id": "pay_1",
			"order_id": "order_1",
			"error_description": "card declined",
			"notes": {"buyer_id": "7"}
		}}}
	}`)

	ev, err := DecodeEvent(body)
	require.NoError(t, err)
	assert.Equal(t, EventFailed, ev.Kind)
	assert.Equal(t, "card declined", ev.Reason)
}

func TestDecodeEventUnknownKindIsIgnored(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"event":"refund.processed","payload":{}}`))
	require.NoError(t, err)
	assert.Equal(t, EventIgnored, ev.Kind)
}

func TestDecodeEventMalformedBody(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"event":`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestDecodeEventMissingBuyerNote(t *testing.T) {
	body := []byte(`{
		"event": "payment.captured",
		"payload": {"payment": {"entity": {"id": "pay_1", "order_id": "order_1"}}}
	}`)
	_, err := DecodeEvent(body)
	assert.ErrorIs(t, err, ErrMalformedEvent)
}
