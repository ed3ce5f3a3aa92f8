package paystack

import "encoding/json"

// Webhook event names this service handles.
const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"
)

// WebhookEvent is the envelope Paystack posts to the webhook endpoint.
type WebhookEvent struct {
	Event string          `json:"event"`
	Data  WebhookData     `json:"data"`
	Raw   json.RawMessage `json:"-"`
}

// WebhookData carries the transaction fields shared by charge events.
type WebhookData struct {
	ID          int64  `json:"id"`
	Reference   string `json:"reference"`
	Status      string `json:"status"`
	AmountCents int64  `json:"amount"`
	Currency    string `json:"currency"`
	GatewayResp string `json:"gateway_response"`
	Channel     string `json:"channel"`
}

// ParseWebhookEvent decodes a verified webhook payload.
func ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	event.Raw = json.RawMessage(payload)
	return &event, nil
}

// DedupeID returns a stable identifier for webhook replay detection. Paystack
// does not send an event ID, so the transaction ID plus event name is used.
func (e *WebhookEvent) DedupeID() string {
	return e.Event + ":" + e.Data.Reference
}
