package services

import "context"

// Intent statuses reported by the provider that the reconciler cares about.
// Everything else is passed through untouched.
const (
	IntentStatusSucceeded             = "succeeded"
	IntentStatusProcessing            = "processing"
	IntentStatusRequiresPaymentMethod = "requires_payment_method"
	IntentStatusCanceled              = "canceled"
)

// Intent is the provider-side object representing an in-progress attempt to
// collect a payment.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret,omitempty"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	ChargeID     string `json:"charge_id,omitempty"`
}

// Refund is the provider-side result of a refund request.
type Refund struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	ChargeID string `json:"charge_id,omitempty"`
}

// PaymentGateway is the capability interface over the external card
// processor. All monetary operations pass through it; failures come back as
// *GatewayError. Amounts are integer cents.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*Intent, error)
	Confirm(ctx context.Context, intentID, paymentMethodID string) (*Intent, error)
	Cancel(ctx context.Context, intentID string) (*Intent, error)
	GetStatus(ctx context.Context, intentID string) (*Intent, error)
	Refund(ctx context.Context, intentID string, amount int64) (*Refund, error)
}

// Webhook event types, mirrored from the provider's naming.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
	EventPaymentCanceled  = "payment_intent.canceled"
)

// WebhookEvent is a signature-verified provider notification. Verification
// happens before one of these is constructed; an event that reaches the
// reconciler is authentic.
type WebhookEvent struct {
	Type     string
	IntentID string
	ChargeID string
}
