package model

import "time"

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusSucceeded  PaymentStatus = "succeeded"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCanceled   PaymentStatus = "canceled"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

type PaymentMethod string

const (
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodWallet       PaymentMethod = "wallet"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCard, PaymentMethodBankTransfer, PaymentMethodWallet:
		return true
	}
	return false
}

// Payment is one attempt to collect money against an Invoice. Amounts are
// integer cents. ExternalPaymentID is assigned once at creation and is the
// join key for provider webhooks. A terminal payment is immutable history
// except for the refund annotation.
type Payment struct {
	PaymentID int64         `json:"paymentid"`
	InvoiceID int64         `json:"invoiceid"`
	Amount    int64         `json:"amount"`
	Currency  string        `json:"currency"`
	Status    PaymentStatus `json:"status"`
	Provider  string        `json:"payment_provider"`
	Method    PaymentMethod `json:"payment_method"`

	ExternalPaymentID *string `json:"external_payment_id,omitempty"`
	ExternalChargeID  *string `json:"external_charge_id,omitempty"`
	ExternalRefundID  *string `json:"external_refund_id,omitempty"`
	ClientSecret      *string `json:"client_secret,omitempty"`

	Description string `json:"description,omitempty"`

	RefundAmount *int64         `json:"refund_amount,omitempty"`
	RefundStatus *PaymentStatus `json:"refund_status,omitempty"`
	RefundedAt   *time.Time     `json:"refunded_at,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

func (p *Payment) IsSuccessful() bool {
	return p.Status == PaymentStatusSucceeded
}

func (p *Payment) IsFailed() bool {
	return p.Status == PaymentStatusFailed || p.Status == PaymentStatusCanceled
}

func (p *Payment) IsRefunded() bool {
	return p.RefundStatus != nil && *p.RefundStatus == PaymentStatusSucceeded
}

// Open reports whether the payment still reserves balance on its invoice.
func (p *Payment) Open() bool {
	return p.Status == PaymentStatusPending || p.Status == PaymentStatusProcessing
}
