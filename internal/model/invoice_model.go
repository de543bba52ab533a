package model

import "time"

type InvoiceStatus string

const (
	InvoiceStatusPending       InvoiceStatus = "pending"
	InvoiceStatusPartiallyPaid InvoiceStatus = "partially_paid"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusRefunded      InvoiceStatus = "refunded"
)

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusPending, InvoiceStatusPartiallyPaid, InvoiceStatusPaid, InvoiceStatusRefunded:
		return true
	}
	return false
}

// Invoice is the system of record for an amount owed. Monetary fields are
// integer cents. Invoices are never deleted.
type Invoice struct {
	InvoiceID   int64         `json:"invoiceid"`
	Reference   string        `json:"reference"` // INV-<year><month>-<seq>, unique
	OwnerID     int64         `json:"ownerid"`
	CustomerID  int64         `json:"customerid"`
	Currency    string        `json:"currency"`
	TotalAmount int64         `json:"total_amount"`
	AmountPaid  int64         `json:"amount_paid"`
	Status      InvoiceStatus `json:"status"`
	DueDate     time.Time     `json:"due_date"`
	PublicSlug  string        `json:"public_slug"` // unauthenticated lookup key, unique
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func (i *Invoice) RemainingBalance() int64 {
	return i.TotalAmount - i.AmountPaid
}

func (i *Invoice) IsOverdue(now time.Time) bool {
	return i.DueDate.Before(now) && i.Status != InvoiceStatusPaid
}
