package services

import (
	"context"
	"time"

	"github.com/mohsenfayyazi/billder/internal/model"
)

// Store interfaces over the ledger. The pgx repositories implement these;
// tests use in-memory fakes. Lookups return (nil, nil) when no row matches.

type UserStore interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, u *model.User) (int64, error)
}

// InvoiceFilter narrows invoice listings. OwnerID/CustomerID implement the
// role visibility rule; Status/Currency are caller-supplied refinements.
type InvoiceFilter struct {
	OwnerID    *int64
	CustomerID *int64
	Status     model.InvoiceStatus
	Currency   string
}

type InvoiceTotals struct {
	TotalAmount int64 `json:"total_amount"`
	TotalPaid   int64 `json:"total_paid"`
}

type CustomerStats struct {
	TotalCustomers       int64 `json:"total_customers"`
	CustomersWithBalance int64 `json:"customers_with_balance"`
}

type InvoiceStore interface {
	Create(ctx context.Context, inv *model.Invoice) (int64, error)
	GetByID(ctx context.Context, id int64) (*model.Invoice, error)
	GetBySlug(ctx context.Context, slug string) (*model.Invoice, error)
	List(ctx context.Context, f InvoiceFilter) ([]model.Invoice, error)
	CountCreatedInMonth(ctx context.Context, year int, month time.Month) (int64, error)
	Totals(ctx context.Context, ownerID int64) (*InvoiceTotals, error)
	CustomerStats(ctx context.Context, ownerID int64) (*CustomerStats, error)
}

// PaymentFilter narrows payment listings, scoped through the parent invoice.
type PaymentFilter struct {
	OwnerID     *int64
	CustomerID  *int64
	InvoiceID   *int64
	RefundsOnly bool
}

type PaymentStore interface {
	CreatePending(ctx context.Context, p *model.Payment) (int64, error)
	GetByID(ctx context.Context, id int64) (*model.Payment, error)
	GetByExternalID(ctx context.Context, externalID string) (*model.Payment, error)
	List(ctx context.Context, f PaymentFilter) ([]model.Payment, error)

	// SumOpenAmount totals pending+processing payment amounts on an invoice.
	// Open payments reserve balance so concurrent requests cannot overcommit.
	SumOpenAmount(ctx context.Context, invoiceID int64) (int64, error)

	MarkProcessing(ctx context.Context, paymentID int64) error

	// MarkFailed/MarkCanceled transition a pending or processing payment and
	// report whether a row actually changed. Terminal rows are left alone.
	MarkFailed(ctx context.Context, externalID string) (bool, error)
	MarkCanceled(ctx context.Context, externalID string) (bool, error)

	// Settle is the single authoritative transition of a payment into
	// succeeded. It atomically moves the payment out of pending/processing,
	// records the charge id, and reflects the amount onto the parent
	// invoice's amount_paid and status, holding the invoice row for the
	// duration. A payment already settled (duplicate webhook delivery, or a
	// webhook racing a synchronous confirm) is a no-op with settled=false.
	// Returns (nil, false, nil) when the external id is unknown.
	Settle(ctx context.Context, externalID, chargeID string) (*model.Payment, bool, error)

	// ApplyRefund annotates a succeeded payment with refund details and
	// decrements the parent invoice's amount_paid, recomputing its status,
	// in one transaction against a locked invoice row.
	ApplyRefund(ctx context.Context, paymentID, amount int64, refundID string) (*model.Payment, *model.Invoice, error)
}
