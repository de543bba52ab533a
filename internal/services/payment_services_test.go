package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohsenfayyazi/billder/internal/model"
)

// fakeLedger is an in-memory stand-in for the pgx repositories. Settle and
// ApplyRefund mirror the repository semantics: guarded transitions, invoice
// amounts updated alongside the payment.
type fakeLedger struct {
	invoices map[int64]*model.Invoice
	payments map[int64]*model.Payment
	users    map[int64]*model.User
	nextID   int64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		invoices: map[int64]*model.Invoice{},
		payments: map[int64]*model.Payment{},
		users:    map[int64]*model.User{},
		nextID:   1,
	}
}

func (f *fakeLedger) id() int64 {
	id := f.nextID
	f.nextID++
	return id
}

func copyInvoice(inv *model.Invoice) *model.Invoice {
	c := *inv
	return &c
}

func copyPayment(p *model.Payment) *model.Payment {
	c := *p
	return &c
}

// InvoiceStore

func (f *fakeLedger) Create(ctx context.Context, inv *model.Invoice) (int64, error) {
	id := f.id()
	inv.InvoiceID = id
	inv.CreatedAt = time.Now()
	f.invoices[id] = copyInvoice(inv)
	return id, nil
}

func (f *fakeLedger) GetByID(ctx context.Context, id int64) (*model.Invoice, error) {
	inv, ok := f.invoices[id]
	if !ok {
		return nil, nil
	}
	return copyInvoice(inv), nil
}

func (f *fakeLedger) GetBySlug(ctx context.Context, slug string) (*model.Invoice, error) {
	for _, inv := range f.invoices {
		if inv.PublicSlug == slug {
			return copyInvoice(inv), nil
		}
	}
	return nil, nil
}

func (f *fakeLedger) List(ctx context.Context, filter InvoiceFilter) ([]model.Invoice, error) {
	var out []model.Invoice
	for _, inv := range f.invoices {
		if filter.OwnerID != nil && inv.OwnerID != *filter.OwnerID {
			continue
		}
		if filter.CustomerID != nil && inv.CustomerID != *filter.CustomerID {
			continue
		}
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		if filter.Currency != "" && inv.Currency != filter.Currency {
			continue
		}
		out = append(out, *copyInvoice(inv))
	}
	return out, nil
}

func (f *fakeLedger) CountCreatedInMonth(ctx context.Context, year int, month time.Month) (int64, error) {
	var n int64
	for _, inv := range f.invoices {
		if inv.CreatedAt.Year() == year && inv.CreatedAt.Month() == month {
			n++
		}
	}
	return n, nil
}

func (f *fakeLedger) Totals(ctx context.Context, ownerID int64) (*InvoiceTotals, error) {
	t := &InvoiceTotals{}
	for _, inv := range f.invoices {
		if inv.OwnerID == ownerID {
			t.TotalAmount += inv.TotalAmount
			t.TotalPaid += inv.AmountPaid
		}
	}
	return t, nil
}

func (f *fakeLedger) CustomerStats(ctx context.Context, ownerID int64) (*CustomerStats, error) {
	all := map[int64]bool{}
	withBalance := map[int64]bool{}
	for _, inv := range f.invoices {
		if inv.OwnerID != ownerID {
			continue
		}
		all[inv.CustomerID] = true
		if inv.TotalAmount > inv.AmountPaid {
			withBalance[inv.CustomerID] = true
		}
	}
	return &CustomerStats{
		TotalCustomers:       int64(len(all)),
		CustomersWithBalance: int64(len(withBalance)),
	}, nil
}

// PaymentStore

func (f *fakeLedger) CreatePending(ctx context.Context, p *model.Payment) (int64, error) {
	id := f.id()
	p.PaymentID = id
	p.Status = model.PaymentStatusPending
	p.CreatedAt = time.Now()
	f.payments[id] = copyPayment(p)
	return id, nil
}

func (f *fakeLedger) GetPaymentByID(id int64) *model.Payment { return f.payments[id] }

func (f *fakeLedger) GetByIDPayment(ctx context.Context, id int64) (*model.Payment, error) {
	p, ok := f.payments[id]
	if !ok {
		return nil, nil
	}
	return copyPayment(p), nil
}

func (f *fakeLedger) GetByExternalID(ctx context.Context, externalID string) (*model.Payment, error) {
	p := f.findByExternalID(externalID)
	if p == nil {
		return nil, nil
	}
	return copyPayment(p), nil
}

func (f *fakeLedger) findByExternalID(externalID string) *model.Payment {
	for _, p := range f.payments {
		if p.ExternalPaymentID != nil && *p.ExternalPaymentID == externalID {
			return p
		}
	}
	return nil
}

func (f *fakeLedger) ListPaymentsFiltered(ctx context.Context, filter PaymentFilter) ([]model.Payment, error) {
	var out []model.Payment
	for _, p := range f.payments {
		inv := f.invoices[p.InvoiceID]
		if inv == nil {
			continue
		}
		if filter.OwnerID != nil && inv.OwnerID != *filter.OwnerID {
			continue
		}
		if filter.CustomerID != nil && inv.CustomerID != *filter.CustomerID {
			continue
		}
		if filter.InvoiceID != nil && p.InvoiceID != *filter.InvoiceID {
			continue
		}
		if filter.RefundsOnly && p.RefundStatus == nil {
			continue
		}
		out = append(out, *copyPayment(p))
	}
	return out, nil
}

func (f *fakeLedger) SumOpenAmount(ctx context.Context, invoiceID int64) (int64, error) {
	var sum int64
	for _, p := range f.payments {
		if p.InvoiceID == invoiceID && p.Open() {
			sum += p.Amount
		}
	}
	return sum, nil
}

func (f *fakeLedger) MarkProcessing(ctx context.Context, paymentID int64) error {
	p, ok := f.payments[paymentID]
	if ok && p.Status == model.PaymentStatusPending {
		p.Status = model.PaymentStatusProcessing
	}
	return nil
}

func (f *fakeLedger) MarkFailed(ctx context.Context, externalID string) (bool, error) {
	p := f.findByExternalID(externalID)
	if p == nil || !p.Open() {
		return false, nil
	}
	p.Status = model.PaymentStatusFailed
	return true, nil
}

func (f *fakeLedger) MarkCanceled(ctx context.Context, externalID string) (bool, error) {
	p := f.findByExternalID(externalID)
	if p == nil || !p.Open() {
		return false, nil
	}
	p.Status = model.PaymentStatusCanceled
	return true, nil
}

func (f *fakeLedger) Settle(ctx context.Context, externalID, chargeID string) (*model.Payment, bool, error) {
	p := f.findByExternalID(externalID)
	if p == nil {
		return nil, false, nil
	}
	if !p.Open() {
		return copyPayment(p), false, nil
	}
	now := time.Now()
	p.Status = model.PaymentStatusSucceeded
	p.ProcessedAt = &now
	if chargeID != "" {
		p.ExternalChargeID = &chargeID
	}
	inv := f.invoices[p.InvoiceID]
	inv.AmountPaid += p.Amount
	if inv.AmountPaid >= inv.TotalAmount {
		inv.Status = model.InvoiceStatusPaid
	}
	return copyPayment(p), true, nil
}

func (f *fakeLedger) ApplyRefund(ctx context.Context, paymentID, amount int64, refundID string) (*model.Payment, *model.Invoice, error) {
	p, ok := f.payments[paymentID]
	if !ok || p.Status != model.PaymentStatusSucceeded {
		return nil, nil, errors.New("payment is not in succeeded status")
	}
	now := time.Now()
	st := model.PaymentStatusSucceeded
	p.RefundAmount = &amount
	p.RefundStatus = &st
	p.ExternalRefundID = &refundID
	p.RefundedAt = &now
	if amount >= p.Amount {
		p.Status = model.PaymentStatusRefunded
	}

	inv := f.invoices[p.InvoiceID]
	inv.AmountPaid -= amount
	switch {
	case inv.AmountPaid <= 0:
		inv.Status = model.InvoiceStatusPending
	case inv.AmountPaid < inv.TotalAmount:
		inv.Status = model.InvoiceStatusPartiallyPaid
	default:
		inv.Status = model.InvoiceStatusPaid
	}
	return copyPayment(p), copyInvoice(inv), nil
}

// paymentStoreAdapter wires the fakeLedger's payment methods to the
// PaymentStore interface (GetByID collides between the two stores).
type paymentStoreAdapter struct{ *fakeLedger }

func (a paymentStoreAdapter) GetByID(ctx context.Context, id int64) (*model.Payment, error) {
	return a.GetByIDPayment(ctx, id)
}

func (a paymentStoreAdapter) List(ctx context.Context, f PaymentFilter) ([]model.Payment, error) {
	return a.ListPaymentsFiltered(ctx, f)
}

// UserStore (for invoice/auth tests)

func (f *fakeLedger) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

func (f *fakeLedger) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (f *fakeLedger) EmailExists(ctx context.Context, email string) (bool, error) {
	u, _ := f.GetByEmail(ctx, email)
	return u != nil, nil
}

func (f *fakeLedger) CreateUser(ctx context.Context, u *model.User) (int64, error) {
	id := f.id()
	u.UserID = id
	f.users[id] = u
	return id, nil
}

type userStoreAdapter struct{ *fakeLedger }

func (a userStoreAdapter) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return a.GetUserByID(ctx, id)
}

func (a userStoreAdapter) Create(ctx context.Context, u *model.User) (int64, error) {
	return a.CreateUser(ctx, u)
}

// fakeGateway scripts provider behavior per test.
type fakeGateway struct {
	createErr     error
	confirmStatus string
	confirmErr    error
	refundErr     error
	cancelErr     error
	intentSeq     int
	createdIntent string
	chargeID      string
}

func (g *fakeGateway) CreateIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*Intent, error) {
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.intentSeq++
	g.createdIntent = fmt.Sprintf("pi_test_%d", g.intentSeq)
	return &Intent{
		ID:           g.createdIntent,
		ClientSecret: g.createdIntent + "_secret",
		Status:       IntentStatusRequiresPaymentMethod,
		Amount:       amount,
		Currency:     currency,
	}, nil
}

func (g *fakeGateway) Confirm(ctx context.Context, intentID, paymentMethodID string) (*Intent, error) {
	if g.confirmErr != nil {
		return nil, g.confirmErr
	}
	status := g.confirmStatus
	if status == "" {
		status = IntentStatusSucceeded
	}
	return &Intent{ID: intentID, Status: status, ChargeID: g.chargeID}, nil
}

func (g *fakeGateway) Cancel(ctx context.Context, intentID string) (*Intent, error) {
	if g.cancelErr != nil {
		return nil, g.cancelErr
	}
	return &Intent{ID: intentID, Status: IntentStatusCanceled}, nil
}

func (g *fakeGateway) GetStatus(ctx context.Context, intentID string) (*Intent, error) {
	return &Intent{ID: intentID, Status: IntentStatusProcessing}, nil
}

func (g *fakeGateway) Refund(ctx context.Context, intentID string, amount int64) (*Refund, error) {
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	return &Refund{ID: "re_test_1", Status: "succeeded", Amount: amount, ChargeID: g.chargeID}, nil
}

// test scaffolding

const (
	ownerID    = int64(101)
	customerID = int64(202)
	strangerID = int64(303)
)

func newTestService(t *testing.T) (*PaymentService, *fakeLedger, *fakeGateway) {
	t.Helper()
	ledger := newFakeLedger()
	gateway := &fakeGateway{}
	svc := NewPaymentService(ledger, paymentStoreAdapter{ledger}, gateway, zerolog.Nop())
	return svc, ledger, gateway
}

func seedInvoice(ledger *fakeLedger, total, paid int64) *model.Invoice {
	inv := &model.Invoice{
		Reference:   "INV-202608-0001",
		OwnerID:     ownerID,
		CustomerID:  customerID,
		Currency:    "CAD",
		TotalAmount: total,
		AmountPaid:  paid,
		Status:      model.InvoiceStatusPending,
		DueDate:     time.Now().AddDate(0, 1, 0),
		PublicSlug:  "invoice-deadbeef",
	}
	ledger.Create(context.Background(), inv)
	return inv
}

func seedPayment(ledger *fakeLedger, inv *model.Invoice, amount int64, status model.PaymentStatus) *model.Payment {
	ext := fmt.Sprintf("pi_seed_%d", ledger.nextID)
	p := &model.Payment{
		InvoiceID:         inv.InvoiceID,
		Amount:            amount,
		Currency:          "CAD",
		Provider:          "stripe",
		Method:            model.PaymentMethodCard,
		ExternalPaymentID: &ext,
	}
	ledger.CreatePending(context.Background(), p)
	ledger.payments[p.PaymentID].Status = status
	p.Status = status
	return p
}

var (
	asOwner    = Requester{UserID: ownerID, Role: model.RoleBusinessOwner}
	asCustomer = Requester{UserID: customerID, Role: model.RoleCustomer}
)

func TestRequestPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("creates pending payment within balance", func(t *testing.T) {
		svc, ledger, _ := newTestService(t)
		inv := seedInvoice(ledger, 10000, 6000)

		p, err := svc.RequestPayment(ctx, PaymentRequest{
			InvoiceID: inv.InvoiceID, Amount: 4000, Currency: "CAD",
		}, asCustomer)
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusPending, p.Status)
		assert.Equal(t, int64(4000), p.Amount)
		require.NotNil(t, p.ExternalPaymentID)
		assert.NotEmpty(t, *p.ExternalPaymentID)
		require.NotNil(t, p.ClientSecret)
	})

	t.Run("rejects amount over remaining balance", func(t *testing.T) {
		svc, ledger, _ := newTestService(t)
		inv := seedInvoice(ledger, 10000, 6000)

		_, err := svc.RequestPayment(ctx, PaymentRequest{
			InvoiceID: inv.InvoiceID, Amount: 5000, Currency: "CAD",
		}, asCustomer)
		assert.ErrorIs(t, err, ErrValidation)
		assert.Empty(t, ledger.payments)
	})

	t.Run("rejects non-positive amount", func(t *testing.T) {
		svc, ledger, _ := newTestService(t)
		inv := seedInvoice(ledger, 10000, 0)

		_, err := svc.RequestPayment(ctx, PaymentRequest{InvoiceID: inv.InvoiceID, Amount: 0}, asCustomer)
		assert.ErrorIs(t, err, ErrValidation)
		_, err = svc.RequestPayment(ctx, PaymentRequest{InvoiceID: inv.InvoiceID, Amount: -100}, asCustomer)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("open payments reserve balance", func(t *testing.T) {
		svc, ledger, _ := newTestService(t)
		inv := seedInvoice(ledger, 10000, 0)
		seedPayment(ledger, inv, 7000, model.PaymentStatusPending)

		_, err := svc.RequestPayment(ctx, PaymentRequest{
			InvoiceID: inv.InvoiceID, Amount: 4000, Currency: "CAD",
		}, asCustomer)
		assert.ErrorIs(t, err, ErrValidation)

		// a failed payment releases its reservation
		for _, p := range ledger.payments {
			p.Status = model.PaymentStatusFailed
		}
		_, err = svc.RequestPayment(ctx, PaymentRequest{
			InvoiceID: inv.InvoiceID, Amount: 4000, Currency: "CAD",
		}, asCustomer)
		assert.NoError(t, err)
	})

	t.Run("denies strangers", func(t *testing.T) {
		svc, ledger, _ := newTestService(t)
		inv := seedInvoice(ledger, 10000, 0)

		_, err := svc.RequestPayment(ctx, PaymentRequest{InvoiceID: inv.InvoiceID, Amount: 100},
			Requester{UserID: strangerID, Role: model.RoleCustomer})
		assert.ErrorIs(t, err, ErrPermissionDenied)

		_, err = svc.RequestPayment(ctx, PaymentRequest{InvoiceID: inv.InvoiceID, Amount: 100},
			Requester{UserID: ownerID, Role: "auditor"})
		assert.ErrorIs(t, err, ErrPermissionDenied)
	})

	t.Run("gateway failure creates no row", func(t *testing.T) {
		svc, ledger, gw := newTestService(t)
		inv := seedInvoice(ledger, 10000, 0)
		gw.createErr = &GatewayError{Kind: GatewayErrorCard, Message: "card declined"}

		_, err := svc.RequestPayment(ctx, PaymentRequest{
			InvoiceID: inv.InvoiceID, Amount: 4000, Currency: "CAD",
		}, asCustomer)
		ge, ok := AsGatewayError(err)
		require.True(t, ok)
		assert.Equal(t, GatewayErrorCard, ge.Kind)
		assert.Empty(t, ledger.payments)
	})

	t.Run("unknown invoice", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, err := svc.RequestPayment(ctx, PaymentRequest{InvoiceID: 9999, Amount: 100}, asCustomer)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestConfirmPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("success settles payment and invoice", func(t *testing.T) {
		svc, ledger, gw := newTestService(t)
		inv := seedInvoice(ledger, 10000, 0)
		p := seedPayment(ledger, inv, 10000, model.PaymentStatusPending)
		gw.chargeID = "ch_test_1"

		confirmed, err := svc.ConfirmPayment(ctx, *p.ExternalPaymentID, "pm_card", asCustomer)
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusSucceeded, confirmed.Status)
		assert.NotNil(t, confirmed.ProcessedAt)

		got := ledger.invoices[inv.InvoiceID]
		assert.Equal(t, int64(10000), got.AmountPaid)
		assert.Equal(t, model.InvoiceStatusPaid, got.Status)
	})

	t.Run("non-success marks processing and leaves invoice alone", func(t *testing.T) {
		svc, ledger, gw := newTestService(t)
		inv := seedInvoice(ledger, 10000, 0)
		p := seedPayment(ledger, inv, 10000, model.PaymentStatusPending)
		gw.confirmStatus = IntentStatusProcessing

		confirmed, err := svc.ConfirmPayment(ctx, *p.ExternalPaymentID, "pm_card", asCustomer)
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusProcessing, confirmed.Status)
		assert.Equal(t, int64(0), ledger.invoices[inv.InvoiceID].AmountPaid)
	})

	t.Run("gateway error returns unchanged with no transition", func(t *testing.T) {
		svc, ledger, gw := newTestService(t)
		inv := seedInvoice(ledger, 10000, 0)
		p := seedPayment(ledger, inv, 10000, model.PaymentStatusPending)
		gw.confirmErr = &GatewayError{Kind: GatewayErrorInvalidRequest, Message: "payment method required"}

		_, err := svc.ConfirmPayment(ctx, *p.ExternalPaymentID, "", asCustomer)
		ge, ok := AsGatewayError(err)
		require.True(t, ok)
		assert.Equal(t, GatewayErrorInvalidRequest, ge.Kind)
		assert.Equal(t, model.PaymentStatusPending, ledger.payments[p.PaymentID].Status)
	})

	t.Run("other owner's payment looks not found", func(t *testing.T) {
		svc, ledger, _ := newTestService(t)
		inv := seedInvoice(ledger, 10000, 0)
		p := seedPayment(ledger, inv, 10000, model.PaymentStatusPending)

		_, err := svc.ConfirmPayment(ctx, *p.ExternalPaymentID, "pm_card",
			Requester{UserID: strangerID, Role: model.RoleBusinessOwner})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unknown intent", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, err := svc.ConfirmPayment(ctx, "pi_missing", "", asCustomer)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestHandleWebhookEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeded settles payment and increments invoice", func(t *testing.T) {
		svc, ledger, _ := newTestService(t)
		inv := seedInvoice(ledger, 10000, 0)
		p := seedPayment(ledger, inv, 4000, model.PaymentStatusPending)

		err := svc.HandleWebhookEvent(ctx, &WebhookEvent{
			Type: EventPaymentSucceeded, IntentID: *p.ExternalPaymentID, ChargeID: "ch_1",
		})
		require.NoError(t, err)

		got := ledger.payments[p.PaymentID]
		assert.Equal(t, model.PaymentStatusSucceeded, got.Status)
		require.NotNil(t, got.ExternalChargeID)
		assert.Equal(t, "ch_1", *got.ExternalChargeID)
		assert.Equal(t, int64(4000), ledger.invoices[inv.InvoiceID].AmountPaid)
		// partial payment does not flip the invoice to paid
		assert.Equal(t, model.InvoiceStatusPending, ledger.invoices[inv.InvoiceID].Status)
	})

	t.Run("duplicate succeeded delivery is a no-op", func(t *testing.T) {
		svc, ledger, _ := newTestService(t)
		inv := seedInvoice(ledger, 10000, 0)
		p := seedPayment(ledger, inv, 4000, model.PaymentStatusPending)

		event := &WebhookEvent{Type: EventPaymentSucceeded, IntentID: *p.ExternalPaymentID}
		require.NoError(t, svc.HandleWebhookEvent(ctx, event))
		require.NoError(t, svc.HandleWebhookEvent(ctx, event))

		assert.Equal(t, int64(4000), ledger.invoices[inv.InvoiceID].AmountPaid)
	})

	t.Run("unknown intent is acknowledged", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		err := svc.HandleWebhookEvent(ctx, &WebhookEvent{
			Type: EventPaymentSucceeded, IntentID: "pi_unknown",
		})
		assert.NoError(t, err)
	})

	t.Run("failed and canceled leave invoice amounts alone", func(t *testing.T) {
		svc, ledger, _ := newTestService(t)
		inv := seedInvoice(ledger, 10000, 0)
		p1 := seedPayment(ledger, inv, 4000, model.PaymentStatusPending)
		p2 := seedPayment(ledger, inv, 4000, model.PaymentStatusProcessing)

		require.NoError(t, svc.HandleWebhookEvent(ctx, &WebhookEvent{
			Type: EventPaymentFailed, IntentID: *p1.ExternalPaymentID,
		}))
		require.NoError(t, svc.HandleWebhookEvent(ctx, &WebhookEvent{
			Type: EventPaymentCanceled, IntentID: *p2.ExternalPaymentID,
		}))

		assert.Equal(t, model.PaymentStatusFailed, ledger.payments[p1.PaymentID].Status)
		assert.Equal(t, model.PaymentStatusCanceled, ledger.payments[p2.PaymentID].Status)
		assert.Equal(t, int64(0), ledger.invoices[inv.InvoiceID].AmountPaid)
	})

	t.Run("failed delivery for settled payment does not regress it", func(t *testing.T) {
		svc, ledger, _ := newTestService(t)
		inv := seedInvoice(ledger, 10000, 0)
		p := seedPayment(ledger, inv, 4000, model.PaymentStatusSucceeded)

		require.NoError(t, svc.HandleWebhookEvent(ctx, &WebhookEvent{
			Type: EventPaymentFailed, IntentID: *p.ExternalPaymentID,
		}))
		assert.Equal(t, model.PaymentStatusSucceeded, ledger.payments[p.PaymentID].Status)
	})

	t.Run("unrecognized event type is ignored", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		err := svc.HandleWebhookEvent(ctx, &WebhookEvent{Type: "charge.dispute.created"})
		assert.NoError(t, err)
	})
}

func TestCreateRefund(t *testing.T) {
	ctx := context.Background()

	settle := func(ledger *fakeLedger, p *model.Payment) {
		ledger.Settle(ctx, *p.ExternalPaymentID, "ch_1")
	}

	t.Run("partial refund walks invoice back to partially paid", func(t *testing.T) {
		svc, ledger, _ := newTestService(t)
		inv := seedInvoice(ledger, 10000, 0)
		p := seedPayment(ledger, inv, 10000, model.PaymentStatusPending)
		settle(ledger, p)
		require.Equal(t, model.InvoiceStatusPaid, ledger.invoices[inv.InvoiceID].Status)

		refunded, err := svc.CreateRefund(ctx, p.PaymentID, 3000, "goodwill", asOwner)
		require.NoError(t, err)
		require.NotNil(t, refunded.RefundAmount)
		assert.Equal(t, int64(3000), *refunded.RefundAmount)
		assert.Equal(t, model.PaymentStatusSucceeded, refunded.Status)

		got := ledger.invoices[inv.InvoiceID]
		assert.Equal(t, int64(7000), got.AmountPaid)
		assert.Equal(t, model.InvoiceStatusPartiallyPaid, got.Status)
	})

	t.Run("full refund of the only payment resets the invoice", func(t *testing.T) {
		svc, ledger, _ := newTestService(t)
		inv := seedInvoice(ledger, 10000, 0)
		p := seedPayment(ledger, inv, 3000, model.PaymentStatusPending)
		settle(ledger, p)

		refunded, err := svc.CreateRefund(ctx, p.PaymentID, 3000, "", asOwner)
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusRefunded, refunded.Status)

		got := ledger.invoices[inv.InvoiceID]
		assert.Equal(t, int64(0), got.AmountPaid)
		assert.Equal(t, model.InvoiceStatusPending, got.Status)
	})

	t.Run("rejects refund over payment amount", func(t *testing.T) {
		svc, ledger, _ := newTestService(t)
		inv := seedInvoice(ledger, 10000, 0)
		p := seedPayment(ledger, inv, 3000, model.PaymentStatusPending)
		settle(ledger, p)

		_, err := svc.CreateRefund(ctx, p.PaymentID, 3001, "", asOwner)
		assert.ErrorIs(t, err, ErrValidation)
		assert.Equal(t, int64(3000), ledger.invoices[inv.InvoiceID].AmountPaid)
		assert.Nil(t, ledger.payments[p.PaymentID].RefundAmount)
	})

	t.Run("rejects non-succeeded payment", func(t *testing.T) {
		svc, ledger, _ := newTestService(t)
		inv := seedInvoice(ledger, 10000, 0)
		p := seedPayment(ledger, inv, 3000, model.PaymentStatusPending)

		_, err := svc.CreateRefund(ctx, p.PaymentID, 3000, "", asOwner)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("customer cannot refund", func(t *testing.T) {
		svc, ledger, _ := newTestService(t)
		inv := seedInvoice(ledger, 10000, 0)
		p := seedPayment(ledger, inv, 3000, model.PaymentStatusPending)
		settle(ledger, p)

		_, err := svc.CreateRefund(ctx, p.PaymentID, 3000, "", asCustomer)
		assert.ErrorIs(t, err, ErrPermissionDenied)
	})

	t.Run("gateway failure mutates nothing", func(t *testing.T) {
		svc, ledger, gw := newTestService(t)
		inv := seedInvoice(ledger, 10000, 0)
		p := seedPayment(ledger, inv, 3000, model.PaymentStatusPending)
		settle(ledger, p)
		gw.refundErr = &GatewayError{Kind: GatewayErrorProvider, Message: "provider down"}

		_, err := svc.CreateRefund(ctx, p.PaymentID, 3000, "", asOwner)
		_, ok := AsGatewayError(err)
		require.True(t, ok)
		assert.Equal(t, int64(3000), ledger.invoices[inv.InvoiceID].AmountPaid)
		assert.Equal(t, model.PaymentStatusSucceeded, ledger.payments[p.PaymentID].Status)
	})
}

func TestCancelPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("owner cancels an open payment", func(t *testing.T) {
		svc, ledger, _ := newTestService(t)
		inv := seedInvoice(ledger, 10000, 0)
		p := seedPayment(ledger, inv, 3000, model.PaymentStatusPending)

		canceled, err := svc.CancelPayment(ctx, p.PaymentID, asOwner)
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusCanceled, canceled.Status)
		assert.Equal(t, model.PaymentStatusCanceled, ledger.payments[p.PaymentID].Status)
	})

	t.Run("terminal payment cannot be canceled", func(t *testing.T) {
		svc, ledger, _ := newTestService(t)
		inv := seedInvoice(ledger, 10000, 0)
		p := seedPayment(ledger, inv, 3000, model.PaymentStatusSucceeded)

		_, err := svc.CancelPayment(ctx, p.PaymentID, asOwner)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("customer role sees not found", func(t *testing.T) {
		svc, ledger, _ := newTestService(t)
		inv := seedInvoice(ledger, 10000, 0)
		p := seedPayment(ledger, inv, 3000, model.PaymentStatusPending)

		_, err := svc.CancelPayment(ctx, p.PaymentID, asCustomer)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestListPayments(t *testing.T) {
	ctx := context.Background()

	t.Run("role scoping", func(t *testing.T) {
		svc, ledger, _ := newTestService(t)
		inv := seedInvoice(ledger, 10000, 0)
		seedPayment(ledger, inv, 3000, model.PaymentStatusPending)

		owned, err := svc.ListPayments(ctx, asOwner, nil)
		require.NoError(t, err)
		assert.Len(t, owned, 1)

		mine, err := svc.ListPayments(ctx, asCustomer, nil)
		require.NoError(t, err)
		assert.Len(t, mine, 1)

		none, err := svc.ListPayments(ctx, Requester{UserID: strangerID, Role: "auditor"}, nil)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("refunds listing", func(t *testing.T) {
		svc, ledger, _ := newTestService(t)
		inv := seedInvoice(ledger, 10000, 0)
		p := seedPayment(ledger, inv, 3000, model.PaymentStatusPending)
		ledger.Settle(ctx, *p.ExternalPaymentID, "ch_1")
		_, err := svc.CreateRefund(ctx, p.PaymentID, 1000, "", asOwner)
		require.NoError(t, err)
		seedPayment(ledger, inv, 2000, model.PaymentStatusPending)

		refunds, err := svc.ListRefunds(ctx, asOwner)
		require.NoError(t, err)
		require.Len(t, refunds, 1)
		assert.Equal(t, p.PaymentID, refunds[0].PaymentID)
	})
}
