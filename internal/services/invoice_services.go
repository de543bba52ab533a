package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mohsenfayyazi/billder/internal/model"
)

// InvoiceMailer notifies a customer that an invoice was issued for them.
// Sending is best-effort; a mail failure never fails invoice creation.
type InvoiceMailer interface {
	SendInvoiceIssued(ctx context.Context, toEmail, reference string, amount int64, currency, publicURL string) error
}

type InvoiceService struct {
	Invoices InvoiceStore
	Payments PaymentStore
	Users    UserStore
	Mailer   InvoiceMailer // optional
	BaseURL  string        // public link prefix for mailed invoices
	Log      zerolog.Logger
}

func NewInvoiceService(is InvoiceStore, ps PaymentStore, us UserStore, mailer InvoiceMailer, baseURL string, log zerolog.Logger) *InvoiceService {
	return &InvoiceService{
		Invoices: is,
		Payments: ps,
		Users:    us,
		Mailer:   mailer,
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Log:      log.With().Str("component", "invoices").Logger(),
	}
}

type InvoiceRequest struct {
	CustomerEmail string
	TotalAmount   int64 // cents
	Currency      string
	DueDate       time.Time
}

// generateReference builds INV-<year><month>-<seq> from the count of
// invoices created this month. Uniqueness is ultimately the database's
// constraint; a collision surfaces as a create error.
func (s *InvoiceService) generateReference(ctx context.Context, now time.Time) (string, error) {
	count, err := s.Invoices.CountCreatedInMonth(ctx, now.Year(), now.Month())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("INV-%d%02d-%04d", now.Year(), int(now.Month()), count+1), nil
}

func generatePublicSlug() string {
	return "invoice-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// CreateInvoice issues a new invoice. Only business owners may create;
// the customer is resolved by email and must already have an account.
func (s *InvoiceService) CreateInvoice(ctx context.Context, req InvoiceRequest, requester Requester) (*model.Invoice, error) {
	if requester.Role != model.RoleBusinessOwner {
		return nil, fmt.Errorf("%w: only business owners can create invoices", ErrPermissionDenied)
	}

	if req.TotalAmount <= 0 {
		return nil, validationErrorf("total amount must be greater than 0")
	}
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = "CAD"
	}
	if len(currency) != 3 {
		return nil, validationErrorf("currency must be a 3-letter code")
	}
	if req.DueDate.IsZero() {
		return nil, validationErrorf("due date is required")
	}

	customer, err := s.Users.GetByEmail(ctx, req.CustomerEmail)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, validationErrorf("customer with this email does not exist")
	}

	now := time.Now()
	reference, err := s.generateReference(ctx, now)
	if err != nil {
		return nil, err
	}

	invoice := &model.Invoice{
		Reference:   reference,
		OwnerID:     requester.UserID,
		CustomerID:  customer.UserID,
		Currency:    currency,
		TotalAmount: req.TotalAmount,
		Status:      model.InvoiceStatusPending,
		DueDate:     req.DueDate,
		PublicSlug:  generatePublicSlug(),
	}

	id, err := s.Invoices.Create(ctx, invoice)
	if err != nil {
		return nil, err
	}
	invoice.InvoiceID = id

	s.Log.Info().
		Int64("invoiceid", id).
		Str("reference", reference).
		Int64("customerid", customer.UserID).
		Msg("invoice created")

	if s.Mailer != nil {
		publicURL := s.BaseURL + "/public/invoices/" + invoice.PublicSlug
		if err := s.Mailer.SendInvoiceIssued(ctx, customer.Email, reference, req.TotalAmount, currency, publicURL); err != nil {
			s.Log.Warn().Err(err).Str("reference", reference).Msg("invoice notification email failed")
		}
	}

	return invoice, nil
}

// ListInvoices returns invoices visible to the requester with optional
// status/currency filters. Unknown roles see nothing.
func (s *InvoiceService) ListInvoices(ctx context.Context, requester Requester, status, currency string) ([]model.Invoice, error) {
	f := InvoiceFilter{}
	switch requester.Role {
	case model.RoleBusinessOwner:
		f.OwnerID = &requester.UserID
	case model.RoleCustomer:
		f.CustomerID = &requester.UserID
	default:
		return []model.Invoice{}, nil
	}

	if status != "" {
		st := model.InvoiceStatus(status)
		if !st.Valid() {
			return nil, validationErrorf("invalid status %q", status)
		}
		f.Status = st
	}
	if currency != "" {
		if len(currency) != 3 {
			return nil, validationErrorf("currency must be a 3-letter code")
		}
		f.Currency = strings.ToUpper(currency)
	}

	return s.Invoices.List(ctx, f)
}

// GetInvoice returns one invoice if the requester may see it.
func (s *InvoiceService) GetInvoice(ctx context.Context, invoiceID int64, requester Requester) (*model.Invoice, error) {
	invoice, err := s.Invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil || !canSeeInvoice(requester, invoice) {
		return nil, fmt.Errorf("%w: invoice %d", ErrNotFound, invoiceID)
	}
	return invoice, nil
}

// PublicInvoice looks an invoice up by its public slug, no authentication.
// The slug is an unguessable capability handed out on the invoice email.
func (s *InvoiceService) PublicInvoice(ctx context.Context, slug string) (*model.Invoice, []model.Payment, error) {
	invoice, err := s.Invoices.GetBySlug(ctx, slug)
	if err != nil {
		return nil, nil, err
	}
	if invoice == nil {
		return nil, nil, fmt.Errorf("%w: invoice", ErrNotFound)
	}
	payments, err := s.Payments.List(ctx, PaymentFilter{InvoiceID: &invoice.InvoiceID})
	if err != nil {
		return nil, nil, err
	}
	return invoice, payments, nil
}

// Totals returns the owner's aggregate invoiced and collected amounts.
func (s *InvoiceService) Totals(ctx context.Context, requester Requester) (*InvoiceTotals, error) {
	if requester.Role != model.RoleBusinessOwner {
		return nil, fmt.Errorf("%w: owner role required", ErrPermissionDenied)
	}
	return s.Invoices.Totals(ctx, requester.UserID)
}

// CustomerStats returns distinct customer counts for the owner's book.
func (s *InvoiceService) CustomerStats(ctx context.Context, requester Requester) (*CustomerStats, error) {
	if requester.Role != model.RoleBusinessOwner {
		return nil, fmt.Errorf("%w: owner role required", ErrPermissionDenied)
	}
	return s.Invoices.CustomerStats(ctx, requester.UserID)
}
