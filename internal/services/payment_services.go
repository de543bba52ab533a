package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mohsenfayyazi/billder/internal/model"
)

const providerStripe = "stripe"

// Requester identifies the authenticated caller of a service operation.
type Requester struct {
	UserID int64
	Role   model.Role
}

type PaymentService struct {
	Invoices InvoiceStore
	Payments PaymentStore
	Gateway  PaymentGateway
	Log      zerolog.Logger
}

func NewPaymentService(is InvoiceStore, ps PaymentStore, gw PaymentGateway, log zerolog.Logger) *PaymentService {
	return &PaymentService{
		Invoices: is,
		Payments: ps,
		Gateway:  gw,
		Log:      log.With().Str("component", "payments").Logger(),
	}
}

// PaymentRequest is the input to RequestPayment. Amount is integer cents.
type PaymentRequest struct {
	InvoiceID   int64
	Amount      int64
	Currency    string
	Method      model.PaymentMethod
	Description string
}

// canSeeInvoice is the role visibility rule: owners see invoices they issued,
// customers see invoices billed to them, anything else sees nothing.
func canSeeInvoice(req Requester, inv *model.Invoice) bool {
	switch req.Role {
	case model.RoleBusinessOwner:
		return inv.OwnerID == req.UserID
	case model.RoleCustomer:
		return inv.CustomerID == req.UserID
	}
	return false
}

// RequestPayment validates the request against the ledger, creates a payment
// intent with the provider, and persists a pending Payment keyed by the
// intent id. Gateway failures are returned unchanged and leave no row behind.
func (s *PaymentService) RequestPayment(ctx context.Context, req PaymentRequest, requester Requester) (*model.Payment, error) {
	invoice, err := s.Invoices.GetByID(ctx, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, fmt.Errorf("%w: invoice %d", ErrNotFound, req.InvoiceID)
	}
	if !canSeeInvoice(requester, invoice) {
		return nil, fmt.Errorf("%w: you don't have permission to pay this invoice", ErrPermissionDenied)
	}

	if req.Amount <= 0 {
		return nil, validationErrorf("payment amount must be greater than 0")
	}
	if req.Method != "" && !req.Method.Valid() {
		return nil, validationErrorf("unknown payment method %q", req.Method)
	}

	// Open payments reserve balance: counting them here is what keeps two
	// concurrent pending payments from together exceeding the remainder.
	open, err := s.Payments.SumOpenAmount(ctx, invoice.InvoiceID)
	if err != nil {
		return nil, err
	}
	available := invoice.RemainingBalance() - open
	if req.Amount > available {
		return nil, validationErrorf("payment amount cannot exceed remaining balance of %d", available)
	}

	metadata := map[string]string{
		"invoice_id":        fmt.Sprintf("%d", invoice.InvoiceID),
		"invoice_reference": invoice.Reference,
		"customer_id":       fmt.Sprintf("%d", invoice.CustomerID),
		"description":       req.Description,
	}

	intent, err := s.Gateway.CreateIntent(ctx, req.Amount, req.Currency, metadata)
	if err != nil {
		s.Log.Error().Err(err).Int64("invoiceid", invoice.InvoiceID).Msg("create payment intent failed")
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = model.PaymentMethodCard
	}

	payment := &model.Payment{
		InvoiceID:         invoice.InvoiceID,
		Amount:            req.Amount,
		Currency:          req.Currency,
		Status:            model.PaymentStatusPending,
		Provider:          providerStripe,
		Method:            method,
		ExternalPaymentID: &intent.ID,
		ClientSecret:      &intent.ClientSecret,
		Description:       req.Description,
	}

	id, err := s.Payments.CreatePending(ctx, payment)
	if err != nil {
		return nil, err
	}
	payment.PaymentID = id

	s.Log.Info().
		Int64("paymentid", id).
		Int64("invoiceid", invoice.InvoiceID).
		Str("intent", intent.ID).
		Int64("amount", req.Amount).
		Msg("payment intent created")

	return payment, nil
}

// ConfirmPayment confirms the intent with the provider. A confirmation that
// reports success settles the payment through the same idempotent transition
// the webhook path uses, so whichever side observes success first wins and
// the other is a no-op.
func (s *PaymentService) ConfirmPayment(ctx context.Context, intentID, paymentMethodID string, requester Requester) (*model.Payment, error) {
	payment, err := s.Payments.GetByExternalID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, fmt.Errorf("%w: payment intent", ErrNotFound)
	}

	invoice, err := s.Invoices.GetByID(ctx, payment.InvoiceID)
	if err != nil {
		return nil, err
	}
	// Rows outside the requester's scope look like they don't exist.
	if invoice == nil || !canSeeInvoice(requester, invoice) {
		return nil, fmt.Errorf("%w: payment intent", ErrNotFound)
	}

	intent, err := s.Gateway.Confirm(ctx, intentID, paymentMethodID)
	if err != nil {
		s.Log.Error().Err(err).Str("intent", intentID).Msg("payment confirmation failed")
		return nil, err
	}

	if intent.Status == IntentStatusSucceeded {
		settled, ok, err := s.Payments.Settle(ctx, intentID, intent.ChargeID)
		if err != nil {
			return nil, err
		}
		if settled != nil {
			payment = settled
		}
		if !ok {
			s.Log.Debug().Str("intent", intentID).Msg("payment already settled")
		}
		return payment, nil
	}

	if err := s.Payments.MarkProcessing(ctx, payment.PaymentID); err != nil {
		return nil, err
	}
	payment.Status = model.PaymentStatusProcessing
	return payment, nil
}

// HandleWebhookEvent applies an authenticated provider notification to the
// ledger. Deliveries are at-least-once: the event may be a retry, or may
// reference a payment this ledger has never seen. Both are absorbed here
// rather than bounced back to the provider.
func (s *PaymentService) HandleWebhookEvent(ctx context.Context, event *WebhookEvent) error {
	log := s.Log.With().Str("event", event.Type).Str("intent", event.IntentID).Logger()

	switch event.Type {
	case EventPaymentSucceeded:
		payment, settled, err := s.Payments.Settle(ctx, event.IntentID, event.ChargeID)
		if err != nil {
			return err
		}
		if payment == nil {
			log.Warn().Msg("payment not found for intent, acknowledging anyway")
			return nil
		}
		if !settled {
			log.Info().Msg("duplicate success delivery, no-op")
			return nil
		}
		log.Info().Int64("paymentid", payment.PaymentID).Msg("payment settled")

	case EventPaymentFailed:
		changed, err := s.Payments.MarkFailed(ctx, event.IntentID)
		if err != nil {
			return err
		}
		log.Info().Bool("changed", changed).Msg("payment failed")

	case EventPaymentCanceled:
		changed, err := s.Payments.MarkCanceled(ctx, event.IntentID)
		if err != nil {
			return err
		}
		log.Info().Bool("changed", changed).Msg("payment canceled")

	default:
		log.Debug().Msg("unhandled event type, ignoring")
	}

	return nil
}

// CreateRefund refunds part or all of a succeeded payment through the
// provider, then annotates the payment and walks the invoice's amount_paid
// and status back in one transaction. A provider failure mutates nothing.
func (s *PaymentService) CreateRefund(ctx context.Context, paymentID, amount int64, reason string, requester Requester) (*model.Payment, error) {
	payment, err := s.Payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, fmt.Errorf("%w: payment %d", ErrNotFound, paymentID)
	}

	invoice, err := s.Invoices.GetByID(ctx, payment.InvoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, fmt.Errorf("%w: invoice %d", ErrNotFound, payment.InvoiceID)
	}
	// Only the issuing owner may refund.
	if requester.Role != model.RoleBusinessOwner || invoice.OwnerID != requester.UserID {
		return nil, fmt.Errorf("%w: you don't have permission to refund this payment", ErrPermissionDenied)
	}

	if amount <= 0 {
		return nil, validationErrorf("refund amount must be greater than 0")
	}
	if amount > payment.Amount {
		return nil, validationErrorf("refund amount cannot exceed payment amount of %d", payment.Amount)
	}
	if payment.Status != model.PaymentStatusSucceeded {
		return nil, validationErrorf("only succeeded payments can be refunded")
	}
	if payment.ExternalPaymentID == nil {
		return nil, validationErrorf("payment has no provider reference")
	}

	refund, err := s.Gateway.Refund(ctx, *payment.ExternalPaymentID, amount)
	if err != nil {
		s.Log.Error().Err(err).Int64("paymentid", paymentID).Msg("refund failed")
		return nil, err
	}

	refunded, inv, err := s.Payments.ApplyRefund(ctx, paymentID, amount, refund.ID)
	if err != nil {
		return nil, err
	}

	s.Log.Info().
		Int64("paymentid", paymentID).
		Int64("amount", amount).
		Str("refund", refund.ID).
		Str("reason", reason).
		Str("invoice_status", string(inv.Status)).
		Msg("refund processed")

	return refunded, nil
}

// CancelPayment cancels an open intent with the provider and marks the
// payment canceled. Owner-only, like refunds.
func (s *PaymentService) CancelPayment(ctx context.Context, paymentID int64, requester Requester) (*model.Payment, error) {
	payment, err := s.Payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, fmt.Errorf("%w: payment %d", ErrNotFound, paymentID)
	}
	invoice, err := s.Invoices.GetByID(ctx, payment.InvoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil || requester.Role != model.RoleBusinessOwner || invoice.OwnerID != requester.UserID {
		return nil, fmt.Errorf("%w: payment %d", ErrNotFound, paymentID)
	}

	if !payment.Open() {
		return nil, validationErrorf("only pending or processing payments can be canceled")
	}
	if payment.ExternalPaymentID == nil {
		return nil, validationErrorf("payment has no provider reference")
	}

	if _, err := s.Gateway.Cancel(ctx, *payment.ExternalPaymentID); err != nil {
		s.Log.Error().Err(err).Int64("paymentid", paymentID).Msg("cancel failed")
		return nil, err
	}

	if _, err := s.Payments.MarkCanceled(ctx, *payment.ExternalPaymentID); err != nil {
		return nil, err
	}
	payment.Status = model.PaymentStatusCanceled
	return payment, nil
}

// PaymentStatusResult pairs the stored payment with the provider's current
// view of the intent.
type PaymentStatusResult struct {
	Payment        *model.Payment `json:"payment"`
	ProviderStatus string         `json:"provider_status,omitempty"`
}

// GetPaymentStatus returns a payment with the provider's live intent status.
// Owner-only; rows belonging to other owners look like they don't exist.
func (s *PaymentService) GetPaymentStatus(ctx context.Context, paymentID int64, requester Requester) (*PaymentStatusResult, error) {
	payment, err := s.Payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, fmt.Errorf("%w: payment %d", ErrNotFound, paymentID)
	}
	invoice, err := s.Invoices.GetByID(ctx, payment.InvoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil || requester.Role != model.RoleBusinessOwner || invoice.OwnerID != requester.UserID {
		return nil, fmt.Errorf("%w: payment %d", ErrNotFound, paymentID)
	}

	result := &PaymentStatusResult{Payment: payment}
	if payment.ExternalPaymentID != nil {
		intent, err := s.Gateway.GetStatus(ctx, *payment.ExternalPaymentID)
		if err != nil {
			// The stored row is still useful when the provider is down.
			s.Log.Warn().Err(err).Int64("paymentid", paymentID).Msg("provider status lookup failed")
		} else {
			result.ProviderStatus = intent.Status
		}
	}
	return result, nil
}

// ListPayments returns payments visible to the requester, optionally scoped
// to one invoice.
func (s *PaymentService) ListPayments(ctx context.Context, requester Requester, invoiceID *int64) ([]model.Payment, error) {
	f := PaymentFilter{InvoiceID: invoiceID}
	switch requester.Role {
	case model.RoleBusinessOwner:
		f.OwnerID = &requester.UserID
	case model.RoleCustomer:
		f.CustomerID = &requester.UserID
	default:
		return []model.Payment{}, nil
	}
	return s.Payments.List(ctx, f)
}

// ListRefunds returns refunded payments visible to the requester.
func (s *PaymentService) ListRefunds(ctx context.Context, requester Requester) ([]model.Payment, error) {
	f := PaymentFilter{RefundsOnly: true}
	switch requester.Role {
	case model.RoleBusinessOwner:
		f.OwnerID = &requester.UserID
	case model.RoleCustomer:
		f.CustomerID = &requester.UserID
	default:
		return []model.Payment{}, nil
	}
	return s.Payments.List(ctx, f)
}

// GetPayment returns one payment if the requester may see it.
func (s *PaymentService) GetPayment(ctx context.Context, paymentID int64, requester Requester) (*model.Payment, error) {
	payment, err := s.Payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, fmt.Errorf("%w: payment %d", ErrNotFound, paymentID)
	}
	invoice, err := s.Invoices.GetByID(ctx, payment.InvoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil || !canSeeInvoice(requester, invoice) {
		return nil, fmt.Errorf("%w: payment %d", ErrNotFound, paymentID)
	}
	return payment, nil
}
