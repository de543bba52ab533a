package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	stripego "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"github.com/stripe/stripe-go/v74/webhook"

	"github.com/mohsenfayyazi/billder/internal/services"
)

// Gateway implements services.PaymentGateway against Stripe. The API key and
// webhook secret live on the struct, constructed once at startup; there is no
// package-level client state.
type Gateway struct {
	api           *client.API
	webhookSecret string
	log           zerolog.Logger
}

func NewGateway(apiKey, webhookSecret string, log zerolog.Logger) (*Gateway, error) {
	if apiKey == "" {
		return nil, errors.New("stripe api key not set")
	}

	api := &client.API{}
	// Bounded round-trips: a provider that hangs surfaces as provider_error
	// instead of stalling the request.
	api.Init(apiKey, stripego.NewBackends(&http.Client{Timeout: 15 * time.Second}))

	return &Gateway{
		api:           api,
		webhookSecret: webhookSecret,
		log:           log.With().Str("component", "stripe").Logger(),
	}, nil
}

func latestChargeID(pi *stripego.PaymentIntent) string {
	if pi.LatestCharge != nil {
		return pi.LatestCharge.ID
	}
	return ""
}

func intentFromStripe(pi *stripego.PaymentIntent) *services.Intent {
	return &services.Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		Amount:       pi.Amount,
		Currency:     strings.ToUpper(string(pi.Currency)),
		ChargeID:     latestChargeID(pi),
	}
}

func (g *Gateway) CreateIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*services.Intent, error) {
	params := &stripego.PaymentIntentParams{
		Amount:             stripego.Int64(amount),
		Currency:           stripego.String(strings.ToLower(currency)),
		PaymentMethodTypes: stripego.StringSlice([]string{"card"}),
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, g.mapError(err, "create payment intent")
	}
	return intentFromStripe(pi), nil
}

// Confirm retrieves the intent first: an intent that already succeeded is
// returned as-is, and an intent waiting on a payment method without one
// supplied is an error with no provider-side transition.
func (g *Gateway) Confirm(ctx context.Context, intentID, paymentMethodID string) (*services.Intent, error) {
	getParams := &stripego.PaymentIntentParams{}
	getParams.Context = ctx

	pi, err := g.api.PaymentIntents.Get(intentID, getParams)
	if err != nil {
		return nil, g.mapError(err, "retrieve payment intent")
	}

	if pi.Status == stripego.PaymentIntentStatusSucceeded {
		return intentFromStripe(pi), nil
	}

	if pi.Status == stripego.PaymentIntentStatusRequiresPaymentMethod {
		if paymentMethodID == "" {
			return nil, &services.GatewayError{
				Kind:    services.GatewayErrorInvalidRequest,
				Message: "payment method required",
			}
		}
		confirmParams := &stripego.PaymentIntentConfirmParams{
			PaymentMethod: stripego.String(paymentMethodID),
		}
		confirmParams.Context = ctx

		confirmed, err := g.api.PaymentIntents.Confirm(intentID, confirmParams)
		if err != nil {
			return nil, g.mapError(err, "confirm payment intent")
		}
		return intentFromStripe(confirmed), nil
	}

	return intentFromStripe(pi), nil
}

func (g *Gateway) Cancel(ctx context.Context, intentID string) (*services.Intent, error) {
	params := &stripego.PaymentIntentCancelParams{}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Cancel(intentID, params)
	if err != nil {
		return nil, g.mapError(err, "cancel payment intent")
	}
	return intentFromStripe(pi), nil
}

func (g *Gateway) GetStatus(ctx context.Context, intentID string) (*services.Intent, error) {
	params := &stripego.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, g.mapError(err, "get payment status")
	}
	return intentFromStripe(pi), nil
}

func (g *Gateway) Refund(ctx context.Context, intentID string, amount int64) (*services.Refund, error) {
	params := &stripego.RefundParams{
		PaymentIntent: stripego.String(intentID),
	}
	if amount > 0 {
		params.Amount = stripego.Int64(amount)
	}
	params.Context = ctx

	ref, err := g.api.Refunds.New(params)
	if err != nil {
		return nil, g.mapError(err, "create refund")
	}

	out := &services.Refund{
		ID:     ref.ID,
		Status: string(ref.Status),
		Amount: ref.Amount,
	}
	if ref.Charge != nil {
		out.ChargeID = ref.Charge.ID
	}
	return out, nil
}

// VerifyWebhook checks the payload signature and maps the event into the
// reconciler's shape. Verification fails closed: a bad signature is an error,
// never a retry.
func (g *Gateway) VerifyWebhook(payload []byte, sigHeader string) (*services.WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, g.webhookSecret)
	if err != nil {
		g.log.Warn().Err(err).Msg("webhook signature verification failed")
		return nil, err
	}

	out := &services.WebhookEvent{Type: string(event.Type)}

	switch out.Type {
	case services.EventPaymentSucceeded, services.EventPaymentFailed, services.EventPaymentCanceled:
		var pi stripego.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, err
		}
		out.IntentID = pi.ID
		out.ChargeID = latestChargeID(&pi)
	}

	return out, nil
}

// mapError folds Stripe's error surface into the gateway taxonomy. Timeouts
// count as provider errors so callers can distinguish them from bad input.
func (g *Gateway) mapError(err error, op string) error {
	g.log.Error().Err(err).Str("op", op).Msg("stripe call failed")

	var sErr *stripego.Error
	if errors.As(err, &sErr) {
		kind := services.GatewayErrorProvider
		msg := sErr.Msg
		switch sErr.Type {
		case stripego.ErrorTypeCard:
			kind = services.GatewayErrorCard
		case stripego.ErrorTypeInvalidRequest:
			kind = services.GatewayErrorInvalidRequest
		case stripego.ErrorTypeAuthentication:
			kind = services.GatewayErrorAuthentication
			msg = "authentication failed with payment provider"
		}
		if msg == "" {
			msg = "payment provider error"
		}
		return &services.GatewayError{Kind: kind, Message: msg}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &services.GatewayError{Kind: services.GatewayErrorProvider, Message: "payment provider timed out"}
	}

	return &services.GatewayError{Kind: services.GatewayErrorInternal, Message: "internal server error"}
}
