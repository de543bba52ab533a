package main

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/mohsenfayyazi/billder/internal/services"
)

type stubVerifier struct {
	event *services.WebhookEvent
	err   error
}

func (v stubVerifier) VerifyWebhook(payload []byte, sigHeader string) (*services.WebhookEvent, error) {
	return v.event, v.err
}

func postWebhook(t *testing.T, verifier webhookVerifier) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	ps := services.NewPaymentService(nil, nil, nil, zerolog.Nop())
	registerWebhookRoutes(e.Group(""), ps, verifier)

	req := httptest.NewRequest(http.MethodPost, "/finance/webhooks/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestWebhookRoute(t *testing.T) {
	t.Run("bad signature is a 400", func(t *testing.T) {
		rec := postWebhook(t, stubVerifier{err: errors.New("signature mismatch")})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("verified event is acknowledged", func(t *testing.T) {
		rec := postWebhook(t, stubVerifier{event: &services.WebhookEvent{Type: "charge.dispute.created"}})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
