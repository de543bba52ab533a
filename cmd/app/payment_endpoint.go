package main

import (
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mohsenfayyazi/billder/internal/middleware"
	"github.com/mohsenfayyazi/billder/internal/model"
	"github.com/mohsenfayyazi/billder/internal/services"
)

type paymentCreateRequest struct {
	InvoiceID   int64  `json:"invoice_id"`
	Amount      int64  `json:"amount"` // cents
	Currency    string `json:"currency"`
	Method      string `json:"payment_method"`
	Description string `json:"description"`
}

type paymentConfirmRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
	PaymentMethodID string `json:"payment_method_id"`
}

type refundCreateRequest struct {
	PaymentID int64  `json:"payment_id"`
	Amount    int64  `json:"amount"` // cents
	Reason    string `json:"reason"`
}

// webhookVerifier authenticates raw provider deliveries before the
// reconciler sees them.
type webhookVerifier interface {
	VerifyWebhook(payload []byte, sigHeader string) (*services.WebhookEvent, error)
}

func registerWebhookRoutes(g *echo.Group, ps *services.PaymentService, verifier webhookVerifier) {
	// Signature-verified, so public. Invalid signature or payload is a 400;
	// the provider retries those. Everything else is acknowledged.
	g.POST("/finance/webhooks/stripe", func(c echo.Context) error {
		payload, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid payload"})
		}

		event, err := verifier.VerifyWebhook(payload, c.Request().Header.Get("Stripe-Signature"))
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid signature"})
		}

		if err := ps.HandleWebhookEvent(c.Request().Context(), event); err != nil {
			// Storage faults bounce so the provider redelivers.
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "webhook processing failed"})
		}

		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})
}

func registerPaymentRoutes(g *echo.Group, ps *services.PaymentService, tokens *middleware.TokenIssuer) {
	p := g.Group("/payments")
	p.Use(tokens.JWTMiddleware())

	p.POST("", func(c echo.Context) error {
		cl := middleware.GetClaims(c)
		if cl == nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
		}

		req := new(paymentCreateRequest)
		if err := c.Bind(req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
		}

		payment, err := ps.RequestPayment(c.Request().Context(), services.PaymentRequest{
			InvoiceID:   req.InvoiceID,
			Amount:      req.Amount,
			Currency:    req.Currency,
			Method:      model.PaymentMethod(req.Method),
			Description: req.Description,
		}, requesterFromClaims(cl))
		if err != nil {
			return respondError(c, err)
		}

		return c.JSON(http.StatusCreated, echo.Map{
			"success":       true,
			"payment":       payment,
			"client_secret": payment.ClientSecret,
			"message":       "Payment intent created successfully",
		})
	})

	p.POST("/confirm", func(c echo.Context) error {
		cl := middleware.GetClaims(c)
		if cl == nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
		}

		req := new(paymentConfirmRequest)
		if err := c.Bind(req); err != nil || req.PaymentIntentID == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "payment_intent_id is required"})
		}

		payment, err := ps.ConfirmPayment(
			c.Request().Context(),
			req.PaymentIntentID,
			req.PaymentMethodID,
			requesterFromClaims(cl),
		)
		if err != nil {
			return respondError(c, err)
		}

		return c.JSON(http.StatusOK, echo.Map{
			"success": true,
			"payment": payment,
			"message": "Payment confirmed successfully",
		})
	})

	p.POST("/refund", func(c echo.Context) error {
		cl := middleware.GetClaims(c)
		if cl == nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
		}

		req := new(refundCreateRequest)
		if err := c.Bind(req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
		}

		payment, err := ps.CreateRefund(
			c.Request().Context(),
			req.PaymentID,
			req.Amount,
			req.Reason,
			requesterFromClaims(cl),
		)
		if err != nil {
			return respondError(c, err)
		}

		return c.JSON(http.StatusCreated, echo.Map{
			"success": true,
			"refund":  payment,
			"message": "Refund processed successfully",
		})
	})

	p.GET("/refunds", func(c echo.Context) error {
		cl := middleware.GetClaims(c)
		if cl == nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
		}

		refunds, err := ps.ListRefunds(c.Request().Context(), requesterFromClaims(cl))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{"success": true, "refunds": refunds})
	})

	p.GET("", func(c echo.Context) error {
		cl := middleware.GetClaims(c)
		if cl == nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
		}

		var invoiceID *int64
		if raw := c.QueryParam("invoice"); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid invoice id"})
			}
			invoiceID = &id
		}

		payments, err := ps.ListPayments(c.Request().Context(), requesterFromClaims(cl), invoiceID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{"payments": payments})
	})

	p.GET("/:id", func(c echo.Context) error {
		cl := middleware.GetClaims(c)
		if cl == nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
		}

		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid payment id"})
		}

		payment, err := ps.GetPayment(c.Request().Context(), id, requesterFromClaims(cl))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, payment)
	})

	p.GET("/:id/status", func(c echo.Context) error {
		cl := middleware.GetClaims(c)
		if cl == nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
		}

		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid payment id"})
		}

		status, err := ps.GetPaymentStatus(c.Request().Context(), id, requesterFromClaims(cl))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, status)
	})

	p.POST("/:id/cancel", func(c echo.Context) error {
		cl := middleware.GetClaims(c)
		if cl == nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
		}

		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid payment id"})
		}

		payment, err := ps.CancelPayment(c.Request().Context(), id, requesterFromClaims(cl))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{
			"success": true,
			"payment": payment,
			"message": "Payment canceled successfully",
		})
	})
}
