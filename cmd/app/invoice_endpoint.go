package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohsenfayyazi/billder/internal/middleware"
	"github.com/mohsenfayyazi/billder/internal/services"
)

type invoiceCreateRequest struct {
	CustomerEmail string `json:"customer_email"`
	TotalAmount   int64  `json:"total_amount"` // cents
	Currency      string `json:"currency"`
	DueDate       string `json:"due_date"` // YYYY-MM-DD
}

func requesterFromClaims(cl *middleware.Claims) services.Requester {
	return services.Requester{UserID: cl.UserID, Role: cl.Role}
}

// registerPublicInvoiceRoutes registers the unauthenticated slug lookup on
// the parent group, outside the JWT wall.
func registerPublicInvoiceRoutes(g *echo.Group, is *services.InvoiceService) {
	g.GET("/public/invoices/:slug", func(c echo.Context) error {
		invoice, payments, err := is.PublicInvoice(c.Request().Context(), c.Param("slug"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{
			"success":  true,
			"invoice":  invoice,
			"payments": payments,
		})
	})
}

func registerInvoiceRoutes(g *echo.Group, is *services.InvoiceService, tokens *middleware.TokenIssuer) {
	inv := g.Group("/invoices")
	inv.Use(tokens.JWTMiddleware())

	inv.POST("", func(c echo.Context) error {
		cl := middleware.GetClaims(c)
		if cl == nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
		}

		req := new(invoiceCreateRequest)
		if err := c.Bind(req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
		}

		dueDate, err := time.Parse("2006-01-02", req.DueDate)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "due_date must be YYYY-MM-DD"})
		}

		invoice, err := is.CreateInvoice(c.Request().Context(), services.InvoiceRequest{
			CustomerEmail: req.CustomerEmail,
			TotalAmount:   req.TotalAmount,
			Currency:      req.Currency,
			DueDate:       dueDate,
		}, requesterFromClaims(cl))
		if err != nil {
			return respondError(c, err)
		}

		return c.JSON(http.StatusCreated, invoice)
	})

	inv.GET("", func(c echo.Context) error {
		cl := middleware.GetClaims(c)
		if cl == nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
		}

		invoices, err := is.ListInvoices(
			c.Request().Context(),
			requesterFromClaims(cl),
			c.QueryParam("status"),
			c.QueryParam("currency"),
		)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{"invoices": invoices})
	})

	inv.GET("/stats/totals", func(c echo.Context) error {
		cl := middleware.GetClaims(c)
		if cl == nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
		}

		totals, err := is.Totals(c.Request().Context(), requesterFromClaims(cl))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, totals)
	})

	inv.GET("/stats/customers", func(c echo.Context) error {
		cl := middleware.GetClaims(c)
		if cl == nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
		}

		stats, err := is.CustomerStats(c.Request().Context(), requesterFromClaims(cl))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, stats)
	})

	inv.GET("/:id", func(c echo.Context) error {
		cl := middleware.GetClaims(c)
		if cl == nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
		}

		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid invoice id"})
		}

		invoice, err := is.GetInvoice(c.Request().Context(), id, requesterFromClaims(cl))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, invoice)
	})
}
