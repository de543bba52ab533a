package main

import (
	"context"
	"os"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/mohsenfayyazi/billder/external/resend"
	stripegw "github.com/mohsenfayyazi/billder/external/stripe"
	"github.com/mohsenfayyazi/billder/internal/db"
	"github.com/mohsenfayyazi/billder/internal/middleware"
	"github.com/mohsenfayyazi/billder/internal/repository"
	"github.com/mohsenfayyazi/billder/internal/services"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	// ======================
	// INFRA
	// ======================
	pool, err := db.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database")
	}
	defer pool.Close()

	// ======================
	// EXTERNALS
	// ======================
	gateway, err := stripegw.NewGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret, log)
	if err != nil {
		log.Fatal().Err(err).Msg("stripe")
	}

	var mailer services.InvoiceMailer
	if cfg.ResendAPIKey != "" {
		m, err := resend.NewResendMailer(cfg.ResendAPIKey, cfg.MailFrom)
		if err != nil {
			log.Fatal().Err(err).Msg("resend")
		}
		mailer = m
	} else {
		log.Warn().Msg("RESEND_API_KEY not set, invoice emails disabled")
	}

	// ======================
	// REPOSITORIES
	// ======================
	userRepo := repository.NewUserRepository(pool)
	invoiceRepo := repository.NewInvoiceRepository(pool)
	paymentRepo := repository.NewPaymentRepository(pool)

	// ======================
	// SERVICES
	// ======================
	tokens := middleware.NewTokenIssuer(cfg.JWTSecret)
	authSvc := services.NewAuthService(userRepo)
	invoiceSvc := services.NewInvoiceService(invoiceRepo, paymentRepo, userRepo, mailer, cfg.PublicBaseURL, log)
	paymentSvc := services.NewPaymentService(invoiceRepo, paymentRepo, gateway, log)

	// ======================
	// ECHO
	// ======================
	e := echo.New()
	e.Use(echomw.Logger())
	e.Use(echomw.Recover())

	api := e.Group("/billder")

	// ======================
	// ROUTES (ONLY REGISTRATION)
	// ======================
	registerAuthRoutes(api, authSvc, tokens)
	registerPublicInvoiceRoutes(api, invoiceSvc)
	registerWebhookRoutes(api, paymentSvc, gateway)
	registerInvoiceRoutes(api, invoiceSvc, tokens)
	registerPaymentRoutes(api, paymentSvc, tokens)

	// ======================
	// SERVER
	// ======================
	log.Info().Str("port", cfg.Port).Msg("starting server")
	e.Logger.Fatal(e.Start(":" + cfg.Port))
}
