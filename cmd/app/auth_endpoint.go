package main

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohsenfayyazi/billder/internal/middleware"
	"github.com/mohsenfayyazi/billder/internal/model"
	"github.com/mohsenfayyazi/billder/internal/services"
)

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func registerAuthRoutes(g *echo.Group, authSvc *services.AuthService, tokens *middleware.TokenIssuer) {
	a := g.Group("/auth")

	a.POST("/register", func(c echo.Context) error {
		req := new(registerRequest)
		if err := c.Bind(req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
		}

		id, err := authSvc.Register(
			c.Request().Context(),
			req.Email,
			req.Password,
			req.FirstName,
			req.LastName,
			model.Role(req.Role),
		)
		if err != nil {
			return respondError(c, err)
		}

		return c.JSON(http.StatusCreated, echo.Map{"userid": id})
	})

	a.POST("/login", func(c echo.Context) error {
		req := new(loginRequest)
		if err := c.Bind(req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
		}

		user, err := authSvc.Login(c.Request().Context(), req.Email, req.Password)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
		}

		token, err := tokens.GenerateToken(user.UserID, user.Email, user.Role, 24)
		if err != nil {
			return respondError(c, err)
		}

		return c.JSON(http.StatusOK, echo.Map{
			"token": token,
			"user":  user,
		})
	})
}
