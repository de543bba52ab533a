package main

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohsenfayyazi/billder/internal/services"
)

// respondError maps service errors onto HTTP responses. Gateway errors carry
// their taxonomy kind through to the client verbatim.
func respondError(c echo.Context, err error) error {
	if ge, ok := services.AsGatewayError(err); ok {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"success":    false,
			"error":      ge.Message,
			"error_type": string(ge.Kind),
		})
	}

	switch {
	case errors.Is(err, services.ErrValidation):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, services.ErrPermissionDenied):
		return c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})
	case errors.Is(err, services.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	}

	c.Logger().Error(err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
}
