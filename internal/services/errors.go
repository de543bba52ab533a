package services

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the services. Endpoints map these onto HTTP
// status codes; wrap with fmt.Errorf("%w: ...") to attach detail.
var (
	ErrValidation       = errors.New("validation failed")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
)

func validationErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// GatewayErrorKind is the provider error taxonomy surfaced to callers. The
// services never inspect provider payloads beyond this.
type GatewayErrorKind string

const (
	GatewayErrorCard           GatewayErrorKind = "card_error"
	GatewayErrorInvalidRequest GatewayErrorKind = "invalid_request"
	GatewayErrorAuthentication GatewayErrorKind = "authentication_error"
	GatewayErrorProvider       GatewayErrorKind = "provider_error"
	GatewayErrorInternal       GatewayErrorKind = "internal_error"
)

// GatewayError carries a provider failure back to the caller verbatim.
// No ledger row is created or updated when one of these is returned.
type GatewayError struct {
	Kind    GatewayErrorKind
	Message string
}

func (e *GatewayError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// AsGatewayError unwraps err into a *GatewayError if there is one.
func AsGatewayError(err error) (*GatewayError, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
