package application

import (
	"errors"
	"fmt"
	"strings"

	"github.com/NikoleTW/VPNBot/internal/domain"
	"github.com/go-playground/validator/v10"
)

// AdapterError reports a failed call to the VPN panel. Nothing local was
// changed when it is returned.
type AdapterError struct {
	Op  string
	Err error
}

func (e *AdapterError) Error() string { return fmt.Sprintf("panel %s: %v", e.Op, e.Err) }
func (e *AdapterError) Unwrap() error { return e.Err }

// StateConflictError is returned when an order is not in the status an
// operation requires, including a confirmation already running in-process.
type StateConflictError struct {
	Op      string
	OrderID uint
	Status  domain.OrderStatus
	Reason  string
}

func (e *StateConflictError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s order %d: %s", e.Op, e.OrderID, e.Reason)
	}
	return fmt.Sprintf("%s order %d: order is %s", e.Op, e.OrderID, e.Status)
}

func (e *StateConflictError) Unwrap() error { return domain.ErrStatusMismatch }

type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	var fields validator.ValidationErrors
	if errors.As(e.Err, &fields) {
		parts := make([]string, 0, len(fields))
		for _, f := range fields {
			if f.Param() != "" {
				parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", f.Field(), f.Tag(), f.Param()))
				continue
			}
			parts = append(parts, fmt.Sprintf("%s is %s", f.Field(), f.Tag()))
		}
		return "invalid input: " + strings.Join(parts, ", ")
	}
	return "invalid input: " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(format string, args ...any) error {
	return &ValidationError{Err: fmt.Errorf(format, args...)}
}
