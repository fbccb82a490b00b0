// Package remote talks to the backend over its method-endpoint REST
// dialect and classifies every failure so the queue and operators can
// tell a dead network from a rejected payload.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/tillsync-io/tillsync/internal/models"
)

// Category classifies a remote failure.
type Category string

const (
	CategoryNetwork    Category = "network"
	CategoryAuth       Category = "auth"
	CategoryValidation Category = "validation"
	CategoryServer     Category = "server"
	CategoryTimeout    Category = "timeout"
)

// Error is a categorized failure from the backend. Auth material never
// appears in the message; only the category, status, and server text do.
type Error struct {
	Category   Category
	Op         models.OpType
	Message    string
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	op := ""
	if e.Op != "" {
		op = fmt.Sprintf(" during %s", e.Op)
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("remote %s error%s (status %d): %s", e.Category, op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("remote %s error%s: %s", e.Category, op, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Categorize maps a transport error or HTTP status to a Category.
// Transport failures are Network unless they timed out; 401/403 is Auth;
// other 4xx is Validation; 5xx is Server.
func Categorize(err error, status int) Category {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return CategoryTimeout
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return CategoryTimeout
		}
		return CategoryNetwork
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CategoryAuth
	case status >= 500:
		return CategoryServer
	case status >= 400:
		return CategoryValidation
	}
	return CategoryServer
}
