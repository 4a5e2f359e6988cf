package services

import (
	"errors"

	"github.com/diogomanala/chatbot-saas-sub003/internal/repositories"
)

var (
	// ErrTransient wraps persistence failures that leave state untouched.
	// Callers may retry the same operation.
	ErrTransient = errors.New("transient billing error")

	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAlreadyProcessed  = errors.New("message already processed")
	ErrInvalidAmount     = errors.New("amount must be greater than zero")
	ErrInvalidOrgID      = errors.New("org id is required")
	ErrInvalidMessageID  = errors.New("message id is required")
	ErrIllegalTransition = errors.New("illegal billing status transition")
	ErrMessageNotFound   = repositories.ErrMessageNotFound
)

// IsRetryable reports whether err came from a failure worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
