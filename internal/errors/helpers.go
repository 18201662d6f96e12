package errors

import (
	"fmt"
)

// Common error creators for frequent use cases

// NewValidationError creates a validation error with field context
func NewValidationError(field, value, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithContext("value", value).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewSendError creates an error for a send whose acknowledgment reported failure.
// Not retryable: resending is an explicit user action with a fresh temporary id.
func NewSendError(roomID, tempID, reason string) *AppError {
	return New(ErrCodeSendFailed, "send acknowledgment reported failure").
		WithContext("room_id", roomID).
		WithContext("temp_id", tempID).
		WithContext("reason", reason).
		WithUserMessage("Message could not be sent")
}

// NewReceiptError creates an error for a failed mark_delivered/mark_read ack.
// Retryable: the latch stays unset so a later activation may retry.
func NewReceiptError(kind, roomID, reason string) *AppError {
	return WrapRetryable(nil, ErrCodeReceiptFailed, fmt.Sprintf("%s acknowledgment reported failure", kind)).
		WithContext("kind", kind).
		WithContext("room_id", roomID).
		WithContext("reason", reason)
}

// NewHistoryError creates an error for a failed history page fetch.
func NewHistoryError(roomID string, err error) *AppError {
	return WrapRetryable(err, ErrCodeHistoryLoad, "history page fetch failed").
		WithContext("room_id", roomID).
		WithUserMessage("Could not load older messages")
}

// NewCacheError creates a local cache error with operation context
func NewCacheError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeCacheQuery, fmt.Sprintf("cache %s failed", operation)).
		WithContext("operation", operation)
}

// NewConnectionError creates an error for an operation attempted while the
// channel is disconnected. Sends and marks are no-ops in that state.
func NewConnectionError(operation string) *AppError {
	return New(ErrCodeConnection, fmt.Sprintf("%s requires a connected channel", operation)).
		WithContext("operation", operation).
		WithUserMessage("You are offline")
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration).
		WithUserMessage("Operation timed out, please try again")
}
