package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode represents a specific error type for better error handling
type ErrorCode string

const (
	// Construction errors
	ErrCodeInvalidConfiguration ErrorCode = "INVALID_CONFIGURATION"
	ErrCodeDuplicateIdentifier  ErrorCode = "DUPLICATE_IDENTIFIER"

	// Background errors, absorbed and logged
	ErrCodeDiscoveryFailed ErrorCode = "DISCOVERY_FAILED"
	ErrCodeProbeFailed     ErrorCode = "PROBE_FAILED"
	ErrCodeSchedulerFailed ErrorCode = "SCHEDULER_FAILED"
	ErrCodeShutdownTimeout ErrorCode = "SHUTDOWN_TIMEOUT"

	// Request processing errors
	ErrCodeBalancerNotFound     ErrorCode = "BALANCER_NOT_FOUND"
	ErrCodeNoNodes              ErrorCode = "NO_NODES_AVAILABLE"
	ErrCodeInvalidRequest       ErrorCode = "INVALID_REQUEST"
	ErrCodeAuthenticationFailed ErrorCode = "AUTHENTICATION_FAILED"
	ErrCodeRateLimitExceeded    ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// Sentinels for errors.Is matching by code.
var (
	ErrInvalidConfiguration = &BalancerError{Code: ErrCodeInvalidConfiguration}
	ErrDuplicateIdentifier  = &BalancerError{Code: ErrCodeDuplicateIdentifier}
	ErrDiscoveryFailed      = &BalancerError{Code: ErrCodeDiscoveryFailed}
	ErrBalancerNotFound     = &BalancerError{Code: ErrCodeBalancerNotFound}
	ErrNoNodes              = &BalancerError{Code: ErrCodeNoNodes}
)

// BalancerError represents a structured error with context
type BalancerError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Component string                 `json:"component,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Cause     error                  `json:"-"`
}

// Error implements the error interface
func (e *BalancerError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s: %s", e.Code, e.Component, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Component, e.Message)
}

// Unwrap returns the underlying error
func (e *BalancerError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error code
func (e *BalancerError) Is(target error) bool {
	if t, ok := target.(*BalancerError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithMetadata adds metadata to the error
func (e *BalancerError) WithMetadata(key string, value interface{}) *BalancerError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *BalancerError) HTTPStatusCode() int {
	switch e.Code {
	case ErrCodeInvalidRequest, ErrCodeInvalidConfiguration:
		return http.StatusBadRequest
	case ErrCodeAuthenticationFailed:
		return http.StatusUnauthorized
	case ErrCodeBalancerNotFound:
		return http.StatusNotFound
	case ErrCodeDuplicateIdentifier:
		return http.StatusConflict
	case ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrCodeNoNodes:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewError creates a new BalancerError
func NewError(code ErrorCode, component, message string) *BalancerError {
	return &BalancerError{
		Code:      code,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewErrorWithCause creates a new BalancerError with an underlying cause
func NewErrorWithCause(code ErrorCode, component, message string, cause error) *BalancerError {
	e := NewError(code, component, message)
	e.Cause = cause
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// WrapError wraps an existing error with BalancerError structure
func WrapError(err error, code ErrorCode, component, message string) *BalancerError {
	if err == nil {
		return nil
	}
	return NewErrorWithCause(code, component, message, err)
}

// NewInvalidConfigurationError reports a rejected construction parameter
func NewInvalidConfigurationError(component, message string) *BalancerError {
	return NewError(ErrCodeInvalidConfiguration, component, message)
}

// NewDuplicateIdentifierError reports an already registered balancer id
func NewDuplicateIdentifierError(balancerID string) *BalancerError {
	return NewError(
		ErrCodeDuplicateIdentifier,
		"registry",
		fmt.Sprintf("Balancer with id %s already exists", balancerID),
	).WithMetadata("balancer_id", balancerID)
}

// NewDiscoveryError wraps a discoverer fault
func NewDiscoveryError(balancerID string, cause error) *BalancerError {
	return NewErrorWithCause(
		ErrCodeDiscoveryFailed,
		"discovery",
		fmt.Sprintf("Node discovery failed for balancer %s", balancerID),
		cause,
	).WithMetadata("balancer_id", balancerID)
}

// NewBalancerNotFoundError reports an unknown balancer id
func NewBalancerNotFoundError(balancerID string) *BalancerError {
	return NewError(
		ErrCodeBalancerNotFound,
		"registry",
		fmt.Sprintf("Missing balancer with id %s", balancerID),
	).WithMetadata("balancer_id", balancerID)
}

// NewNoNodesError reports that no eligible node could be selected
func NewNoNodesError(balancerID string) *BalancerError {
	return NewError(
		ErrCodeNoNodes,
		"balancer",
		fmt.Sprintf("No available nodes for balancer %s", balancerID),
	).WithMetadata("balancer_id", balancerID)
}

// NewRateLimitError creates an error for rate limiting
func NewRateLimitError(clientIP string) *BalancerError {
	return NewError(
		ErrCodeRateLimitExceeded,
		"rate_limiter",
		fmt.Sprintf("Rate limit exceeded for client %s", clientIP),
	).WithMetadata("client_ip", clientIP)
}

// NewAuthenticationError creates an authentication error
func NewAuthenticationError(reason string) *BalancerError {
	return NewError(
		ErrCodeAuthenticationFailed,
		"auth",
		fmt.Sprintf("Authentication failed: %s", reason),
	).WithMetadata("reason", reason)
}

// IsBalancerError checks if an error is a BalancerError
func IsBalancerError(err error) bool {
	var lbErr *BalancerError
	return errors.As(err, &lbErr)
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var lbErr *BalancerError
	if errors.As(err, &lbErr) {
		return lbErr.Code
	}
	return ErrCodeInternalError
}

// GetHTTPStatusCode gets the appropriate HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	var lbErr *BalancerError
	if errors.As(err, &lbErr) {
		return lbErr.HTTPStatusCode()
	}
	return http.StatusInternalServerError
}

// ErrorResponse is the JSON body written for failed HTTP requests
type ErrorResponse struct {
	Error     string                 `json:"error"`
	Code      ErrorCode              `json:"code"`
	Status    int                    `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// WriteHTTPError writes err as a JSON error response with its mapped status code
func WriteHTTPError(w http.ResponseWriter, err error) {
	WriteHTTPErrorWithStatus(w, err, GetHTTPStatusCode(err))
}

// WriteHTTPErrorWithStatus writes err as a JSON error response with the given status code
func WriteHTTPErrorWithStatus(w http.ResponseWriter, err error, status int) {
	response := ErrorResponse{
		Error:     err.Error(),
		Code:      GetErrorCode(err),
		Status:    status,
		Timestamp: time.Now().UTC(),
	}

	var lbErr *BalancerError
	if errors.As(err, &lbErr) {
		response.Error = lbErr.Message
		response.Metadata = lbErr.Metadata
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(response.Status)
	json.NewEncoder(w).Encode(response)
}
