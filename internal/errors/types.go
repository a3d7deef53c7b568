package errors

import (
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Kind is a closed catalog of machine-readable error categories, distinct
// from Code (which stays human-assigned/unique-per-var). Kind is what the
// wire protocol and metrics key off of.
type Kind string

const (
	KindInvalidSettings      Kind = "invalid_settings"
	KindGameNotFound         Kind = "game_not_found"
	KindInvalidPlayerID      Kind = "invalid_player_id"
	KindInvalidToken         Kind = "invalid_token"
	KindNotAuthorized        Kind = "not_authorized"
	KindRateLimitExceeded    Kind = "rate_limit_exceeded"
	KindLockTimeout          Kind = "lock_timeout"
	KindOptimisticLockFailed Kind = "optimistic_lock_failed"
	KindBufferOverflow       Kind = "buffer_overflow"
	KindIDAllocationExhausted Kind = "id_allocation_exhausted"
	KindInvalidMessageType   Kind = "invalid_message_type"
	KindInvalidJSON          Kind = "invalid_json"
	KindUnknownMessageType   Kind = "unknown_message_type"
	KindInvalidTarget        Kind = "invalid_target"
	KindWrongStateForOp      Kind = "wrong_state_for_op"
	KindInternal             Kind = "internal"
)

// AppError represents an application-level error with HTTP context
type AppError struct {
	Code       string `json:"code"`    // Machine-readable code (e.g., "AUTH_INVALID_CREDENTIALS")
	Kind       Kind   `json:"kind"`    // Closed wire-protocol category
	Message    string `json:"message"` // Human-readable message, part of the wire contract
	HTTPStatus int    `json:"-"`       // HTTP status code (not serialized)
	Err        error  `json:"-"`       // Underlying error (not serialized)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for error chain support
func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error templates
var (
	ErrInvalidInput   = &AppError{Code: "INVALID_INPUT", Message: "Invalid input", HTTPStatus: http.StatusBadRequest}
	ErrUnauthorized   = &AppError{Code: "UNAUTHORIZED", Message: "Unauthorized", HTTPStatus: http.StatusUnauthorized}
	ErrForbidden      = &AppError{Code: "FORBIDDEN", Message: "Forbidden", HTTPStatus: http.StatusForbidden}
	ErrNotFound       = &AppError{Code: "NOT_FOUND", Message: "Not found", HTTPStatus: http.StatusNotFound}
	ErrConflict       = &AppError{Code: "CONFLICT", Message: "Conflict", HTTPStatus: http.StatusConflict}
	ErrInternalServer = &AppError{Code: "INTERNAL_ERROR", Message: "Internal server error", HTTPStatus: http.StatusInternalServerError}
)

// Wrap creates a new error wrapping the original with a custom message
func Wrap(base *AppError, message string, err error) *AppError {
	return &AppError{
		Code:       base.Code,
		Kind:       base.Kind,
		Message:    message,
		HTTPStatus: base.HTTPStatus,
		Err:        err,
	}
}

// New creates a new AppError with custom values
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// NewKind creates an AppError tagged with a wire-protocol Kind.
func NewKind(kind Kind, code, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Kind:       kind,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// ErrorResponse represents the JSON error response structure
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// KindOf extracts the wire Kind from err, defaulting to KindInternal for
// anything that isn't an *AppError (a bug, not a client-facing kind).
func KindOf(err error) Kind {
	var appErr *AppError
	if stdErrors.As(err, &appErr) && appErr.Kind != "" {
		return appErr.Kind
	}
	return KindInternal
}

// WireError is the fixed {"kind","message"} shape sent back on the
// "error" outbound frame (spec §7).
type WireError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ToWire converts any error into the wire-contract error payload,
// collapsing non-AppError values into a generic internal error rather
// than leaking internal detail to the client.
func ToWire(err error) WireError {
	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return WireError{Kind: string(appErr.Kind), Message: appErr.Message}
	}
	return WireError{Kind: string(KindInternal), Message: "Internal error"}
}

// RespondWithError writes an error response to the HTTP writer
func RespondWithError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if !stdErrors.As(err, &appErr) {
		// If not an AppError, treat as internal server error
		appErr = &AppError{
			Code:       "UNKNOWN_ERROR",
			Message:    "An unexpected error occurred",
			HTTPStatus: http.StatusInternalServerError,
			Err:        err,
		}
	}

	response := ErrorResponse{}
	response.Error.Code = appErr.Code
	response.Error.Message = appErr.Message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(response) // Error intentionally ignored - response already committed
}
