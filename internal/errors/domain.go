package errors

import "net/http"

// Domain errors for the turn-timer coordination service. Message strings are
// literal wire contract (spec §7); do not reword without updating clients.

var (
	ErrInvalidSettings = &AppError{Code: "INVALID_SETTINGS", Kind: KindInvalidSettings, Message: "Invalid settings", HTTPStatus: http.StatusBadRequest}
	ErrGameNotFound    = &AppError{Code: "GAME_NOT_FOUND", Kind: KindGameNotFound, Message: "Game not found", HTTPStatus: http.StatusNotFound}
	ErrInvalidPlayerID = &AppError{Code: "INVALID_PLAYER_ID", Kind: KindInvalidPlayerID, Message: "Invalid player ID", HTTPStatus: http.StatusBadRequest}
	ErrInvalidToken    = &AppError{Code: "INVALID_TOKEN", Kind: KindInvalidToken, Message: "Invalid token", HTTPStatus: http.StatusUnauthorized}

	// ErrNotAuthorized is a template; callers substitute the trailing verb
	// via NewNotAuthorized to produce "Not authorized to <verb>".
	ErrNotAuthorized = &AppError{Code: "NOT_AUTHORIZED", Kind: KindNotAuthorized, Message: "Not authorized", HTTPStatus: http.StatusForbidden}

	ErrRateLimitExceeded    = &AppError{Code: "RATE_LIMIT_EXCEEDED", Kind: KindRateLimitExceeded, Message: "Rate limit exceeded", HTTPStatus: http.StatusTooManyRequests}
	ErrLockTimeout          = &AppError{Code: "LOCK_TIMEOUT", Kind: KindLockTimeout, Message: "Failed to create game", HTTPStatus: http.StatusServiceUnavailable}
	ErrOptimisticLockFailed = &AppError{Code: "OPTIMISTIC_LOCK_FAILED", Kind: KindOptimisticLockFailed, Message: "Failed to create game", HTTPStatus: http.StatusConflict}
	ErrBufferOverflow       = &AppError{Code: "BUFFER_OVERFLOW", Kind: KindBufferOverflow, Message: "Buffer overflow", HTTPStatus: http.StatusInternalServerError}

	ErrIDAllocationExhausted = &AppError{Code: "ID_ALLOCATION_EXHAUSTED", Kind: KindIDAllocationExhausted, Message: "Failed to create game", HTTPStatus: http.StatusServiceUnavailable}
	ErrInvalidMessageType    = &AppError{Code: "INVALID_MESSAGE_TYPE", Kind: KindInvalidMessageType, Message: "Invalid message type", HTTPStatus: http.StatusBadRequest}
	ErrInvalidJSON           = &AppError{Code: "INVALID_JSON", Kind: KindInvalidJSON, Message: "Invalid JSON", HTTPStatus: http.StatusBadRequest}
	ErrUnknownMessageType    = &AppError{Code: "UNKNOWN_MESSAGE_TYPE", Kind: KindUnknownMessageType, Message: "Unknown message type", HTTPStatus: http.StatusBadRequest}
	ErrInvalidTarget         = &AppError{Code: "INVALID_TARGET", Kind: KindInvalidTarget, Message: "Invalid target", HTTPStatus: http.StatusBadRequest}
	ErrWrongStateForOp       = &AppError{Code: "WRONG_STATE_FOR_OP", Kind: KindWrongStateForOp, Message: "Game is not running", HTTPStatus: http.StatusConflict}
	ErrInternal              = &AppError{Code: "INTERNAL", Kind: KindInternal, Message: "Internal error", HTTPStatus: http.StatusInternalServerError}

	// Fixed wire-contract strings that do not map 1:1 onto a Kind var above
	// but are referenced directly by handlers (spec §7).
	ErrPlayerAlreadyClaimed  = &AppError{Code: "PLAYER_ALREADY_CLAIMED", Kind: KindNotAuthorized, Message: "Player already claimed", HTTPStatus: http.StatusConflict}
	ErrNoTargetsSelected     = &AppError{Code: "NO_TARGETS_SELECTED", Kind: KindInvalidTarget, Message: "No targets selected", HTTPStatus: http.StatusBadRequest}
	ErrCannotChangeTargets   = &AppError{Code: "CANNOT_CHANGE_TARGETS", Kind: KindWrongStateForOp, Message: "Cannot change targets now", HTTPStatus: http.StatusConflict}
	ErrMustClaimPlayerFmt    = &AppError{Code: "MUST_CLAIM_PLAYER", Kind: KindNotAuthorized, Message: "You must claim a player to %s", HTTPStatus: http.StatusForbidden}
)

// NewNotAuthorized builds the "Not authorized to <verb>" wire message for a
// specific operation, per spec §7.
func NewNotAuthorized(verb string) *AppError {
	return &AppError{
		Code:       ErrNotAuthorized.Code,
		Kind:       ErrNotAuthorized.Kind,
		Message:    "Not authorized to " + verb,
		HTTPStatus: ErrNotAuthorized.HTTPStatus,
	}
}

// NewMustClaimPlayer builds "You must claim a player to <verb>".
func NewMustClaimPlayer(verb string) *AppError {
	return &AppError{
		Code:       ErrMustClaimPlayerFmt.Code,
		Kind:       ErrMustClaimPlayerFmt.Kind,
		Message:    "You must claim a player to " + verb,
		HTTPStatus: ErrMustClaimPlayerFmt.HTTPStatus,
	}
}
