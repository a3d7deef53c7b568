// Package errors provides standardized error handling for the turn-timer
// coordination service.
//
// # Core Types
//
//   - AppError: Application-level error with HTTP context, error code, Kind, and message
//   - Kind: closed catalog of wire-protocol error categories (spec §7)
//   - ErrorResponse: JSON structure for HTTP error responses
//
// # Usage
//
// Using predefined errors:
//
//	if game == nil {
//	    return errors.ErrGameNotFound
//	}
//
// Wrapping errors with context:
//
//	if err := store.Get(ctx, id); err != nil {
//	    return errors.Wrap(errors.ErrInternal, "failed to load game", err)
//	}
//
// Operation-specific authorization messages:
//
//	return errors.NewNotAuthorized("reset")  // "Not authorized to reset"
//
// # Error Categories
//
// Domain errors are defined in domain.go and map onto spec §7's catalog:
// invalid_settings, game_not_found, invalid_player_id, invalid_token,
// not_authorized, rate_limit_exceeded, lock_timeout, optimistic_lock_failed,
// buffer_overflow, id_allocation_exhausted, invalid_message_type,
// invalid_json, unknown_message_type, invalid_target, wrong_state_for_op,
// internal.
package errors
