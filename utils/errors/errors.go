package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError represents a custom error type for API responses
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Details string `json:"details,omitempty"`
}

// Error returns the error message
func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any APIError carrying the same code and message, so sentinels
// survive WithDetails copies.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// WithDetails returns a copy of the error with Details set.
func (e *APIError) WithDetails(details string) *APIError {
	cp := *e
	cp.Details = details
	return &cp
}

func NewAPIError(code, message string, status int, details ...string) *APIError {
	err := &APIError{
		Code:    code,
		Message: message,
		Status:  status,
	}
	if len(details) > 0 {
		err.Details = details[0]
	}
	return err
}

// Error kinds. Conflicts are reported as 400 to match what the mobile clients expect.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeAuthentication = "AUTHENTICATION_ERROR"
	CodeAuthorization  = "AUTHORIZATION_ERROR"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodeRateLimited    = "RATE_LIMITED"
	CodeInternal       = "INTERNAL_SERVER_ERROR"
)

var (
	ErrInvalidInput = NewAPIError(CodeValidation, "Invalid request data", http.StatusBadRequest)
	ErrUnauthorized = NewAPIError(CodeAuthentication, "Authentication required", http.StatusUnauthorized)
	ErrForbidden    = NewAPIError(CodeAuthorization, "Not authorized", http.StatusForbidden)
	ErrNotFound     = NewAPIError(CodeNotFound, "Resource not found", http.StatusNotFound)
	ErrInternal     = NewAPIError(CodeInternal, "Internal server error", http.StatusInternalServerError)
	ErrConflict     = NewAPIError(CodeConflict, "Resource conflict", http.StatusBadRequest)
	ErrRateLimited  = NewAPIError(CodeRateLimited, "Too many requests, try again later", http.StatusTooManyRequests)
)

// Auth
var (
	ErrEmailInUse         = NewAPIError(CodeConflict, "Email already in use", http.StatusBadRequest)
	ErrUsernameTaken      = NewAPIError(CodeConflict, "Username already taken", http.StatusBadRequest)
	ErrPhoneInUse         = NewAPIError(CodeConflict, "Phone number already in use", http.StatusBadRequest)
	ErrInvalidCode        = NewAPIError(CodeValidation, "Invalid or expired OTP", http.StatusBadRequest)
	ErrInvalidCredentials = NewAPIError(CodeAuthentication, "Invalid credentials", http.StatusUnauthorized)
	ErrIncorrectPassword  = NewAPIError(CodeAuthentication, "Current password is incorrect", http.StatusUnauthorized)
	ErrInvalidToken       = NewAPIError(CodeAuthentication, "Invalid or expired token", http.StatusUnauthorized)
	ErrAlreadyVerified    = NewAPIError(CodeValidation, "Email already verified", http.StatusBadRequest)
	ErrUserNotFound       = NewAPIError(CodeNotFound, "User not found", http.StatusNotFound)
)

// Parties
var (
	ErrPartyNotFound      = NewAPIError(CodeNotFound, "Party not found", http.StatusNotFound)
	ErrPartyFull          = NewAPIError(CodeValidation, "Party is full", http.StatusBadRequest)
	ErrPartyInactive      = NewAPIError(CodeValidation, "Party is no longer active", http.StatusBadRequest)
	ErrNotInParty         = NewAPIError(CodeValidation, "Not in party", http.StatusBadRequest)
	ErrNotPartyMember     = NewAPIError(CodeAuthorization, "You must be in the party to invite others", http.StatusForbidden)
	ErrVideoNotConfigured = NewAPIError(CodeInternal, "Video service not properly configured", http.StatusInternalServerError)
)

// Friends and invitations
var (
	ErrAlreadyFriends     = NewAPIError(CodeConflict, "Already friends with this user", http.StatusBadRequest)
	ErrAlreadyPending     = NewAPIError(CodeConflict, "Friend request already sent", http.StatusBadRequest)
	ErrAlreadyResolved    = NewAPIError(CodeConflict, "Invitation already responded to", http.StatusBadRequest)
	ErrSelfRequest        = NewAPIError(CodeValidation, "Cannot send a friend request to yourself", http.StatusBadRequest)
	ErrInvitationNotFound = NewAPIError(CodeNotFound, "Invitation not found", http.StatusNotFound)
	ErrNotInvitee         = NewAPIError(CodeAuthorization, "Not authorized to respond to this invitation", http.StatusForbidden)
)

func Wrap(err error, code, message string, status int) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return NewAPIError(code, message, status, err.Error())
}

// Internal wraps an unexpected failure as a 500 keeping the cause in Details.
func Internal(err error) *APIError {
	return Wrap(err, CodeInternal, ErrInternal.Message, http.StatusInternalServerError)
}

// Invalid returns a validation error with a specific message.
func Invalid(message string) *APIError {
	return NewAPIError(CodeValidation, message, http.StatusBadRequest)
}
