package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithDetailsKeepsIdentity(t *testing.T) {
	err := ErrPartyFull.WithDetails("party 42")

	assert.True(t, stderrors.Is(err, ErrPartyFull))
	assert.False(t, stderrors.Is(err, ErrPartyInactive))
	assert.Equal(t, "party 42", err.Details)
	assert.Empty(t, ErrPartyFull.Details)
}

func TestWrap(t *testing.T) {
	wrapped := fmt.Errorf("join: %w", ErrNotInParty)
	assert.Same(t, ErrNotInParty, Wrap(wrapped, CodeInternal, "x", http.StatusInternalServerError))

	plain := Internal(stderrors.New("mongo down"))
	assert.Equal(t, http.StatusInternalServerError, plain.Status)
	assert.Equal(t, "mongo down", plain.Details)
}

func TestConflictsAreBadRequest(t *testing.T) {
	for _, err := range []*APIError{ErrEmailInUse, ErrUsernameTaken, ErrPhoneInUse, ErrAlreadyFriends, ErrAlreadyPending, ErrAlreadyResolved} {
		assert.Equal(t, http.StatusBadRequest, err.Status, err.Message)
	}
}
