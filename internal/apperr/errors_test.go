package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&TransitionError{Current: "paid", Requested: "rejected"}, "invalid_transition"},
		{Invalid("items", "vide"), "validation_error"},
		{fmt.Errorf("load: %w", ErrConflict), "conflict"},
		{Forbidden("role %s", "customer"), "forbidden"},
		{NotFound("order", "42"), "not_found"},
		{ErrSignatureInvalid, "signature_invalid"},
		{ErrAlreadyProcessed, "already_processed"},
		{ErrChatClosed, "chat_closed"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Kind(tt.err), tt.err.Error())
	}
}

func TestTransitionErrorNamesStates(t *testing.T) {
	var err error = &TransitionError{Current: "paid", Requested: "rejected"}

	var te *TransitionError
	assert.True(t, errors.As(fmt.Errorf("wrap: %w", err), &te))
	assert.Equal(t, "paid", te.Current)
	assert.Contains(t, err.Error(), "paid")
	assert.Contains(t, err.Error(), "rejected")
}
