package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncError_MessageIncludesIdentifiers(t *testing.T) {
	err := &SyncError{
		Code:      ErrCodeBindingConflict,
		Message:   "already bound",
		ReleaseID: "1:episode:5:cr:2026-04-18",
		EventID:   "evt-1",
	}

	assert.Contains(t, err.Error(), "BINDING_CONFLICT")
	assert.Contains(t, err.Error(), "1:episode:5:cr:2026-04-18")
	assert.Contains(t, err.Error(), "evt-1")
}

func TestCodeOf_WrappedAndUnwrapped(t *testing.T) {
	cause := errors.New("boom")
	se := &SyncError{Code: ErrCodeRetryExhausted, Message: "exhausted", ReleaseID: "r", Err: cause}
	wrapped := fmt.Errorf("cycle: %w", se)

	assert.Equal(t, ErrCodeRetryExhausted, CodeOf(wrapped))
	assert.True(t, errors.Is(wrapped, cause))
	assert.Equal(t, SyncErrorCode(""), CodeOf(errors.New("plain")))
}

func TestIsBindingConflict(t *testing.T) {
	assert.True(t, IsBindingConflict(&SyncError{Code: ErrCodeBindingConflict}))
	assert.False(t, IsBindingConflict(&SyncError{Code: ErrCodePermanent}))
	assert.False(t, IsBindingConflict(errors.New("other")))
}
