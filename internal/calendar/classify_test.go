package calendar

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/relwatch/relwatch/internal/retry"
)

// timeoutErr satisfies net.Error with Timeout() == true.
type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyError_StatusCodes(t *testing.T) {
	cases := []struct {
		status int
		want   retry.Class
	}{
		{429, retry.ClassRateLimited},
		{408, retry.ClassTransient},
		{500, retry.ClassTransient},
		{502, retry.ClassTransient},
		{503, retry.ClassTransient},
		{400, retry.ClassPermanent},
		{404, retry.ClassPermanent},
		{410, retry.ClassPermanent},
		{422, retry.ClassPermanent},
	}

	for _, tc := range cases {
		got := ClassifyError(&APIError{StatusCode: tc.status})
		assert.Equal(t, tc.want, got.Class, "status %d", tc.status)
	}
}

func TestClassifyError_WrappedAPIError(t *testing.T) {
	err := fmt.Errorf("update event evt_x: %w", &APIError{StatusCode: 410})
	assert.Equal(t, retry.ClassPermanent, ClassifyError(err).Class)
}

func TestClassifyError_RetryAfterPropagates(t *testing.T) {
	got := ClassifyError(&APIError{StatusCode: 429, RetryAfter: 9 * time.Second})
	assert.Equal(t, retry.ClassRateLimited, got.Class)
	assert.Equal(t, 9*time.Second, got.RetryAfter)
}

func TestClassifyError_DeadlineIsAmbiguous(t *testing.T) {
	err := fmt.Errorf("create event: %w", context.DeadlineExceeded)
	assert.Equal(t, retry.ClassAmbiguous, ClassifyError(err).Class)
}

func TestClassifyError_CanceledIsCancellation(t *testing.T) {
	err := fmt.Errorf("create event: %w", context.Canceled)
	assert.Equal(t, retry.ClassCancelled, ClassifyError(err).Class)
}

func TestClassifyError_NetTimeoutIsAmbiguous(t *testing.T) {
	var nerr net.Error = timeoutErr{}
	assert.Equal(t, retry.ClassAmbiguous, ClassifyError(nerr).Class)
}

func TestClassifyError_ConnectionFailureIsTransient(t *testing.T) {
	assert.Equal(t, retry.ClassTransient, ClassifyError(errors.New("dial tcp: connection refused")).Class)
}
