package publication

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResultCodes(t *testing.T) {
	tests := []struct {
		status    Status
		code      int64
		retryable bool
		err       error
	}{
		{NotConnected, -1, false, nil},
		{BackPressured, -2, true, nil},
		{AdminAction, -3, true, nil},
		{PublicationClosed, -4, false, ErrPublicationClosed},
		{MaxPositionExceeded, -5, false, ErrMaxPositionExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			res := Failure(tt.status)
			assert.False(t, res.OK())
			assert.Equal(t, tt.code, res.Code())
			assert.Equal(t, tt.retryable, res.Status().Retryable())
			assert.Equal(t, tt.err, res.Err())
			assert.Equal(t, tt.status.String(), res.String())
		})
	}
}

func TestResultSuccess(t *testing.T) {
	res := Success(4096)
	assert.True(t, res.OK())
	assert.Equal(t, StatusOK, res.Status())
	assert.Equal(t, int64(4096), res.Position())
	assert.Equal(t, int64(4096), res.Code())
	assert.NoError(t, res.Err())
	assert.Equal(t, "ok(4096)", res.String())
	assert.False(t, res.Status().Retryable())
}
