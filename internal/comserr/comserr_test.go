package comserr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrapped(t *testing.T) {
	err := New(Timeout, "no response within %dms", 100)
	assert.Equal(t, Timeout, KindOf(err))
	assert.True(t, Is(err, Timeout))
	assert.False(t, Is(err, CRCError))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(Timeout, "x")))
	assert.True(t, Retryable(New(CRCError, "x")))
	assert.True(t, Retryable(New(Malformed, "x")))
	assert.False(t, Retryable(Exception(4)))
	assert.False(t, Retryable(New(Busy, "x")))
}

func TestExceptionCode(t *testing.T) {
	err := Exception(4)
	assert.Equal(t, ProtocolException, KindOf(err))
	assert.EqualValues(t, 4, err.ExceptionCode)
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, IOError))
}
