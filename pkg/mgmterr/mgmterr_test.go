package mgmterr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_NilErrorReturnsNil(t *testing.T) {
	assert.Nil(t, New(NotFound, nil))
}

func TestKindOf_RoundTrips(t *testing.T) {
	err := New(Conflict, errors.New("alias in use"))
	assert.Equal(t, Conflict, KindOf(err))
	assert.True(t, Is(err, Conflict))
	assert.False(t, Is(err, Invalid))
}

func TestKindOf_UnclassifiedErrorIsInternal(t *testing.T) {
	assert.Equal(t, Internal, KindOf(errors.New("boom")))
}

func TestError_UnwrapsToCause(t *testing.T) {
	cause := errors.New("target already grouped")
	err := New(Conflict, cause)
	assert.ErrorIs(t, err, cause)
}

func TestNewf_FormatsMessage(t *testing.T) {
	err := Newf(Invalid, "num_id %d out of range", 70000)
	assert.Contains(t, err.Error(), "70000")
	assert.Equal(t, Invalid, KindOf(err))
}

func TestKindOf_WrappedThroughFmtErrorf(t *testing.T) {
	inner := New(Auth, errors.New("bad secret"))
	wrapped := fmt.Errorf("authenticate channel: %w", inner)
	assert.Equal(t, Auth, KindOf(wrapped))
}
