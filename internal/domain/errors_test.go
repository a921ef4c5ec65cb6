package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	err := NewError(KindUnavailable, "bitget ticker", context.DeadlineExceeded)
	assert.Equal(t, "bitget ticker: unavailable: context deadline exceeded", err.Error())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	wrapped := fmt.Errorf("read position: %w", Errorf(KindRejected, "submit", "code %d", 40762))
	assert.Equal(t, KindRejected, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindRejected))
	assert.False(t, IsKind(wrapped, KindUnavailable))

	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, "op: invalid", (&Error{Kind: KindInvalid, Op: "op"}).Error())
}
