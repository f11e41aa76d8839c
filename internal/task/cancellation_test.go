package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancellationContext_CancelThenOnCancelFiresImmediately(t *testing.T) {
	c := NewCancellationContext()
	assert.False(t, c.Cancelled())

	ok := c.Cancel("because")
	assert.True(t, ok)
	assert.True(t, c.Cancelled())
	assert.Equal(t, "because", c.Reason())

	var got any
	c.OnCancel(func(reason any) { got = reason })
	assert.Equal(t, "because", got)
}

func TestCancellationContext_OnCancelRegisteredBeforeCancel(t *testing.T) {
	c := NewCancellationContext()
	var got any
	c.OnCancel(func(reason any) { got = reason })
	assert.Nil(t, got)

	c.Cancel("now")
	assert.Equal(t, "now", got)
}

func TestCancellationContext_DisableCancellationBlocksCancel(t *testing.T) {
	c := NewCancellationContext()
	guard, ok := c.TryToDisableCancellation()
	require.True(t, ok)
	defer guard.Release()

	assert.False(t, c.Cancel("too late"))
	assert.False(t, c.Cancelled())
}

func TestCancellationContext_CancelBeforeDisableWins(t *testing.T) {
	c := NewCancellationContext()
	assert.True(t, c.Cancel("first"))

	_, ok := c.TryToDisableCancellation()
	assert.False(t, ok)
}

func TestCancellationContext_SecondCancelIsNoOp(t *testing.T) {
	c := NewCancellationContext()
	assert.True(t, c.Cancel("first"))
	assert.False(t, c.Cancel("second"))
	assert.Equal(t, "first", c.Reason())
}
