package replay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_MarkSeen(t *testing.T) {
	r := NewMemory()
	ctx := context.Background()

	dup, err := r.MarkSeen(ctx, "VNPAY_123", "SUCCEEDED")
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = r.MarkSeen(ctx, "VNPAY_123", "SUCCEEDED")
	require.NoError(t, err)
	assert.True(t, dup)

	// A different outcome for the same ref is a distinct delivery.
	dup, err = r.MarkSeen(ctx, "VNPAY_123", "FAILED")
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = r.MarkSeen(ctx, "MOMO_55", "SUCCEEDED")
	require.NoError(t, err)
	assert.False(t, dup)
}
