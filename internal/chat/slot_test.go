package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlot_OnRelease(t *testing.T) {
	var s Slot
	var released []string
	s.OnRelease(func(owner string) {
		// the hook may take the slot again
		assert.False(t, s.Busy())
		released = append(released, owner)
	})

	require.True(t, s.TryAcquire("generation"))
	assert.False(t, s.TryAcquire("suggestions"))

	s.Release("suggestions")
	assert.Equal(t, "generation", s.Owner())
	assert.Empty(t, released)

	s.Release("generation")
	assert.Equal(t, []string{"generation"}, released)
	assert.True(t, s.TryAcquire("suggestions"))
}
