package dalicode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSpecial(t *testing.T) {
	assert.True(t, Terminate.IsSpecial())
	assert.True(t, ProgramShortAddress.IsSpecial())
	assert.False(t, QueryStatus.IsSpecial())
	assert.False(t, SetFadeTime.IsSpecial())
}

func TestByteMasksToLow8Bits(t *testing.T) {
	assert.Equal(t, byte(0xa1), Terminate.Byte())
	assert.Equal(t, byte(0x90), QueryStatus.Byte())
}

func TestGroupCommandRunsAreContiguous(t *testing.T) {
	for g := Code(0); g < 16; g++ {
		assert.Equal(t, byte(0x60+g), (AddToGroup0 + g).Byte())
		assert.Equal(t, byte(0x70+g), (RemoveFromGroup0 + g).Byte())
	}
}
