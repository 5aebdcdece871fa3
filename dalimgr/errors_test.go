package dalimgr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageIncludesCodeContextAndCause(t *testing.T) {
	cause := errors.New("bus timed out")
	err := newError(ErrTransport, "bus 0, address 5: query status", cause)

	assert.Equal(t, "Transport: bus 0, address 5: query status: bus timed out", err.Error())
	assert.True(t, errors.Is(err, cause))
}

func TestErrorMessageWithoutCause(t *testing.T) {
	err := newErrorf(ErrShortAddress, nil, "short address %d out of range", 99)
	assert.Equal(t, "ShortAddress: short address 99 out of range", err.Error())
}

func TestCodeStringCoversEveryCode(t *testing.T) {
	codes := []Code{
		ErrBusNumber, ErrShortAddress, ErrGroupAddress, ErrBusHasNoPower,
		ErrBusOverloaded, ErrInvalidBusStatus, ErrNoMoreGroups, ErrNoSuchGroup,
		ErrGroupAddFailed, ErrGroupRemoveFailed, ErrNoResult, ErrInvalidCommand,
		ErrInvalidFadeTime, ErrUnexpectedStatus, ErrUnexpectedReply,
		ErrUnexpectedBus, ErrMismatchBusCount, ErrRegex, ErrTransport,
	}
	seen := map[string]bool{}
	for _, c := range codes {
		name := c.String()
		assert.NotEqual(t, "Unknown", name)
		assert.False(t, seen[name], "duplicate Code.String() value %q", name)
		seen[name] = true
	}
}
