package dalibus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yuvalrakavy/dalid/daliframe"
)

func TestEmulatedBusLevelFrameSetsBrightness(t *testing.T) {
	bus := NewEmulatedBus(1)
	bus.realism = false

	bus.lights[0].shortAddress = 5
	result := bus.Send(daliframe.ToLightShortAddress(5), 200)
	assert.Equal(t, ResultNone, result.Kind)
	assert.Equal(t, byte(200), bus.lights[0].brightness)
}

func TestEmulatedBusQueryStatusReturnsSingleReply(t *testing.T) {
	bus := NewEmulatedBus(1)
	bus.realism = false
	bus.lights[0].shortAddress = 5
	bus.lights[0].brightness = 100

	result := bus.Send(daliframe.ToCommandShortAddress(5), 0x90)
	assert.Equal(t, ResultValue8, result.Kind)
	assert.Equal(t, byte(0x04), result.Value8) // lamp-on flag
}

func TestEmulatedBusBroadcastCollidesWithMultipleAddressedLights(t *testing.T) {
	bus := NewEmulatedBus(2)
	bus.realism = false
	bus.lights[0].shortAddress = 1
	bus.lights[1].shortAddress = 2

	result := bus.Send(daliframe.BroadcastCommand, 0x90)
	assert.Equal(t, ResultReceiveCollision, result.Kind)
}

func TestEmulatedBusNoReplyWhenNobodyAddressed(t *testing.T) {
	bus := NewEmulatedBus(1)
	bus.realism = false
	bus.lights[0].shortAddress = 5

	result := bus.Send(daliframe.ToCommandShortAddress(9), 0x90)
	assert.Equal(t, ResultNone, result.Kind)
}

func TestEmulatedTransportRejectsOutOfRangeBus(t *testing.T) {
	transport := NewEmulatedTransport(NewEmulatedBus(1))
	_, err := transport.SendForward(1, 0, 0)
	assert.Error(t, err)
}

func TestEmulatedTransportQueryBusStatusAlwaysActive(t *testing.T) {
	transport := NewEmulatedTransport(NewEmulatedBus(1))
	status, err := transport.QueryBusStatus(0)
	assert.NoError(t, err)
	assert.Equal(t, StatusActive, status)
}

func TestCommissioningSequenceCompareRepliesWhenWithinSearchWindow(t *testing.T) {
	bus := NewEmulatedBus(1)
	bus.realism = false

	bus.Send(byte(0xA1), 0x00) // TERMINATE
	bus.Send(byte(0xA5), 0xff) // INITIALISE unaddressed
	bus.Send(byte(0xA7), 0x00) // RANDOMISE, picks a random address in [0, 0xfff]

	// A search window covering the whole 24-bit address space always
	// contains the random address the emulator just picked.
	bus.Send(byte(0xB1), 0xff) // SEARCHADDRH
	bus.Send(byte(0xB3), 0xff) // SEARCHADDRM
	bus.Send(byte(0xB5), 0xff) // SEARCHADDRL
	result := bus.Send(byte(0xA9), 0x00)
	assert.Equal(t, ResultValue8, result.Kind)
}
