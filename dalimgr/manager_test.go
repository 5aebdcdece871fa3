package dalimgr

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yuvalrakavy/dalid/dalibus"
	"github.com/yuvalrakavy/dalid/dalicode"
	"github.com/yuvalrakavy/dalid/daliconfig"
)

func newTestManager(lightCount int) (*Manager, *dalibus.EmulatedBus) {
	bus := dalibus.NewEmulatedBus(lightCount)
	bus.SetRealism(false)
	transport := dalibus.NewEmulatedTransport(bus)
	return New(transport, nil), bus
}

// commissionedBus runs the real FindAllLights commissioning path against
// lightCount freshly un-addressed emulated ballasts and returns both the
// manager and the resulting configuration, so tests exercise the manager's
// addressed/group operations against devices reached the same way
// production code reaches them.
func commissionedBus(t *testing.T, lightCount int) (*Manager, *daliconfig.Bus) {
	t.Helper()
	mgr, _ := newTestManager(lightCount)
	busCfg := daliconfig.NewBus(0, dalibus.StatusActive)
	if err := mgr.FindAllLights(&busCfg, nil); err != nil {
		t.Fatalf("commission: %v", err)
	}
	if len(busCfg.Channels) != lightCount {
		t.Fatalf("commissioned %d lights, want %d", len(busCfg.Channels), lightCount)
	}
	return mgr, &busCfg
}

func TestValidateShortAddressRejectsOutOfRange(t *testing.T) {
	mgr, _ := newTestManager(0)
	err := mgr.SetLightBrightness(0, 64, 100)
	assert.Error(t, err)
	var mgrErr *Error
	assert.ErrorAs(t, err, &mgrErr)
	assert.Equal(t, ErrShortAddress, mgrErr.Code)
}

func TestValidateGroupAddressRejectsOutOfRange(t *testing.T) {
	mgr, _ := newTestManager(0)
	err := mgr.SetGroupBrightness(0, 16, 100)
	assert.Error(t, err)
	var mgrErr *Error
	assert.ErrorAs(t, err, &mgrErr)
	assert.Equal(t, ErrGroupAddress, mgrErr.Code)
}

func TestValidateFadeTimeRejectsOutOfRange(t *testing.T) {
	mgr, _ := newTestManager(0)
	err := mgr.SetLightFadeTime(0, 0, 16)
	assert.Error(t, err)
	var mgrErr *Error
	assert.ErrorAs(t, err, &mgrErr)
	assert.Equal(t, ErrInvalidFadeTime, mgrErr.Code)
}

func TestSendCommandToAddressAndGetByteRetriesThenFails(t *testing.T) {
	mgr, _ := newTestManager(0) // no lights at all: every attempt replies None
	_, err := mgr.SendCommandToAddressAndGetByte(0, dalicode.QueryStatus, 5)
	assert.Error(t, err)
	var mgrErr *Error
	assert.ErrorAs(t, err, &mgrErr)
	assert.Equal(t, ErrNoResult, mgrErr.Code)
}

func TestQueryLightStatusAfterCommissioning(t *testing.T) {
	mgr, busCfg := commissionedBus(t, 1)
	short := busCfg.Channels[0].ShortAddress

	status, err := mgr.QueryLightStatus(0, short)
	assert.NoError(t, err)
	assert.Equal(t, byte(0), byte(status)&lightStatusMissingShortAddress)
}

func TestAddToGroupAndVerifySucceeds(t *testing.T) {
	mgr, busCfg := commissionedBus(t, 1)
	short := busCfg.Channels[0].ShortAddress

	assert.NoError(t, mgr.AddToGroupAndVerify(0, 2, short))

	member, err := mgr.IsGroupMember(0, short, 2)
	assert.NoError(t, err)
	assert.True(t, member)
}

func TestRemoveFromGroupAndVerifySucceeds(t *testing.T) {
	mgr, busCfg := commissionedBus(t, 1)
	short := busCfg.Channels[0].ShortAddress
	assert.NoError(t, mgr.AddToGroupAndVerify(0, 2, short))

	assert.NoError(t, mgr.RemoveFromGroupAndVerify(0, 2, short))

	member, err := mgr.IsGroupMember(0, short, 2)
	assert.NoError(t, err)
	assert.False(t, member)
}

func TestSetLightFadeTimeZeroDisablesFading(t *testing.T) {
	mgr, busCfg := commissionedBus(t, 1)
	short := busCfg.Channels[0].ShortAddress
	assert.NoError(t, mgr.SetLightFadeTime(0, short, 0))
}

func TestChangeShortAddressUpdatesConfig(t *testing.T) {
	mgr, busCfg := commissionedBus(t, 1)
	old := busCfg.Channels[0].ShortAddress

	assert.NoError(t, mgr.ChangeShortAddress(busCfg, old, 40))

	_, ok := busCfg.Channel(old)
	assert.False(t, ok)
	_, ok = busCfg.Channel(40)
	assert.True(t, ok)
}

func TestRemoveShortAddressClearsGroupsAndAddress(t *testing.T) {
	mgr, busCfg := commissionedBus(t, 1)
	short := busCfg.Channels[0].ShortAddress
	assert.NoError(t, mgr.AddToGroupAndVerify(0, 4, short))
	busCfg.AddMember(4, short)

	assert.NoError(t, mgr.RemoveShortAddress(busCfg, short))

	_, ok := busCfg.Channel(short)
	assert.False(t, ok)
}

func TestLightStatusStringListsSetFlags(t *testing.T) {
	s := LightStatus(lightStatusLampOn | lightStatusPowerFailure)
	rendered := s.String()
	assert.Contains(t, rendered, "Lamp-ON")
	assert.Contains(t, rendered, "Power-Failure")
	assert.NotContains(t, rendered, "Limit-error")
}
