// Package dalimgr implements the DALI protocol layer (C3): typed
// operations over a dalibus.Transport, with the retry and verification
// policies of spec.md §4.3 and §4.6. It also implements the
// commissioning bus iterator (C4, iterator.go) and the match-group
// reconciliation engine (C7, matchgroup.go).
package dalimgr

import (
	"fmt"
	"time"

	"github.com/yuvalrakavy/dalid/dalibus"
	"github.com/yuvalrakavy/dalid/dalicode"
	"github.com/yuvalrakavy/dalid/daliconfig"
	"github.com/yuvalrakavy/dalid/daliframe"
	"github.com/yuvalrakavy/dalid/dlog"
)

// Retry policy constants (spec.md §4.3, §9 "retry counts ... should be
// configurable in a new implementation").
const (
	GetByteRetries        = 4
	GetByteRetrySpacing   = 100 * time.Millisecond
	BroadcastCollisionCap = 300
	GroupAddRetries       = 8
	GroupAddRetrySpacing  = 200 * time.Millisecond
	GroupRemoveRetries    = 3
	GroupRemoveSpacing    = 200 * time.Millisecond

	initialiseWait = 400 * time.Millisecond
	randomiseWait  = 250 * time.Millisecond
	terminateWait  = 300 * time.Millisecond
)

// Manager is the DALI protocol layer: it validates inputs, builds
// forward frames via daliframe's address helpers, and drives a
// dalibus.Transport with the retry/verification policies of spec.md
// §4.3, grounded on asdu/cproc.go's pattern of small validating
// command-builder functions.
type Manager struct {
	Transport dalibus.Transport
	log       dlog.Logger
}

// New returns a Manager driving transport.
func New(transport dalibus.Transport, log dlog.Logger) *Manager {
	return &Manager{Transport: transport, log: log}
}

// warn logs at warn level if a logger was supplied; New(transport, nil) is
// valid (tests commonly do this), so every call site must tolerate a nil
// logger rather than require one.
func (m *Manager) warn(msg string, keyvals ...any) {
	if m.log != nil {
		m.log.Warn(msg, keyvals...)
	}
}

func validateShortAddress(a uint8) error {
	if a >= 64 {
		return newErrorf(ErrShortAddress, nil, "short address %d out of range [0,63]", a)
	}
	return nil
}

func validateGroupAddress(g uint8) error {
	if g >= 16 {
		return newErrorf(ErrGroupAddress, nil, "group address %d out of range [0,15]", g)
	}
	return nil
}

func validateCommand(cmd dalicode.Code) error {
	if !cmd.IsSpecial() && cmd > 0xff {
		return newErrorf(ErrInvalidCommand, nil, "command code %#x out of range", uint16(cmd))
	}
	return nil
}

func validateFadeTime(ft uint8) error {
	if ft > 15 {
		return newErrorf(ErrInvalidFadeTime, nil, "fade time %d out of range [0,15]", ft)
	}
	return nil
}

// SetLightBrightness sends a fire-and-forget level frame to a short
// address.
func (m *Manager) SetLightBrightness(bus int, short uint8, level uint8) error {
	if err := validateShortAddress(short); err != nil {
		return err
	}
	b1 := daliframe.ToLightShortAddress(short)
	_, err := m.Transport.SendForward(bus, b1, level)
	if err != nil {
		return newErrorf(ErrTransport, err, "bus %d, address %d: set light brightness", bus, short)
	}
	return nil
}

// SetGroupBrightness sends a fire-and-forget level frame to a group.
func (m *Manager) SetGroupBrightness(bus int, group uint8, level uint8) error {
	if err := validateGroupAddress(group); err != nil {
		return err
	}
	b1 := daliframe.ToLightGroupAddress(group)
	_, err := m.Transport.SendForward(bus, b1, level)
	if err != nil {
		return newErrorf(ErrTransport, err, "bus %d, group %d: set group brightness", bus, group)
	}
	return nil
}

// SendCommandToAddress sends a command frame to a short address.
func (m *Manager) SendCommandToAddress(bus int, cmd dalicode.Code, short uint8, repeat bool) (dalibus.Result, error) {
	if err := validateCommand(cmd); err != nil {
		return dalibus.Result{}, err
	}
	if err := validateShortAddress(short); err != nil {
		return dalibus.Result{}, err
	}

	b1 := daliframe.ToCommandShortAddress(short)
	result, err := m.send(bus, b1, cmd.Byte(), repeat)
	if err != nil {
		return dalibus.Result{}, newErrorf(ErrTransport, err, "bus %d, address %d: send command %#x", bus, short, uint16(cmd))
	}
	return result, nil
}

// SendCommandToAddressAndGetByte sends a command to a short address and
// retries up to GetByteRetries times on a non-Value8 reply, spaced
// GetByteRetrySpacing apart.
func (m *Manager) SendCommandToAddressAndGetByte(bus int, cmd dalicode.Code, short uint8) (uint8, error) {
	var last dalibus.Result
	for attempt := 0; attempt <= GetByteRetries; attempt++ {
		result, err := m.SendCommandToAddress(bus, cmd, short, false)
		if err != nil {
			return 0, err
		}
		if result.Kind == dalibus.ResultValue8 {
			return result.Value8, nil
		}
		last = result
		if attempt < GetByteRetries {
			time.Sleep(GetByteRetrySpacing)
		}
	}
	return 0, newErrorf(ErrNoResult, nil, "bus %d, address %d: command %#x: no value after %d attempts (last=%s)",
		bus, short, uint16(cmd), GetByteRetries+1, last)
}

// SendCommandToGroup sends a command frame to a group.
func (m *Manager) SendCommandToGroup(bus int, cmd dalicode.Code, group uint8, repeat bool) (dalibus.Result, error) {
	if err := validateCommand(cmd); err != nil {
		return dalibus.Result{}, err
	}
	if err := validateGroupAddress(group); err != nil {
		return dalibus.Result{}, err
	}

	b1 := daliframe.ToCommandGroupAddress(group)
	result, err := m.send(bus, b1, cmd.Byte(), repeat)
	if err != nil {
		return dalibus.Result{}, newErrorf(ErrTransport, err, "bus %d, group %d: send command %#x", bus, group, uint16(cmd))
	}
	return result, nil
}

func (m *Manager) broadcastFrame(cmd dalicode.Code, parameter byte) (byte, byte) {
	if cmd.IsSpecial() {
		return cmd.Byte(), parameter
	}
	return daliframe.BroadcastCommand, cmd.Byte()
}

// BroadcastCommand sends a broadcast (or special) command, retrying up
// to BroadcastCollisionCap times while the bus reports a collision
// (spec.md §4.3 "tolerates collisions by retrying").
func (m *Manager) BroadcastCommand(bus int, cmd dalicode.Code, parameter byte, repeat bool) (dalibus.Result, error) {
	if err := validateCommand(cmd); err != nil {
		return dalibus.Result{}, err
	}
	b1, b2 := m.broadcastFrame(cmd, parameter)

	var result dalibus.Result
	var err error
	for attempt := 0; attempt < BroadcastCollisionCap; attempt++ {
		result, err = m.send(bus, b1, b2, repeat)
		if err != nil {
			return dalibus.Result{}, newErrorf(ErrTransport, err, "bus %d: broadcast %#x", bus, uint16(cmd))
		}
		if !result.IsCollision() {
			return result, nil
		}
	}
	m.warn("broadcast still colliding, giving up", "bus", bus, "command", uint16(cmd), "attempts", BroadcastCollisionCap)
	return dalibus.Result{}, newErrorf(ErrUnexpectedStatus, nil, "bus %d: broadcast %#x: still colliding after %d attempts",
		bus, uint16(cmd), BroadcastCollisionCap)
}

// BroadcastCommandAllowCollision sends a broadcast command and returns
// immediately, treating a collision as meaningful ("yes, at least one
// device matched") rather than retry-worthy. Used by the commissioning
// COMPARE step (spec.md §4.3).
func (m *Manager) BroadcastCommandAllowCollision(bus int, cmd dalicode.Code, parameter byte, repeat bool) (dalibus.Result, error) {
	if err := validateCommand(cmd); err != nil {
		return dalibus.Result{}, err
	}
	b1, b2 := m.broadcastFrame(cmd, parameter)
	result, err := m.send(bus, b1, b2, repeat)
	if err != nil {
		return dalibus.Result{}, newErrorf(ErrTransport, err, "bus %d: broadcast(allow-collision) %#x", bus, uint16(cmd))
	}
	return result, nil
}

func (m *Manager) send(bus int, b1, b2 byte, repeat bool) (dalibus.Result, error) {
	if repeat {
		return m.Transport.SendForwardRepeat(bus, b1, b2)
	}
	return m.Transport.SendForward(bus, b1, b2)
}

// QueryGroupMembership reads the 16-bit group membership mask of a
// short address (QUERY_GROUPS_0_7 combined with QUERY_GROUPS_8_15).
func (m *Manager) QueryGroupMembership(bus int, short uint8) (uint16, error) {
	lo, err := m.SendCommandToAddressAndGetByte(bus, dalicode.QueryGroups0To7, short)
	if err != nil {
		return 0, err
	}
	hi, err := m.SendCommandToAddressAndGetByte(bus, dalicode.QueryGroups8To15, short)
	if err != nil {
		return 0, err
	}
	return uint16(hi)<<8 | uint16(lo), nil
}

// IsGroupMember reports whether short is a member of group, per the
// on-device mask.
func (m *Manager) IsGroupMember(bus int, short uint8, group uint8) (bool, error) {
	if err := validateGroupAddress(group); err != nil {
		return false, err
	}
	mask, err := m.QueryGroupMembership(bus, short)
	if err != nil {
		return false, err
	}
	return mask&(1<<group) != 0, nil
}

// AddToGroup issues a single send-twice ADD_TO_GROUPn command.
func (m *Manager) AddToGroup(bus int, group uint8, short uint8) error {
	_, err := m.SendCommandToAddress(bus, dalicode.AddToGroup0+dalicode.Code(group), short, true)
	return err
}

// RemoveFromGroup issues a single send-twice REMOVE_FROM_GROUPn command.
func (m *Manager) RemoveFromGroup(bus int, group uint8, short uint8) error {
	_, err := m.SendCommandToAddress(bus, dalicode.RemoveFromGroup0+dalicode.Code(group), short, true)
	return err
}

// AddToGroupAndVerify adds short to group, retrying up to
// GroupAddRetries times (spacing GroupAddRetrySpacing) until a
// membership-mask readback confirms the change.
func (m *Manager) AddToGroupAndVerify(bus int, group uint8, short uint8) error {
	for attempt := 0; attempt <= GroupAddRetries; attempt++ {
		if err := m.AddToGroup(bus, group, short); err != nil {
			return err
		}
		member, err := m.IsGroupMember(bus, short, group)
		if err != nil {
			return err
		}
		if member {
			return nil
		}
		if attempt < GroupAddRetries {
			time.Sleep(GroupAddRetrySpacing)
		}
	}
	m.warn("group membership add not confirmed, giving up", "bus", bus, "address", short, "group", group, "attempts", GroupAddRetries+1)
	return newErrorf(ErrGroupAddFailed, nil, "bus %d, address %d: group %d: not confirmed after %d attempts",
		bus, short, group, GroupAddRetries+1)
}

// RemoveFromGroupAndVerify removes short from group, retrying up to
// GroupRemoveRetries times until a membership-mask readback confirms
// the change.
func (m *Manager) RemoveFromGroupAndVerify(bus int, group uint8, short uint8) error {
	for attempt := 0; attempt <= GroupRemoveRetries; attempt++ {
		if err := m.RemoveFromGroup(bus, group, short); err != nil {
			return err
		}
		member, err := m.IsGroupMember(bus, short, group)
		if err != nil {
			return err
		}
		if !member {
			return nil
		}
		if attempt < GroupRemoveRetries {
			time.Sleep(GroupRemoveSpacing)
		}
	}
	m.warn("group membership remove not confirmed, giving up", "bus", bus, "address", short, "group", group, "attempts", GroupRemoveRetries+1)
	return newErrorf(ErrGroupRemoveFailed, nil, "bus %d, address %d: group %d: not confirmed after %d attempts",
		bus, short, group, GroupRemoveRetries+1)
}

// SetDTR broadcasts DATA_TRANSFER_REGISTER0 with parameter v.
func (m *Manager) SetDTR(bus int, v byte) error {
	_, err := m.BroadcastCommand(bus, dalicode.DataTransferRegister0, v, false)
	return err
}

// setFadeTime sets DTR0=fadeTime then sends SET_FADE_TIME to addr
// (send-twice); fadeTime=0 additionally disables fading via
// SET_EXTENDED_FADE_TIME to the same address.
func (m *Manager) setFadeTime(bus int, addr byte, fadeTime uint8) error {
	if err := validateFadeTime(fadeTime); err != nil {
		return err
	}
	if err := m.SetDTR(bus, fadeTime); err != nil {
		return err
	}
	if _, err := m.send(bus, addr, dalicode.SetFadeTime.Byte(), true); err != nil {
		return err
	}
	if fadeTime == 0 {
		if err := m.SetDTR(bus, 0); err != nil {
			return err
		}
		if _, err := m.send(bus, addr, dalicode.SetExtendedFade.Byte(), true); err != nil {
			return err
		}
	}
	return nil
}

// SetLightFadeTime sets DTR=fadeTime then SET_FADE_TIME on a short
// address (send-twice); fadeTime=0 additionally disables fading via
// SET_EXTENDED_FADE_TIME (spec.md §4.3).
func (m *Manager) SetLightFadeTime(bus int, short uint8, fadeTime uint8) error {
	if err := validateShortAddress(short); err != nil {
		return err
	}
	return m.setFadeTime(bus, daliframe.ToCommandShortAddress(short), fadeTime)
}

// SetGroupFadeTime sets DTR=fadeTime then SET_FADE_TIME on a group
// (send-twice); fadeTime=0 additionally disables fading.
func (m *Manager) SetGroupFadeTime(bus int, group uint8, fadeTime uint8) error {
	if err := validateGroupAddress(group); err != nil {
		return err
	}
	return m.setFadeTime(bus, daliframe.ToCommandGroupAddress(group), fadeTime)
}

// ProgramShortAddress broadcasts PROGRAM_SHORT_ADDRESS to the currently
// selected device, then loops WITHDRAW until no device answers
// (spec.md §4.3).
func (m *Manager) ProgramShortAddress(bus int, short uint8) error {
	if err := validateShortAddress(short); err != nil {
		return err
	}
	if _, err := m.BroadcastCommand(bus, dalicode.ProgramShortAddress, (short<<1)|1, false); err != nil {
		return err
	}
	for {
		result, err := m.BroadcastCommand(bus, dalicode.Withdraw, 0, false)
		if err != nil {
			return err
		}
		if result.Kind == dalibus.ResultNone {
			return nil
		}
	}
}

// ChangeShortAddress reassigns a device from old to new: DTR0=new, then
// SET_SHORT_ADDRESS addressed to old (send-twice). On success, the
// channel at old is removed from busCfg; if new != 0xff a channel is
// inserted at new preserving old's description (spec.md §4.3).
func (m *Manager) ChangeShortAddress(busCfg *daliconfig.Bus, old, new uint8) error {
	bus := busCfg.BusNumber
	if err := validateShortAddress(old); err != nil {
		return err
	}
	if new != 0xff {
		if err := validateShortAddress(new); err != nil {
			return err
		}
	}
	if err := m.SetDTR(bus, new); err != nil {
		return err
	}

	addr := daliframe.ToCommandShortAddress(old)
	if _, err := m.send(bus, addr, dalicode.SetShortAddress.Byte(), true); err != nil {
		return newErrorf(ErrTransport, err, "bus %d, address %d: change short address to %d", bus, old, new)
	}

	description := ""
	if ch, ok := busCfg.Channel(old); ok {
		description = ch.Description
	}
	busCfg.RemoveChannel(old)
	if new != 0xff {
		busCfg.AddChannel(new, description)
	}
	return nil
}

// RemoveShortAddress removes a device's short address entirely: its
// current group membership is read back and removed both on-device and
// in the configuration, then its short address is cleared
// (ChangeShortAddress(a, 0xff)) (spec.md §4.3).
func (m *Manager) RemoveShortAddress(busCfg *daliconfig.Bus, short uint8) error {
	bus := busCfg.BusNumber
	mask, err := m.QueryGroupMembership(bus, short)
	if err != nil {
		return err
	}
	for g := uint8(0); g < 16; g++ {
		if mask&(1<<g) == 0 {
			continue
		}
		if err := m.RemoveFromGroup(bus, g, short); err != nil {
			return err
		}
		busCfg.RemoveMember(g, short)
	}
	return m.ChangeShortAddress(busCfg, short, 0xff)
}

// LightStatus is the device-reported status byte of spec.md §3; each of
// its eight bits is one flag.
type LightStatus byte

const (
	lightStatusNotOK               byte = 1 << 0
	lightStatusLampFailure         byte = 1 << 1
	lightStatusLampOn              byte = 1 << 2
	lightStatusLimitError          byte = 1 << 3
	lightStatusFadeInProgress      byte = 1 << 4
	lightStatusResetState          byte = 1 << 5
	lightStatusMissingShortAddress byte = 1 << 6
	lightStatusPowerFailure        byte = 1 << 7
)

// String renders the status as "0xHH: <flag-names>" per spec.md §6.3.
func (s LightStatus) String() string {
	names := []struct {
		bit  byte
		name string
	}{
		{lightStatusNotOK, "Not-OK"},
		{lightStatusLampFailure, "Lamp-Failure"},
		{lightStatusLampOn, "Lamp-ON"},
		{lightStatusLimitError, "Limit-error"},
		{lightStatusFadeInProgress, "Fade-In-Progress"},
		{lightStatusResetState, "Reset-state"},
		{lightStatusMissingShortAddress, "Missing-short-address"},
		{lightStatusPowerFailure, "Power-Failure"},
	}
	desc := ""
	for _, n := range names {
		if byte(s)&n.bit != 0 {
			desc += " " + n.name
		}
	}
	return fmt.Sprintf("%#04x: %s", byte(s), desc)
}

// QueryLightStatus sends QUERY_STATUS and maps the reply byte to flags.
func (m *Manager) QueryLightStatus(bus int, short uint8) (LightStatus, error) {
	v, err := m.SendCommandToAddressAndGetByte(bus, dalicode.QueryStatus, short)
	if err != nil {
		return 0, err
	}
	return LightStatus(v), nil
}
