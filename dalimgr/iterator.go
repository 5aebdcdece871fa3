package dalimgr

import (
	"time"

	"github.com/yuvalrakavy/dalid/dalibus"
	"github.com/yuvalrakavy/dalid/dalicode"
)

// initialise parameter encodings for NewBusIterator (companion standard
// 102, INITIALISE command): target every device, or only devices
// without a short address.
const (
	initialiseAll         byte = 0x00
	initialiseUnaddressed byte = 0xff
)

// BusIterator is a resumable cursor over the binary-search random-
// address commissioning algorithm of spec.md §4.3. It is not a
// coroutine: each step needs mutable access to the Manager, so the
// caller drives it by repeatedly calling FindNextDevice.
type BusIterator struct {
	mgr  *Manager
	bus  int
	next uint8

	havePrev            bool
	prevH, prevM, prevL byte
}

// Progress reports a commissioning step: the iterator's next short
// address (see FindNextDevice) and the binary-search depth in [0,23]. It is called
// synchronously and must not retain step's arguments past the call.
type Progress func(shortAddress uint8, step int)

func newBusIterator(mgr *Manager, bus int, startShort uint8, initialiseParam byte) (*BusIterator, error) {
	if _, err := mgr.BroadcastCommand(bus, dalicode.Terminate, 0, true); err != nil {
		return nil, err
	}
	time.Sleep(terminateWait)

	if _, err := mgr.BroadcastCommand(bus, dalicode.Initialise, initialiseParam, false); err != nil {
		return nil, err
	}
	time.Sleep(initialiseWait)

	if _, err := mgr.BroadcastCommand(bus, dalicode.Randomise, 0, false); err != nil {
		return nil, err
	}
	time.Sleep(randomiseWait)

	return &BusIterator{mgr: mgr, bus: bus, next: startShort}, nil
}

// NewBusIterator starts commissioning against every device on the bus.
func NewBusIterator(mgr *Manager, bus int, startShort uint8) (*BusIterator, error) {
	return newBusIterator(mgr, bus, startShort, initialiseAll)
}

// NewBusIteratorUnaddressed starts commissioning against only devices
// that currently lack a short address (FindNewLights).
func NewBusIteratorUnaddressed(mgr *Manager, bus int, startShort uint8) (*BusIterator, error) {
	return newBusIterator(mgr, bus, startShort, initialiseUnaddressed)
}

// Terminate ends commissioning early, releasing every device's
// initialise/compare-enabled state.
func (it *BusIterator) Terminate() error {
	_, err := it.mgr.BroadcastCommand(it.bus, dalicode.Terminate, 0, false)
	return err
}

func (it *BusIterator) sendSearchBytes(addr uint32) error {
	h := byte(addr >> 16)
	m := byte(addr >> 8)
	l := byte(addr)

	if !it.havePrev || h != it.prevH {
		if _, err := it.mgr.BroadcastCommand(it.bus, dalicode.SearchAddrH, h, false); err != nil {
			return err
		}
		it.prevH = h
	}
	if !it.havePrev || m != it.prevM {
		if _, err := it.mgr.BroadcastCommand(it.bus, dalicode.SearchAddrM, m, false); err != nil {
			return err
		}
		it.prevM = m
	}
	if !it.havePrev || l != it.prevL {
		if _, err := it.mgr.BroadcastCommand(it.bus, dalicode.SearchAddrL, l, false); err != nil {
			return err
		}
		it.prevL = l
	}
	it.havePrev = true
	return nil
}

func (it *BusIterator) compare() (bool, error) {
	result, err := it.mgr.BroadcastCommandAllowCollision(it.bus, dalicode.Compare, 0, false)
	if err != nil {
		return false, err
	}
	if result.Kind != dalibus.ResultNone {
		return true, nil
	}
	// One retry before treating "no reply" as a definite answer
	// (spec.md §4.3): a single missed collision window should not
	// mis-steer the search.
	result, err = it.mgr.BroadcastCommandAllowCollision(it.bus, dalicode.Compare, 0, false)
	if err != nil {
		return false, err
	}
	return result.Kind != dalibus.ResultNone, nil
}

// FindNextDevice runs one binary search to completion and either yields
// the iterator's next short address (found=true) or reports
// end-of-sequence (found=false, err=nil). The yielded addresses count up
// from the constructor's startShort; the iterator does not check them
// against the configuration. progress may be nil.
func (it *BusIterator) FindNextDevice(progress Progress) (short uint8, found bool, err error) {
	searchAddress := uint32(0x800000)
	delta := uint32(0x400000)

	for step := 0; delta > 0; step++ {
		if err := it.sendSearchBytes(searchAddress); err != nil {
			return 0, false, err
		}
		matched, err := it.compare()
		if err != nil {
			return 0, false, err
		}
		if matched {
			searchAddress -= delta
		} else {
			searchAddress += delta
		}
		delta >>= 1
		if progress != nil {
			progress(it.next, step)
		}
	}

	if err := it.sendSearchBytes(searchAddress); err != nil {
		return 0, false, err
	}
	matched, err := it.compare()
	if err != nil {
		return 0, false, err
	}
	if !matched {
		searchAddress++
		if err := it.sendSearchBytes(searchAddress); err != nil {
			return 0, false, err
		}
	}

	if searchAddress > 0xffffff {
		if err := it.Terminate(); err != nil {
			return 0, false, err
		}
		return 0, false, nil
	}

	short = it.next
	it.next++
	return short, true, nil
}
