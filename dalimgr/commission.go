package dalimgr

import (
	"fmt"

	"github.com/yuvalrakavy/dalid/daliconfig"
)

// nextUnusedShort returns the lowest short address in [0,63] not already
// held by a channel on busCfg.
func nextUnusedShort(busCfg *daliconfig.Bus) uint8 {
	for short := uint8(0); short < 64; short++ {
		if _, ok := busCfg.Channel(short); !ok {
			return short
		}
	}
	return 64
}

func (m *Manager) commission(busCfg *daliconfig.Bus, it *BusIterator, progress Progress) error {
	bus := busCfg.BusNumber
	for {
		short, found, err := it.FindNextDevice(progress)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		if _, taken := busCfg.Channel(short); taken {
			short = nextUnusedShort(busCfg)
		}
		if err := m.ProgramShortAddress(bus, short); err != nil {
			return err
		}
		busCfg.AddChannel(short, fmt.Sprintf("Light %d", short))
	}
}

// FindAllLights rebroadcasts commissioning against every device on the
// bus, discarding the current channel list and re-numbering from short
// address 0 (spec.md §3 "Channel ... destroyed ... by rebroadcast
// commissioning").
func (m *Manager) FindAllLights(busCfg *daliconfig.Bus, progress Progress) error {
	busCfg.Channels = nil
	it, err := NewBusIterator(m, busCfg.BusNumber, 0)
	if err != nil {
		return err
	}
	return m.commission(busCfg, it, progress)
}

// FindNewLights commissions only devices that currently lack a short
// address, assigning addresses starting at the lowest free slot and
// leaving existing channels untouched.
func (m *Manager) FindNewLights(busCfg *daliconfig.Bus, progress Progress) error {
	start := nextUnusedShort(busCfg)
	it, err := NewBusIteratorUnaddressed(m, busCfg.BusNumber, start)
	if err != nil {
		return err
	}
	return m.commission(busCfg, it, progress)
}
