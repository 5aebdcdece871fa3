package dalimgr

import (
	"regexp"

	"github.com/yuvalrakavy/dalid/daliconfig"
)

// MatchKind distinguishes the two progress events MatchGroup reports.
type MatchKind int

const (
	AddMember MatchKind = iota
	RemoveMember
)

func (k MatchKind) String() string {
	if k == AddMember {
		return "AddMember"
	}
	return "RemoveMember"
}

// MatchProgress reports one membership change as MatchGroup applies it.
// It is called synchronously and must not retain channelDescription past
// the call.
type MatchProgress func(kind MatchKind, channelDescription string)

// MatchGroup reconciles group's on-device and persisted membership
// against every channel on busCfg whose description matches pattern:
// matching channels not yet members are added and verified, member
// channels that no longer match are removed and verified (spec.md
// §4.4). It stops at the first device-level failure, leaving whatever
// changes already succeeded in place; re-running with the same pattern
// performs no further writes.
func (m *Manager) MatchGroup(busCfg *daliconfig.Bus, group uint8, pattern string, progress MatchProgress) error {
	if err := validateGroupAddress(group); err != nil {
		return err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return newErrorf(ErrRegex, err, "group %d: compile pattern %q", group, pattern)
	}

	g := busCfg.EnsureGroup(group)
	bus := busCfg.BusNumber

	for _, ch := range busCfg.Channels {
		matches := re.MatchString(ch.Description)
		isMember := g.HasMember(ch.ShortAddress)

		switch {
		case matches && !isMember:
			if progress != nil {
				progress(AddMember, ch.Description)
			}
			if err := m.AddToGroupAndVerify(bus, group, ch.ShortAddress); err != nil {
				return err
			}
			busCfg.AddMember(group, ch.ShortAddress)

		case !matches && isMember:
			if progress != nil {
				progress(RemoveMember, ch.Description)
			}
			if err := m.RemoveFromGroupAndVerify(bus, group, ch.ShortAddress); err != nil {
				return err
			}
			busCfg.RemoveMember(group, ch.ShortAddress)
		}
	}
	return nil
}
