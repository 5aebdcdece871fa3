package dalimgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchGroupAddsMatchingAndRemovesNonMatching(t *testing.T) {
	mgr, busCfg := commissionedBus(t, 3)
	busCfg.Channels[0].Description = "Kitchen Ceiling"
	busCfg.Channels[1].Description = "Kitchen Counter"
	busCfg.Channels[2].Description = "Hallway"

	kitchen := busCfg.Channels[0].ShortAddress
	counter := busCfg.Channels[1].ShortAddress
	hallway := busCfg.Channels[2].ShortAddress

	var events []MatchKind
	err := mgr.MatchGroup(busCfg, 1, "^Kitchen", func(kind MatchKind, _ string) {
		events = append(events, kind)
	})
	assert.NoError(t, err)
	assert.Len(t, events, 2)

	g, ok := busCfg.Group(1)
	assert.True(t, ok)
	assert.True(t, g.HasMember(kitchen))
	assert.True(t, g.HasMember(counter))
	assert.False(t, g.HasMember(hallway))

	// Re-running the same pattern is a no-op: nothing to add or remove.
	events = nil
	assert.NoError(t, mgr.MatchGroup(busCfg, 1, "^Kitchen", func(kind MatchKind, _ string) {
		events = append(events, kind)
	}))
	assert.Empty(t, events)

	// Renaming the counter light out of the pattern removes it on a
	// later pass.
	busCfg.Channels[1].Description = "Pantry Counter"
	assert.NoError(t, mgr.MatchGroup(busCfg, 1, "^Kitchen", nil))
	g, _ = busCfg.Group(1)
	assert.False(t, g.HasMember(counter))
	assert.True(t, g.HasMember(kitchen))
}

func TestMatchGroupRejectsInvalidPattern(t *testing.T) {
	mgr, busCfg := commissionedBus(t, 1)
	err := mgr.MatchGroup(busCfg, 0, "[", nil)
	assert.Error(t, err)
	var mgrErr *Error
	assert.ErrorAs(t, err, &mgrErr)
	assert.Equal(t, ErrRegex, mgrErr.Code)
}

func TestMatchGroupRejectsInvalidGroupAddress(t *testing.T) {
	mgr, busCfg := commissionedBus(t, 1)
	err := mgr.MatchGroup(busCfg, 16, ".*", nil)
	assert.Error(t, err)
	var mgrErr *Error
	assert.ErrorAs(t, err, &mgrErr)
	assert.Equal(t, ErrGroupAddress, mgrErr.Code)
}
