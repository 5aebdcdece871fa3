// Package daliconfig holds the controller's persisted configuration
// model (C5): a Controller owns Buses, Buses own Channels and Groups.
// It is serialized to and from the JSON document described by
// spec.md §6.4, and is the payload retained on the Config topic.
//
// The model is mutated only by the dispatcher goroutine (spec.md §5,
// "Configuration as single-writer state"); external readers observe
// only published snapshots.
package daliconfig

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/yuvalrakavy/dalid/dalibus"
)

// Channel is one commissioned luminaire (spec.md §3 "Channel").
type Channel struct {
	ShortAddress uint8  `json:"short_address"`
	Description  string `json:"description"`
}

// Group is a DALI group address and its member short addresses
// (spec.md §3 "Group").
type Group struct {
	GroupAddress uint8   `json:"group_address"`
	Description  string  `json:"description"`
	Members      []uint8 `json:"members"`
}

// HasMember reports whether short is a member of g.
func (g *Group) HasMember(short uint8) bool {
	for _, m := range g.Members {
		if m == short {
			return true
		}
	}
	return false
}

func (g *Group) addMember(short uint8) {
	if !g.HasMember(short) {
		g.Members = append(g.Members, short)
	}
}

func (g *Group) removeMember(short uint8) {
	for i, m := range g.Members {
		if m == short {
			g.Members = append(g.Members[:i], g.Members[i+1:]...)
			return
		}
	}
}

// Bus is one DALI bus and the channels/groups commissioned on it
// (spec.md §3 "Bus").
type Bus struct {
	Description string         `json:"description"`
	Status      dalibus.Status `json:"status"`
	BusNumber   int            `json:"bus"`
	Channels    []Channel      `json:"channels"`
	Groups      []Group        `json:"groups"`
}

// NewBus returns an empty bus numbered n with the given initial status.
func NewBus(n int, status dalibus.Status) Bus {
	return Bus{Description: fmt.Sprintf("Bus %d", n), BusNumber: n, Status: status}
}

// Channel returns the channel at short, and whether it exists.
func (b *Bus) Channel(short uint8) (*Channel, bool) {
	for i := range b.Channels {
		if b.Channels[i].ShortAddress == short {
			return &b.Channels[i], true
		}
	}
	return nil, false
}

// AddChannel appends a channel, keeping the unique-short-address
// invariant of spec.md §3 (callers must check Channel first).
func (b *Bus) AddChannel(short uint8, description string) {
	b.Channels = append(b.Channels, Channel{ShortAddress: short, Description: description})
}

// RemoveChannel deletes the channel at short, if present.
func (b *Bus) RemoveChannel(short uint8) {
	for i := range b.Channels {
		if b.Channels[i].ShortAddress == short {
			b.Channels = append(b.Channels[:i], b.Channels[i+1:]...)
			return
		}
	}
}

// Group returns the group at address, and whether it exists.
func (b *Bus) Group(address uint8) (*Group, bool) {
	for i := range b.Groups {
		if b.Groups[i].GroupAddress == address {
			return &b.Groups[i], true
		}
	}
	return nil, false
}

// EnsureGroup returns the group at address, creating it with a default
// description if absent (spec.md §4.4 step 1).
func (b *Bus) EnsureGroup(address uint8) *Group {
	if g, ok := b.Group(address); ok {
		return g
	}
	b.Groups = append(b.Groups, Group{GroupAddress: address, Description: fmt.Sprintf("New-Group %d", address)})
	return &b.Groups[len(b.Groups)-1]
}

// RemoveGroup deletes the group at address, if present.
func (b *Bus) RemoveGroup(address uint8) {
	for i := range b.Groups {
		if b.Groups[i].GroupAddress == address {
			b.Groups = append(b.Groups[:i], b.Groups[i+1:]...)
			return
		}
	}
}

// AddMember records short as a member of the group at address (model
// side only; callers are responsible for the on-device write).
func (b *Bus) AddMember(address uint8, short uint8) {
	b.EnsureGroup(address).addMember(short)
}

// RemoveMember removes short from the group at address (model side
// only).
func (b *Bus) RemoveMember(address uint8, short uint8) {
	if g, ok := b.Group(address); ok {
		g.removeMember(short)
	}
}

// Controller is the top-level persisted document (spec.md §3
// "Controller", §6.4 "Config snapshot").
type Controller struct {
	Name  string `json:"name"`
	Buses []Bus  `json:"buses"`
}

// Bus returns the bus at index n, and whether it is in range.
func (c *Controller) Bus(n int) (*Bus, bool) {
	if n < 0 || n >= len(c.Buses) {
		return nil, false
	}
	return &c.Buses[n], true
}

// Load reads and parses a Controller document from path.
func Load(path string) (*Controller, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("daliconfig: load %s: %w", path, err)
	}
	var c Controller
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("daliconfig: parse %s: %w", path, err)
	}
	return &c, nil
}

// Save serializes c as indented JSON to path.
func (c *Controller) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("daliconfig: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("daliconfig: save %s: %w", path, err)
	}
	return nil
}

// Exists reports whether a configuration document is already present
// at path (spec.md §6.5, first-run detection).
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
