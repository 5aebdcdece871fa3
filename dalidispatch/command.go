// Package dalidispatch implements the command dispatcher (C6): it
// decodes inbound JSON command envelopes, sequences the corresponding
// calls against the DALI manager/bus iterator/match-group engine,
// enforces the bus-health precondition, and decides what to publish.
package dalidispatch

import (
	"encoding/json"
	"fmt"
)

// Command names the discriminator values of the "command" field
// (spec.md §6.2).
type Command string

const (
	SetLightBrightness Command = "SetLightBrightness"
	SetGroupBrightness Command = "SetGroupBrightness"
	UpdateBusStatus    Command = "UpdateBusStatus"
	RenameBus          Command = "RenameBus"
	RenameLight        Command = "RenameLight"
	RenameGroup        Command = "RenameGroup"
	NewGroup           Command = "NewGroup"
	AddToGroup         Command = "AddToGroup"
	MatchGroup         Command = "MatchGroup"
	RemoveGroup        Command = "RemoveGroup"
	RemoveFromGroup    Command = "RemoveFromGroup"
	FindAllLights      Command = "FindAllLights"
	FindNewLights      Command = "FindNewLights"
	QueryLightStatus   Command = "QueryLightStatus"
	RemoveShortAddress Command = "RemoveShortAddress"
	SetLightFadeTime   Command = "SetLightFadeTime"
	SetGroupFadeTime   Command = "SetGroupFadeTime"
)

// Envelope is the decoded form of one inbound command (spec.md §6.2).
// The JSON shape is internally tagged on "command": the same object
// carries both the discriminator and the command's own fields, which
// encoding/json cannot unmarshal into a single Go type directly, so
// UnmarshalJSON pre-reads the tag before decoding the rest.
type Envelope struct {
	Command  Command `json:"command"`
	Bus      int     `json:"bus"`
	Address  uint8   `json:"address"`
	Group    uint8   `json:"group"`
	Value    uint8   `json:"value"`
	FadeTime uint8   `json:"fade_time"`
	Name     string  `json:"name"`
	Pattern  string  `json:"pattern"`
}

type envelopeWire struct {
	Command  Command `json:"command"`
	Bus      int     `json:"bus"`
	Address  uint8   `json:"address"`
	Group    uint8   `json:"group"`
	Value    uint8   `json:"value"`
	FadeTime uint8   `json:"fade_time"`
	Name     string  `json:"name"`
	Pattern  string  `json:"pattern"`
}

// UnmarshalJSON implements the internally-tagged union described by
// spec.md §6.2 / §9 ("an implementer must either pre-read [the tag] or
// use a codec that supports internally-tagged unions"): every field
// used by any command variant is decoded into one struct, and fields
// a command leaves out simply keep their zero value.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w envelopeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("dalidispatch: decode command envelope: %w", err)
	}
	if w.Command == "" {
		return fmt.Errorf("dalidispatch: command envelope missing %q field", "command")
	}
	*e = Envelope{
		Command:  w.Command,
		Bus:      w.Bus,
		Address:  w.Address,
		Group:    w.Group,
		Value:    w.Value,
		FadeTime: w.FadeTime,
		Name:     w.Name,
		Pattern:  w.Pattern,
	}
	return nil
}

// QueryLightReply is the per-light reply envelope of spec.md §6.3.
type QueryLightReply struct {
	Controller  string `json:"controller"`
	Bus         int    `json:"bus"`
	Address     uint8  `json:"address"`
	Failure     bool   `json:"failure"`
	Status      uint8  `json:"status"`
	Description string `json:"description"`
}
