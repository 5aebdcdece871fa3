// Package dalibus defines the DALI bus transport contract (C1) and its
// two implementations: a hardware adapter speaking to an ATX DALI Pi
// HAT over a serial link, and an in-process emulator with identical
// semantics for testing and development without hardware.
package dalibus

import "fmt"

// Status is the cached, on-demand-refreshed operating status of a bus.
type Status int

const (
	StatusUnknown Status = iota
	StatusActive
	StatusNoPower
	StatusOverloaded
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusNoPower:
		return "NoPower"
	case StatusOverloaded:
		return "Overloaded"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so Status serializes to
// the JSON string names of spec.md §6.4.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "Active":
		*s = StatusActive
	case "NoPower":
		*s = StatusNoPower
	case "Overloaded":
		*s = StatusOverloaded
	default:
		*s = StatusUnknown
	}
	return nil
}

// ResultKind tags the variant carried by a Result.
type ResultKind int

const (
	// ResultNone: no device replied (the common outcome for level
	// frames and fire-and-forget commands).
	ResultNone ResultKind = iota
	// ResultReceiveCollision: more than one device replied.
	ResultReceiveCollision
	// ResultTransmitCollision: the adapter detected a collision while
	// transmitting the frame itself.
	ResultTransmitCollision
	// ResultValue8: a single reply byte.
	ResultValue8
	// ResultValue16: a 16-bit reply.
	ResultValue16
	// ResultValue24: a 24-bit reply (random address compare result).
	ResultValue24
)

// Result is the outcome of one DALI bus transaction. Exactly one field
// is meaningful, selected by Kind; this mirrors the tagged union of
// spec.md §3 ("Bus result").
type Result struct {
	Kind    ResultKind
	Value8  uint8
	Value16 uint16
	Value24 uint32
}

func (r Result) String() string {
	switch r.Kind {
	case ResultNone:
		return "None"
	case ResultReceiveCollision:
		return "ReceiveCollision"
	case ResultTransmitCollision:
		return "TransmitCollision"
	case ResultValue8:
		return fmt.Sprintf("Value8(%#02x)", r.Value8)
	case ResultValue16:
		return fmt.Sprintf("Value16(%#04x)", r.Value16)
	case ResultValue24:
		return fmt.Sprintf("Value24(%#06x)", r.Value24)
	default:
		return "Invalid"
	}
}

// IsCollision reports whether r is either collision variant.
func (r Result) IsCollision() bool {
	return r.Kind == ResultReceiveCollision || r.Kind == ResultTransmitCollision
}

// Transport is the capability set a DALI bus exposes: sending forward
// frames once or twice (companion standard 102 requires certain
// commands be sent twice within 100ms to take effect), and querying the
// bus status.
type Transport interface {
	// SendForward sends one DALI forward frame (b1, b2) on bus and
	// returns the classified reply.
	SendForward(bus int, b1, b2 byte) (Result, error)

	// SendForwardRepeat sends the same forward frame twice, as DALI
	// configuration commands require.
	SendForwardRepeat(bus int, b1, b2 byte) (Result, error)

	// QueryBusStatus returns the operating status of bus.
	QueryBusStatus(bus int) (Status, error)

	// BusCount returns the number of buses this transport serves.
	BusCount() int
}
