package dalibus

import (
	"bufio"
	"fmt"
	"time"

	"github.com/goburrow/serial"

	"github.com/yuvalrakavy/dalid/daliframe"
	"github.com/yuvalrakavy/dalid/dlog"
)

// Companion standard wire parameters for the ATX DALI Pi HAT link.
const (
	hardwareBaudRate    = 19200
	hardwareDataBits    = 8
	hardwareStopBits    = 1
	hardwareParity      = "N"
	drainTimeout        = 10 * time.Millisecond
	replyTimeout        = 100 * time.Millisecond
	versionQueryTimeout = 5 * time.Second
)

// Error is returned for hardware-adapter protocol violations: a bad
// reply letter, a reply from the wrong bus, or a bus count mismatch
// against the persisted configuration.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("dali hardware adapter: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// ErrUnexpectedBus is returned when a reply line's bus digit does not
// match the bus the command was sent to.
type ErrUnexpectedBus struct{ Expected, Actual int }

func (e ErrUnexpectedBus) Error() string {
	return fmt.Sprintf("reply from unexpected bus (expected %d, got %d)", e.Expected, e.Actual)
}

// ErrUnexpectedReply is returned for a reply type letter this core does
// not recognize.
type ErrUnexpectedReply byte

func (e ErrUnexpectedReply) Error() string { return fmt.Sprintf("unexpected reply type %q", byte(e)) }

// ErrUnexpectedBusStatus is returned for a status nibble outside
// {0,1,2}; no documented behavior exists for 3-15 (spec.md §9).
type ErrUnexpectedBusStatus byte

func (e ErrUnexpectedBusStatus) Error() string { return fmt.Sprintf("unexpected bus status nibble %d", byte(e)) }

// ErrMismatchBusCount is returned when the persisted configuration
// names a bus count that disagrees with the hardware's report.
type ErrMismatchBusCount struct{ Configured, Hardware int }

func (e ErrMismatchBusCount) Error() string {
	return fmt.Sprintf("configured for %d buses while hardware reports %d", e.Configured, e.Hardware)
}

// Port is the minimal serial device surface this transport needs; it is
// satisfied by *serial.Port and by fakes used in tests.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// HardwareTransport drives the ATX DALI Pi HAT over a serial link
// (spec.md §4.2, §6.6).
type HardwareTransport struct {
	port            Port
	reader          *bufio.Reader
	busCount        int
	hardwareVersion byte
	firmwareVersion byte
	log             dlog.Logger
}

// Open opens the serial link at device, probes the hardware for its
// version and bus count, and returns a ready HardwareTransport.
// configuredBusCount is the number of buses already present in the
// persisted configuration; 0 means "accept whatever the hardware
// reports" (first run).
func Open(device string, configuredBusCount int, log dlog.Logger) (*HardwareTransport, error) {
	port, err := serial.Open(&serial.Config{
		Address:  device,
		BaudRate: hardwareBaudRate,
		DataBits: hardwareDataBits,
		StopBits: hardwareStopBits,
		Parity:   hardwareParity,
		Timeout:  replyTimeout,
	})
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}

	t := &HardwareTransport{port: port, reader: bufio.NewReader(port), log: log}

	if err := t.drainPending(); err != nil {
		port.Close()
		return nil, &Error{Op: "drain", Err: err}
	}

	if err := t.probeVersion(); err != nil {
		port.Close()
		return nil, &Error{Op: "version", Err: err}
	}

	if configuredBusCount != 0 && configuredBusCount != t.busCount {
		port.Close()
		return nil, &Error{Op: "version", Err: ErrMismatchBusCount{Configured: configuredBusCount, Hardware: t.busCount}}
	}

	log.Info("ATX DALI Pi HAT detected", "hardware_version", t.hardwareVersion, "firmware_version", t.firmwareVersion, "buses", t.busCount)
	return t, nil
}

func (t *HardwareTransport) drainPending() error {
	// Best-effort: read whatever is already buffered with a short
	// timeout, discard it, so a stale reply from a previous session
	// does not get matched to our first real command.
	buf := make([]byte, 256)
	for {
		n, err := t.port.Read(buf)
		if n == 0 || err != nil {
			return nil
		}
	}
}

func (t *HardwareTransport) probeVersion() error {
	if _, err := t.port.Write([]byte("v\n")); err != nil {
		return err
	}

	line, err := t.readLine()
	if err != nil {
		return err
	}
	if len(line) != 7 || line[0] != 'V' {
		return ErrUnexpectedReply(line[0])
	}

	hw, err := daliframe.DecodeHexByte(line[1], line[2])
	if err != nil {
		return err
	}
	fw, err := daliframe.DecodeHexByte(line[3], line[4])
	if err != nil {
		return err
	}
	buses, err := daliframe.DecodeHexByte(line[5], line[6])
	if err != nil {
		return err
	}

	t.hardwareVersion = hw
	t.firmwareVersion = fw
	t.busCount = int(buses)
	return nil
}

func (t *HardwareTransport) readLine() (string, error) {
	line, err := t.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	if len(line) > 0 && line[len(line)-1] == '\n' {
		line = line[:len(line)-1]
	}
	return line, nil
}

// BusCount implements Transport.
func (t *HardwareTransport) BusCount() int { return t.busCount }

func (t *HardwareTransport) sendCommand(bus int, letter byte, b1, b2 byte) error {
	buf := make([]byte, 0, 6)
	if bus != 0 {
		buf = append(buf, '0'+byte(bus))
	}
	buf = append(buf, letter)
	buf = append(buf, []byte(daliframe.EncodeHexByte(b1))...)
	buf = append(buf, []byte(daliframe.EncodeHexByte(b2))...)
	buf = append(buf, '\n')

	_, err := t.port.Write(buf)
	return err
}

func (t *HardwareTransport) sendStatusCommand(bus int) error {
	buf := make([]byte, 0, 3)
	if bus != 0 {
		buf = append(buf, '0'+byte(bus))
	}
	buf = append(buf, 'd', '\n')
	_, err := t.port.Write(buf)
	return err
}

// receiveReply reads one reply line and classifies it, enforcing that
// the reply's bus digit matches expectedBus (spec.md §4.2 step 3).
func (t *HardwareTransport) receiveReply(expectedBus int) (Result, error) {
	line, err := t.readLine()
	if err != nil {
		// Inactivity timeout: synthesize "no reply" for the expected bus.
		return Result{Kind: ResultNone}, nil
	}
	if line == "" {
		return Result{}, ErrUnexpectedReply(0)
	}

	bus := 0
	rest := line
	if line[0] >= '1' && line[0] <= '3' {
		bus = int(line[0] - '0')
		rest = line[1:]
	}
	if bus != expectedBus {
		return Result{}, ErrUnexpectedBus{Expected: expectedBus, Actual: bus}
	}
	if rest == "" {
		return Result{}, ErrUnexpectedReply(0)
	}

	replyType, payload := rest[0], rest[1:]
	switch replyType {
	case 'H':
		v, err := decodeHexWord(payload, 4)
		if err != nil {
			return Result{}, err
		}
		return Result{Kind: ResultValue16, Value16: uint16(v)}, nil
	case 'J', 'D':
		v, err := decodeHexWord(payload, 2)
		if err != nil {
			return Result{}, err
		}
		return Result{Kind: ResultValue8, Value8: uint8(v)}, nil
	case 'L', 'V':
		v, err := decodeHexWord(payload, 6)
		if err != nil {
			return Result{}, err
		}
		return Result{Kind: ResultValue24, Value24: uint32(v)}, nil
	case 'X':
		return Result{Kind: ResultReceiveCollision}, nil
	case 'Z':
		return Result{Kind: ResultTransmitCollision}, nil
	case 'N':
		return Result{Kind: ResultNone}, nil
	default:
		return Result{}, ErrUnexpectedReply(replyType)
	}
}

func decodeHexWord(s string, digits int) (uint32, error) {
	if len(s) < digits {
		return 0, fmt.Errorf("dali hardware adapter: short reply payload %q, want %d digits", s, digits)
	}
	bytes, err := daliframe.DecodeHexString(s[:digits])
	if err != nil {
		return 0, err
	}
	var v uint32
	for _, b := range bytes {
		v = v<<8 | uint32(b)
	}
	return v, nil
}

func (t *HardwareTransport) transact(bus int, letter byte, b1, b2 byte) (Result, error) {
	if err := t.sendCommand(bus, letter, b1, b2); err != nil {
		return Result{}, &Error{Op: "send", Err: err}
	}
	result, err := t.receiveReply(bus)
	if err != nil {
		return Result{}, &Error{Op: "receive", Err: err}
	}
	return result, nil
}

// SendForward implements Transport.
func (t *HardwareTransport) SendForward(bus int, b1, b2 byte) (Result, error) {
	return t.transact(bus, 'h', b1, b2)
}

// SendForwardRepeat implements Transport.
func (t *HardwareTransport) SendForwardRepeat(bus int, b1, b2 byte) (Result, error) {
	return t.transact(bus, 't', b1, b2)
}

// QueryBusStatus implements Transport.
func (t *HardwareTransport) QueryBusStatus(bus int) (Status, error) {
	if err := t.sendStatusCommand(bus); err != nil {
		return StatusUnknown, &Error{Op: "send", Err: err}
	}
	result, err := t.receiveReply(bus)
	if err != nil {
		return StatusUnknown, &Error{Op: "receive", Err: err}
	}
	if result.Kind != ResultValue8 {
		return StatusUnknown, &Error{Op: "status", Err: fmt.Errorf("unexpected bus result %s", result)}
	}

	switch result.Value8 >> 4 {
	case 0:
		return StatusNoPower, nil
	case 1:
		return StatusOverloaded, nil
	case 2:
		return StatusActive, nil
	default:
		return StatusUnknown, &Error{Op: "status", Err: ErrUnexpectedBusStatus(result.Value8 >> 4)}
	}
}

// Close releases the underlying serial port.
func (t *HardwareTransport) Close() error {
	return t.port.Close()
}

var _ Transport = (*HardwareTransport)(nil)
