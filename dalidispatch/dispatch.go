package dalidispatch

import (
	"encoding/json"
	"fmt"

	"github.com/yuvalrakavy/dalid/daliconfig"
	"github.com/yuvalrakavy/dalid/dalibus"
	"github.com/yuvalrakavy/dalid/dalimgr"
	"github.com/yuvalrakavy/dalid/dlog"
)

// Publisher is the subset of dalibroker.Broker the dispatcher drives.
// It is an interface so tests can substitute an in-memory recorder.
type Publisher interface {
	PublishConfig(payload []byte) error
	PublishStatus(payload []byte) error
	PublishReply(bus int, address uint8, payload []byte) error
}

// Dispatcher binds the command topic to the DALI manager, per spec.md
// §4.5: it is the sole mutator of the configuration model (spec.md §5,
// "Configuration as single-writer state") and decides after each
// command whether to persist and republish it.
type Dispatcher struct {
	Controller *daliconfig.Controller
	Manager    *dalimgr.Manager
	Publisher  Publisher
	ConfigPath string
	log        dlog.Logger
}

// New returns a Dispatcher driving manager against controller, saving
// to configPath on every model-mutating command.
func New(controller *daliconfig.Controller, manager *dalimgr.Manager, publisher Publisher, configPath string, log dlog.Logger) *Dispatcher {
	return &Dispatcher{Controller: controller, Manager: manager, Publisher: publisher, ConfigPath: configPath, log: log}
}

// logError logs at error level if a logger was supplied; New is commonly
// called with a nil logger in tests, so every call site must tolerate that
// rather than require one.
func (d *Dispatcher) logError(msg string, keyvals ...any) {
	if d.log != nil {
		d.log.Error(msg, keyvals...)
	}
}

// precheckExempt lists the commands that skip the bus-Active precheck
// in addition to the three spec.md §4.5 names directly
// (SetLightBrightness, SetGroupBrightness, QueryLightStatus):
//   - RenameBus only touches the in-memory name, never the bus, so a
//     bus with Unknown status must still accept it (spec.md §8 "A bus
//     with Unknown status rejects every mutating command except
//     RenameBus").
//   - UpdateBusStatus issues only a status read, not a mutating write,
//     and its purpose is to record the bus's current status in
//     busCfg.Status, NoPower and Overloaded included; behind the
//     precheck it would fail on exactly those buses, so busCfg.Status
//     could never record them.
func precheckExempt(cmd Command) bool {
	switch cmd {
	case SetLightBrightness, SetGroupBrightness, QueryLightStatus, RenameBus, UpdateBusStatus:
		return true
	default:
		return false
	}
}

func statusError(status dalibus.Status) error {
	switch status {
	case dalibus.StatusNoPower:
		return &dalimgr.Error{Code: dalimgr.ErrBusHasNoPower, Context: "bus has no power"}
	case dalibus.StatusOverloaded:
		return &dalimgr.Error{Code: dalimgr.ErrBusOverloaded, Context: "bus is overloaded"}
	default:
		return &dalimgr.Error{Code: dalimgr.ErrInvalidBusStatus, Context: fmt.Sprintf("bus status is %s", status)}
	}
}

// Handle decodes one command-topic payload and runs it to completion,
// publishing Reply/Status/Config per spec.md §4.5. Decode failures are
// reported to the status topic and otherwise ignored, matching "Every
// command is parsed; malformed payloads are reported as an error
// string ... and ignored."
func (d *Dispatcher) Handle(payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		d.publishStatusError(fmt.Sprintf("malformed command: %v", err))
		return
	}

	if err := d.dispatch(env); err != nil {
		d.publishStatusError(fmt.Sprintf("%s: %v", env.Command, err))
		return
	}
	d.publishStatusOK()
}

func (d *Dispatcher) dispatch(env Envelope) error {
	busCfg, ok := d.Controller.Bus(env.Bus)
	if !ok {
		return &dalimgr.Error{Code: dalimgr.ErrBusNumber, Context: fmt.Sprintf("bus %d out of range", env.Bus)}
	}

	if !precheckExempt(env.Command) {
		status, err := d.Manager.Transport.QueryBusStatus(env.Bus)
		if err != nil {
			return &dalimgr.Error{Code: dalimgr.ErrTransport, Context: "query bus status", Err: err}
		}
		if status != dalibus.StatusActive {
			return statusError(status)
		}
	}

	republish, err := d.apply(env, busCfg)
	if err != nil {
		return err
	}
	if republish {
		return d.persistAndPublish()
	}
	return nil
}

// apply executes env against busCfg, returning whether the persisted
// model changed and must be republished (spec.md §4.5 "Reply policy").
func (d *Dispatcher) apply(env Envelope, busCfg *daliconfig.Bus) (bool, error) {
	bus := busCfg.BusNumber

	switch env.Command {
	case SetLightBrightness:
		return false, d.Manager.SetLightBrightness(bus, env.Address, env.Value)

	case SetGroupBrightness:
		return false, d.Manager.SetGroupBrightness(bus, env.Group, env.Value)

	case UpdateBusStatus:
		status, err := d.Manager.Transport.QueryBusStatus(bus)
		if err != nil {
			return false, &dalimgr.Error{Code: dalimgr.ErrTransport, Context: "update bus status", Err: err}
		}
		busCfg.Status = status
		return false, nil

	case RenameBus:
		busCfg.Description = env.Name
		return true, nil

	case RenameLight:
		ch, ok := busCfg.Channel(env.Address)
		if !ok {
			return false, &dalimgr.Error{Code: dalimgr.ErrShortAddress, Context: fmt.Sprintf("no channel at address %d", env.Address)}
		}
		ch.Description = env.Name
		return true, nil

	case RenameGroup:
		g, ok := busCfg.Group(env.Group)
		if !ok {
			return false, &dalimgr.Error{Code: dalimgr.ErrNoSuchGroup, Context: fmt.Sprintf("no group %d", env.Group)}
		}
		g.Description = env.Name
		return true, nil

	case NewGroup:
		addr := nextGroupAddress(busCfg)
		if addr >= 16 {
			return false, &dalimgr.Error{Code: dalimgr.ErrNoMoreGroups, Context: "all 16 group addresses are in use"}
		}
		busCfg.EnsureGroup(addr)
		return true, nil

	case AddToGroup:
		if err := d.Manager.AddToGroupAndVerify(bus, env.Group, env.Address); err != nil {
			return false, err
		}
		busCfg.AddMember(env.Group, env.Address)
		return true, nil

	case RemoveFromGroup:
		if err := d.Manager.RemoveFromGroupAndVerify(bus, env.Group, env.Address); err != nil {
			return false, err
		}
		busCfg.RemoveMember(env.Group, env.Address)
		return true, nil

	case MatchGroup:
		if err := d.Manager.MatchGroup(busCfg, env.Group, env.Pattern, nil); err != nil {
			return false, err
		}
		return true, nil

	case RemoveGroup:
		g, ok := busCfg.Group(env.Group)
		if !ok {
			return false, &dalimgr.Error{Code: dalimgr.ErrNoSuchGroup, Context: fmt.Sprintf("no group %d", env.Group)}
		}
		for _, member := range append([]uint8(nil), g.Members...) {
			if err := d.Manager.RemoveFromGroupAndVerify(bus, env.Group, member); err != nil {
				return false, err
			}
		}
		busCfg.RemoveGroup(env.Group)
		return true, nil

	case FindAllLights:
		if err := d.Manager.FindAllLights(busCfg, nil); err != nil {
			return false, err
		}
		return true, nil

	case FindNewLights:
		if err := d.Manager.FindNewLights(busCfg, nil); err != nil {
			return false, err
		}
		return true, nil

	case QueryLightStatus:
		d.publishLightStatus(busCfg, env.Address)
		return false, nil

	case RemoveShortAddress:
		if err := d.Manager.RemoveShortAddress(busCfg, env.Address); err != nil {
			return false, err
		}
		return true, nil

	case SetLightFadeTime:
		return false, d.Manager.SetLightFadeTime(bus, env.Address, env.FadeTime)

	case SetGroupFadeTime:
		return false, d.Manager.SetGroupFadeTime(bus, env.Group, env.FadeTime)

	default:
		return false, &dalimgr.Error{Code: dalimgr.ErrInvalidCommand, Context: fmt.Sprintf("unknown command %q", env.Command)}
	}
}

func nextGroupAddress(busCfg *daliconfig.Bus) uint8 {
	for g := uint8(0); g < 16; g++ {
		if _, ok := busCfg.Group(g); !ok {
			return g
		}
	}
	return 16
}

// publishLightStatus runs QueryLightStatus and publishes its reply
// envelope regardless of outcome, strictly before the following
// Status publish (spec.md §5 ordering rule).
func (d *Dispatcher) publishLightStatus(busCfg *daliconfig.Bus, address uint8) {
	reply := QueryLightReply{Controller: d.Controller.Name, Bus: busCfg.BusNumber, Address: address}

	status, err := d.Manager.QueryLightStatus(busCfg.BusNumber, address)
	if err != nil {
		reply.Failure = true
		reply.Description = err.Error()
	} else {
		reply.Status = uint8(status)
		reply.Description = status.String()
	}

	payload, marshalErr := json.Marshal(reply)
	if marshalErr != nil {
		d.logError("marshal query-light reply", "err", marshalErr)
		return
	}
	if err := d.Publisher.PublishReply(busCfg.BusNumber, address, payload); err != nil {
		d.logError("publish query-light reply", "err", err)
	}
}

func (d *Dispatcher) persistAndPublish() error {
	if err := d.Controller.Save(d.ConfigPath); err != nil {
		return &dalimgr.Error{Code: dalimgr.ErrTransport, Context: "persist configuration", Err: err}
	}
	payload, err := json.Marshal(d.Controller)
	if err != nil {
		return &dalimgr.Error{Code: dalimgr.ErrTransport, Context: "marshal configuration", Err: err}
	}
	if err := d.Publisher.PublishConfig(payload); err != nil {
		return &dalimgr.Error{Code: dalimgr.ErrTransport, Context: "publish configuration", Err: err}
	}
	return nil
}

func (d *Dispatcher) publishStatusOK() {
	if err := d.Publisher.PublishStatus([]byte(`"OK"`)); err != nil {
		d.logError("publish status", "err", err)
	}
}

func (d *Dispatcher) publishStatusError(message string) {
	payload, err := json.Marshal(message)
	if err != nil {
		d.logError("marshal status error", "err", err)
		return
	}
	if err := d.Publisher.PublishStatus(payload); err != nil {
		d.logError("publish status", "err", err)
	}
}
