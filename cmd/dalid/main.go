// Command dalid is the DALI wired-lighting bus controller daemon: it
// bridges an MQTT command topic to a DALI bus transport, maintaining a
// persisted configuration of buses, lights, and groups.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/yuvalrakavy/dalid/dalibroker"
	"github.com/yuvalrakavy/dalid/dalibus"
	"github.com/yuvalrakavy/dalid/daliconfig"
	"github.com/yuvalrakavy/dalid/dalidispatch"
	"github.com/yuvalrakavy/dalid/dalimgr"
	"github.com/yuvalrakavy/dalid/dlog"
)

func main() {
	emulation := pflag.Bool("emulation", false, "Use an in-process DALI bus emulator instead of the serial hardware adapter")
	setup := pflag.Bool("setup", false, "Load (or create) the configuration and exit; dalid has no interactive setup editor")
	configPath := pflag.String("config", "dali.json", "Configuration file path")
	device := pflag.String("device", "/dev/serial0", "Serial device for the hardware DALI adapter")
	emulatedLights := pflag.Int("emulated-lights", 3, "Number of ballasts per bus in the emulator (--emulation only)")
	quiet := pflag.Bool("quiet", false, "Disable log output")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <broker-url>\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if pflag.NArg() != 1 {
		pflag.Usage()
		os.Exit(2)
	}
	brokerURL := pflag.Arg(0)

	log := dlog.New("dalid")
	if *quiet {
		log.LogMode(false)
	}

	controller, err := loadOrCreateController(*configPath, log)
	if err != nil {
		log.Error("load configuration", "err", err)
		os.Exit(1)
	}

	if *setup {
		fmt.Fprintln(os.Stderr, "Interactive setup is provided by a separate configuration tool; dalid itself only loads and serves an existing configuration.")
		os.Exit(0)
	}

	transport, err := openTransport(*emulation, *device, *emulatedLights, controller, log)
	if err != nil {
		log.Error("open DALI transport", "err", err)
		os.Exit(1)
	}

	if err := reconcileBusCount(controller, transport); err != nil {
		log.Error("reconcile bus count", "err", err)
		os.Exit(1)
	}

	mgr := dalimgr.New(transport, log)
	version := buildVersion()

	broker, err := dalibroker.Open(brokerURL, controller.Name, version, log)
	if err != nil {
		log.Error("connect to broker", "err", err)
		os.Exit(1)
	}
	defer broker.Close()

	dispatcher := dalidispatch.New(controller, mgr, broker, *configPath, log)

	// mu guards the transport + configuration pair: the broker replays the
	// snapshot from its own goroutine after a reconnect.
	var mu sync.Mutex
	if err := broker.Announce(func() ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		return marshalController(controller)
	}); err != nil {
		log.Error("announce to broker", "err", err)
		os.Exit(1)
	}

	commands := make(chan []byte, 16)
	if err := broker.Subscribe(func(payload []byte) { commands <- payload }); err != nil {
		log.Error("subscribe to command topic", "err", err)
		os.Exit(1)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	log.Info("dalid running", "controller", controller.Name, "broker", brokerURL, "buses", transport.BusCount())

	for {
		select {
		case payload := <-commands:
			mu.Lock()
			dispatcher.Handle(payload)
			mu.Unlock()
		case sig := <-signals:
			log.Info("shutting down", "signal", sig)
			return
		}
	}
}

// loadOrCreateController loads the persisted configuration, or on
// first run prompts interactively for a controller name and persists a
// skeleton document (spec.md §6.5).
func loadOrCreateController(path string, log dlog.Logger) (*daliconfig.Controller, error) {
	if daliconfig.Exists(path) {
		return daliconfig.Load(path)
	}

	fmt.Fprintf(os.Stderr, "No configuration found at %s.\n", path)
	fmt.Fprint(os.Stderr, "Controller name: ")
	reader := bufio.NewReader(os.Stdin)
	name, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read controller name: %w", err)
	}
	name = trimNewline(name)

	controller := &daliconfig.Controller{Name: name}
	if err := controller.Save(path); err != nil {
		return nil, fmt.Errorf("save new configuration: %w", err)
	}
	log.Info("created new configuration", "path", path, "controller", name)
	return controller, nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func openTransport(emulation bool, device string, emulatedLights int, controller *daliconfig.Controller, log dlog.Logger) (dalibus.Transport, error) {
	if emulation {
		busCount := len(controller.Buses)
		if busCount == 0 {
			busCount = 1
		}
		buses := make([]*dalibus.EmulatedBus, busCount)
		for i := range buses {
			if i < len(controller.Buses) && len(controller.Buses[i].Channels) > 0 {
				buses[i] = resumeEmulatedBus(&controller.Buses[i])
			} else {
				buses[i] = dalibus.NewEmulatedBus(emulatedLights)
			}
		}
		return dalibus.NewEmulatedTransport(buses...), nil
	}
	return dalibus.Open(device, len(controller.Buses), log)
}

// resumeEmulatedBus rebuilds an emulated bus's ballast bank from a
// persisted configuration, so restarting under --emulation does not
// forget previously commissioned short addresses and group membership.
func resumeEmulatedBus(bus *daliconfig.Bus) *dalibus.EmulatedBus {
	shortAddresses := make([]uint8, len(bus.Channels))
	groupMasks := make([]uint16, len(bus.Channels))
	for i, ch := range bus.Channels {
		shortAddresses[i] = ch.ShortAddress
		var mask uint16
		for _, g := range bus.Groups {
			if g.HasMember(ch.ShortAddress) {
				mask |= 1 << g.GroupAddress
			}
		}
		groupMasks[i] = mask
	}
	return dalibus.NewEmulatedBusFromAddresses(shortAddresses, groupMasks)
}

// reconcileBusCount populates controller.Buses with empty, Unknown-
// status buses on first run, matching the hardware adapter's bus-count
// bootstrap; a configuration with buses already on file must agree
// with what the transport reports (spec.md §4.2 step 2).
func reconcileBusCount(controller *daliconfig.Controller, transport dalibus.Transport) error {
	if len(controller.Buses) == 0 {
		for i := 0; i < transport.BusCount(); i++ {
			controller.Buses = append(controller.Buses, daliconfig.NewBus(i, dalibus.StatusUnknown))
		}
		return nil
	}
	if len(controller.Buses) != transport.BusCount() {
		return &dalimgr.Error{
			Code:    dalimgr.ErrMismatchBusCount,
			Context: fmt.Sprintf("configuration has %d buses, transport reports %d", len(controller.Buses), transport.BusCount()),
		}
	}
	return nil
}

func marshalController(controller *daliconfig.Controller) ([]byte, error) {
	return json.Marshal(controller)
}

func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dalid (unknown version)"
	}
	version := info.Main.Version
	if version == "" {
		version = "(devel)"
	}
	return fmt.Sprintf("dalid %s", version)
}
