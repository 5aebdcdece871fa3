// Package dalibroker is the controller's MQTT transport: topic naming,
// last-will/retain policy, and reconnect handling (spec.md §5/§6),
// built on github.com/eclipse/paho.mqtt.golang (named here because it
// is an out-of-pack ecosystem dependency; the pack carries no worked
// MQTT example to ground the wiring against, only go.mod references).
package dalibroker

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/yuvalrakavy/dalid/dlog"
)

const (
	keepAlive      = 5 * time.Second
	reconnectWait  = 10 * time.Second
	connectTimeout = 10 * time.Second
)

// Topics builds the controller's fixed topic names (spec.md §6.1) from
// its controller name.
type Topics struct {
	Name string
}

func (t Topics) Active() string  { return "DALI/Active/" + t.Name }
func (t Topics) Version() string { return "DALI/Version/" + t.Name }
func (t Topics) Config() string  { return "DALI/Config/" + t.Name }
func (t Topics) Status() string  { return "DALI/Status/" + t.Name }
func (t Topics) Command() string { return "DALI/Controllers/" + t.Name + "/Command" }

// Reply is the per-light QueryLightStatus reply topic.
func (t Topics) Reply(bus int, address uint8) string {
	return fmt.Sprintf("DALI/Reply/QueryLightStatus/%s/Bus_%d/Address_%d", t.Name, bus, address)
}

// CommandHandler processes one decoded command-topic publish.
type CommandHandler func(payload []byte)

// Broker owns one MQTT client connection, publishing the Active/
// Version/Config/Status/Reply topics and dispatching the Command topic
// to a CommandHandler. Reconnect-after-disconnect is handled by the
// underlying paho client's auto-reconnect; the OnConnect handler
// additionally restores the retained Active/Version/Config state after
// every (re)connect, as spec.md §5 requires ("on reconnect the
// controller re-publishes Active=true, the current version, and the
// full configuration snapshot").
type Broker struct {
	client  mqtt.Client
	topics  Topics
	log     dlog.Logger
	version string

	mu       sync.Mutex
	snapshot Snapshot
}

// Snapshot supplies the data Broker republishes on every (re)connect.
type Snapshot func() ([]byte, error)

// Open connects a client named DALI-{name} to brokerURL, arming a
// last-will of "false" on the Active topic (retained), and returns
// once the initial connection succeeds or fails.
func Open(brokerURL, name, version string, log dlog.Logger) (*Broker, error) {
	b := &Broker{topics: Topics{Name: name}, log: log, version: version}

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID("DALI-" + name).
		SetKeepAlive(keepAlive).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(reconnectWait).
		SetWill(b.topics.Active(), "false", 1, true).
		SetCleanSession(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			b.logWarn("broker connection lost", "err", err)
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			b.logInfo("broker connected", "broker", brokerURL)
			b.republish()
		})

	b.client = mqtt.NewClient(opts)
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("dalibroker: connect to %s: %w", brokerURL, token.Error())
	}

	return b, nil
}

func (b *Broker) logWarn(msg string, keyvals ...any) {
	if b.log != nil {
		b.log.Warn(msg, keyvals...)
	}
}

func (b *Broker) logInfo(msg string, keyvals ...any) {
	if b.log != nil {
		b.log.Info(msg, keyvals...)
	}
}

// Topics returns the broker's topic-name builder.
func (b *Broker) Topics() Topics { return b.topics }

// Announce publishes Active=true, Version, and the configuration
// snapshot, retained at-least-once, matching the connect sequence of
// spec.md §5/§6.1, and remembers config so the OnConnect handler can
// repeat the same publish sequence after every subsequent reconnect.
func (b *Broker) Announce(config Snapshot) error {
	b.mu.Lock()
	b.snapshot = config
	b.mu.Unlock()
	return b.announce(config)
}

// republish re-runs the Active/Version/Config publish sequence after a
// reconnect; it is a no-op until Announce has run once.
func (b *Broker) republish() {
	b.mu.Lock()
	snapshot := b.snapshot
	b.mu.Unlock()
	if snapshot == nil {
		return
	}
	if err := b.announce(snapshot); err != nil {
		b.logWarn("republish snapshot after reconnect", "err", err)
	}
}

func (b *Broker) announce(config Snapshot) error {
	if err := b.publishRetained(b.topics.Active(), []byte("true")); err != nil {
		return err
	}
	if err := b.publishRetained(b.topics.Version(), []byte(b.version)); err != nil {
		return err
	}
	snapshot, err := config()
	if err != nil {
		return fmt.Errorf("dalibroker: marshal config snapshot: %w", err)
	}
	return b.publishRetained(b.topics.Config(), snapshot)
}

func (b *Broker) publishRetained(topic string, payload []byte) error {
	token := b.client.Publish(topic, 1, true, payload)
	token.Wait()
	return token.Error()
}

// PublishConfig republishes the retained Config snapshot after a
// mutating command (spec.md §4.5 "Reply policy").
func (b *Broker) PublishConfig(payload []byte) error {
	return b.publishRetained(b.topics.Config(), payload)
}

// PublishStatus publishes a non-retained, at-most-once status payload
// ("OK" or an error string, spec.md §6.1).
func (b *Broker) PublishStatus(payload []byte) error {
	token := b.client.Publish(b.topics.Status(), 0, false, payload)
	token.Wait()
	return token.Error()
}

// PublishReply publishes a non-retained QueryLightStatus reply on its
// per-light topic.
func (b *Broker) PublishReply(bus int, address uint8, payload []byte) error {
	token := b.client.Publish(b.topics.Reply(bus, address), 0, false, payload)
	token.Wait()
	return token.Error()
}

// Subscribe subscribes to the Command topic, invoking handler for each
// message on the paho client's own callback goroutine; handler must
// hand off to the dispatcher's single-writer loop rather than mutate
// shared state directly (spec.md §5).
func (b *Broker) Subscribe(handler CommandHandler) error {
	topic := b.topics.Command()
	token := b.client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("dalibroker: subscribe %s: %w", topic, err)
	}
	return nil
}

// Close disconnects cleanly, allowing the broker to drop its last-will.
func (b *Broker) Close() {
	b.client.Disconnect(250)
}
