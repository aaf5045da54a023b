// Package device is the application behind the MQTT engine: a bank of relay outputs
// switched by inbound publishes, whose states are published back to the broker.
package device

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/RoanBrand/minimq/internal/client"
	"github.com/RoanBrand/minimq/internal/model"
	"github.com/RoanBrand/minimq/internal/store"
	log "github.com/sirupsen/logrus"
)

type Mode string

const (
	HomeAssistant Mode = "homeassistant"
	Domoticz      Mode = "domoticz"
)

const MaxOutputs = 16

const domoticzTopic = "domoticz/out"

var (
	payloadOn  = []byte("ON")
	payloadOff = []byte("OFF")
)

type Options struct {
	Mode      Mode
	Outputs   int
	TopicBase string
	// IdxBase is the domoticz idx of output 1.
	IdxBase int
	Store   store.Store
}

// Publisher queues outbound publishes. *client.Client implements it.
type Publisher interface {
	Publish(topic string, payload []byte, retain bool) error
}

type Device struct {
	sync.Mutex
	o Options

	outputs  []bool
	dirty    []bool
	announce bool

	setPrefix []byte
	commands  uint64
}

func New(o Options) (*Device, error) {
	if o.Outputs < 1 || o.Outputs > MaxOutputs {
		return nil, fmt.Errorf("device: %d outputs not in range 1-%d", o.Outputs, MaxOutputs)
	}
	switch o.Mode {
	case HomeAssistant, Domoticz:
	case "":
		o.Mode = HomeAssistant
	default:
		return nil, fmt.Errorf("device: unknown mode %q", o.Mode)
	}
	if o.TopicBase == "" {
		return nil, errors.New("device: empty topic base")
	}
	if o.Store == nil {
		o.Store = store.NewMemStore()
	}

	outputs, err := o.Store.Load(o.Outputs)
	if err != nil {
		return nil, fmt.Errorf("device: loading output states: %w", err)
	}

	return &Device{
		o:         o,
		outputs:   outputs,
		dirty:     make([]bool, o.Outputs),
		setPrefix: []byte(o.TopicBase + "/output/"),
	}, nil
}

// SubscribeTopic is the one topic filter the device listens on.
func (d *Device) SubscribeTopic() string {
	if d.o.Mode == Domoticz {
		return domoticzTopic
	}
	return d.o.TopicBase + "/output/+/set"
}

// AvailabilityTopic carries "online" while connected and the will "offline" after.
func (d *Device) AvailabilityTopic() string {
	return d.o.TopicBase + "/availability"
}

func (d *Device) outputTopic(i int) string {
	return fmt.Sprintf("%s/output/%02d", d.o.TopicBase, i+1)
}

// Outputs returns a copy of the output states.
func (d *Device) Outputs() []bool {
	d.Lock()
	defer d.Unlock()
	return append([]bool(nil), d.outputs...)
}

// Commands counts inbound publishes that changed or confirmed an output.
func (d *Device) Commands() uint64 {
	d.Lock()
	defer d.Unlock()
	return d.commands
}

// Announce marks availability and every output state for publishing, as after a (re)connect.
func (d *Device) Announce() {
	d.Lock()
	d.announce = true
	for i := range d.dirty {
		d.dirty[i] = true
	}
	d.Unlock()
}

// SetOutput switches output i (0 based) and queues its state for publishing.
func (d *Device) SetOutput(i int, on bool) error {
	if i < 0 || i >= len(d.outputs) {
		return fmt.Errorf("device: no output %d", i+1)
	}
	d.Lock()
	defer d.Unlock()
	return d.set(i, on)
}

func (d *Device) set(i int, on bool) error {
	d.commands++
	d.dirty[i] = true
	if d.outputs[i] == on {
		return nil
	}
	d.outputs[i] = on

	log.WithFields(log.Fields{
		"output": i + 1,
		"on":     on,
	}).Info("Output switched")

	return d.o.Store.Save(d.outputs)
}

// HandlePublish is the engine's publish handler. It never calls back into the engine.
func (d *Device) HandlePublish(in *client.Inbound) {
	d.Lock()
	defer d.Unlock()

	var err error
	if d.o.Mode == Domoticz {
		err = d.handleDomoticz(in.Idx, in.NValue)
	} else {
		err = d.handleHomeAssistant(in.Topic, in.Message)
	}
	if err != nil {
		log.WithFields(log.Fields{
			"topic": string(in.Topic),
		}).Warn("Ignoring publish: " + err.Error())
	}
}

var errIgnored = errors.New("not for this device")

// <base>/output/NN/set or <base>/output/all/set
func (d *Device) handleHomeAssistant(topic, payload []byte) error {
	if !bytes.HasPrefix(topic, d.setPrefix) || !bytes.HasSuffix(topic, []byte("/set")) {
		return errIgnored
	}
	which := topic[len(d.setPrefix) : len(topic)-len("/set")]

	var on bool
	switch {
	case bytes.Equal(payload, payloadOn):
		on = true
	case bytes.Equal(payload, payloadOff):
	default:
		return fmt.Errorf("bad payload %q", payload)
	}

	if string(which) == "all" {
		for i := range d.outputs {
			if err := d.set(i, on); err != nil {
				return err
			}
		}
		return nil
	}

	n, err := strconv.Atoi(string(which))
	if err != nil || n < 1 || n > len(d.outputs) {
		return fmt.Errorf("bad output %q", which)
	}
	return d.set(n-1, on)
}

func (d *Device) handleDomoticz(idx, nvalue []byte) error {
	if len(idx) == 0 || len(nvalue) == 0 {
		return errIgnored
	}
	n, err := strconv.Atoi(string(idx))
	if err != nil {
		return fmt.Errorf("bad idx %q", idx)
	}
	n = n - d.o.IdxBase
	if n < 0 || n >= len(d.outputs) {
		return errIgnored
	}

	switch nvalue[0] {
	case '1':
		return d.set(n, true)
	case '0':
		return d.set(n, false)
	}
	return fmt.Errorf("bad nvalue %q", nvalue)
}

// Flush queues every pending state publish. Publishes that do not fit the send
// buffer stay pending for the next call.
func (d *Device) Flush(p Publisher) error {
	d.Lock()
	defer d.Unlock()

	if d.announce {
		if err := p.Publish(d.AvailabilityTopic(), []byte("online"), true); err != nil {
			return full(err)
		}
		d.announce = false
	}

	for i, dirty := range d.dirty {
		if !dirty {
			continue
		}
		payload := payloadOff
		if d.outputs[i] {
			payload = payloadOn
		}
		if err := p.Publish(d.outputTopic(i), payload, true); err != nil {
			return full(err)
		}
		d.dirty[i] = false
	}
	return nil
}

func full(err error) error {
	if errors.Is(err, model.ErrSendBufferIsFull) {
		return nil
	}
	return err
}
