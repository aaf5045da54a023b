package config

import (
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Broker to connect to.
	Broker struct {
		// Network is tcp, tls, ws or wss. Default tcp.
		Network string `json:"network" yaml:"network"`
		// Address in the form "host:port". If no port is given, the default port of the network is used.
		Address string `json:"address" yaml:"address"`
		// Path of the websocket endpoint.
		Path string `json:"path" yaml:"path"`
		// InsecureSkipVerify disables certificate checks for tls and wss.
		InsecureSkipVerify bool `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	} `json:"broker" yaml:"broker"`

	MQTT struct {
		// ClientID defaults to "minimq-" and 8 random hex digits.
		ClientID string `json:"client_id" yaml:"client_id"`
		UserName string `json:"username" yaml:"username"`
		Password string `json:"password" yaml:"password"`
		// Keep Alive in s. Default 60.
		KeepAlive uint16 `json:"keep_alive" yaml:"keep_alive"`
		// Unacknowledged request resend timeout in s. Default 30.
		ResponseTimeout uint32 `json:"response_timeout" yaml:"response_timeout"`
		// Send arena and receive scratch sizes in bytes. Default 256 and 128.
		SendBufferSize int `json:"send_buffer_size" yaml:"send_buffer_size"`
		RecvBufferSize int `json:"recv_buffer_size" yaml:"recv_buffer_size"`
		// Reassembly strategy: batch or filter. Default batch, or filter in domoticz mode, which requires it.
		Strategy string `json:"strategy" yaml:"strategy"`
		// Largest non PUBLISH frame kept by the filter strategy. Default 59.
		MaxUnfiltered int `json:"max_unfiltered" yaml:"max_unfiltered"`
		// Delay before redialing after a failure. Default 5s.
		ReconnectDelay Duration `json:"reconnect_delay" yaml:"reconnect_delay"`
	} `json:"mqtt" yaml:"mqtt"`

	Device struct {
		// Mode is homeassistant or domoticz. Default homeassistant.
		Mode string `json:"mode" yaml:"mode"`
		// Number of outputs, 1 to 16. Default 8.
		Outputs int `json:"outputs" yaml:"outputs"`
		// TopicBase defaults to "minimq/<client id>".
		TopicBase string `json:"topic_base" yaml:"topic_base"`
		// Domoticz idx of output 1.
		IdxBase int `json:"idx_base" yaml:"idx_base"`
		// StateDir holds persisted output states. If empty, states are kept in memory only.
		StateDir string `json:"state_dir" yaml:"state_dir"`
	} `json:"device" yaml:"device"`

	// HTTP Address optionally specifies the address for the status and metrics endpoint,
	// in the form "host:port". If empty, it is not served.
	HTTP struct {
		Address string `json:"address" yaml:"address"`
	} `json:"http" yaml:"http"`

	// Log configures optional log output file as well as the log level setting.
	Log struct {
		File  string `json:"file" yaml:"file"`
		Level string `json:"level" yaml:"level"`
	} `json:"log" yaml:"log"`
}

// Duration reads "5s" style strings or plain seconds.
type Duration struct {
	time.Duration
}

func (d *Duration) set(s string) error {
	if v, err := time.ParseDuration(s); err == nil {
		d.Duration = v
		return nil
	}
	v, err := time.ParseDuration(s + "s")
	if err != nil {
		return errors.New("invalid duration " + s)
	}
	d.Duration = v
	return nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	return d.set(strings.Trim(string(b), `"`))
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	return d.set(n.Value)
}

// LoadFromFile reads a .yaml/.yml or JSON config file and fills in defaults.
func (c *Config) LoadFromFile(fPath string) error {
	f, err := os.Open(fPath)
	if err != nil {
		return errors.New("error opening config file: " + err.Error())
	}

	defer f.Close()

	switch strings.ToLower(filepath.Ext(fPath)) {
	case ".yaml", ".yml":
		err = yaml.NewDecoder(f).Decode(c)
	default:
		err = json.NewDecoder(f).Decode(c)
	}
	if err != nil {
		return errors.New("error reading config file: " + err.Error())
	}

	return c.Validate()
}

// Validate checks c and sets defaults for everything left empty.
func (c *Config) Validate() error {
	switch c.Broker.Network = strings.ToLower(c.Broker.Network); c.Broker.Network {
	case "":
		c.Broker.Network = "tcp"
	case "tcp", "tls", "ws", "wss":
	default:
		return errors.New("invalid broker network " + c.Broker.Network)
	}

	if c.Broker.Address == "" {
		c.Broker.Address = "localhost"
	}
	if _, _, err := net.SplitHostPort(c.Broker.Address); err != nil { // if just ip/host specified
		port := "1883"
		switch c.Broker.Network {
		case "tls":
			port = "8883"
		case "ws":
			port = "80"
		case "wss":
			port = "443"
		}
		c.Broker.Address = net.JoinHostPort(strings.Trim(c.Broker.Address, "[]"), port)
	}

	m := &c.MQTT
	if m.ClientID == "" {
		m.ClientID = "minimq-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	if m.KeepAlive == 0 {
		m.KeepAlive = 60
	}
	if m.ResponseTimeout == 0 {
		m.ResponseTimeout = 30
	}
	if m.SendBufferSize == 0 {
		m.SendBufferSize = 256
	}
	if m.RecvBufferSize == 0 {
		m.RecvBufferSize = 128
	}
	if m.SendBufferSize > 65535 || m.SendBufferSize < 64 {
		return errors.New("send buffer size must be between 64 and 65535")
	}
	if m.RecvBufferSize < 8 {
		return errors.New("receive buffer size must be at least 8")
	}
	switch m.Strategy {
	case "", "batch", "filter":
	default:
		return errors.New("invalid reassembly strategy " + m.Strategy)
	}
	if m.MaxUnfiltered == 0 {
		m.MaxUnfiltered = 59
	}
	if m.ReconnectDelay.Duration == 0 {
		m.ReconnectDelay.Duration = 5 * time.Second
	}

	d := &c.Device
	switch d.Mode {
	case "":
		d.Mode = "homeassistant"
	case "homeassistant", "domoticz":
	default:
		return errors.New("invalid device mode " + d.Mode)
	}
	// domoticz commands are only picked out of the stream by the filter
	if m.Strategy == "" {
		m.Strategy = "batch"
		if d.Mode == "domoticz" {
			m.Strategy = "filter"
		}
	}
	if d.Mode == "domoticz" && m.Strategy != "filter" {
		return errors.New("device mode domoticz needs the filter reassembly strategy")
	}
	if d.Outputs == 0 {
		d.Outputs = 8
	}
	if d.Outputs < 1 || d.Outputs > 16 {
		return errors.New("device outputs must be between 1 and 16")
	}
	if d.TopicBase == "" {
		d.TopicBase = "minimq/" + m.ClientID
	}
	d.TopicBase = strings.TrimSuffix(d.TopicBase, "/")

	return nil
}
