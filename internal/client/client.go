// Package client is the device side MQTT engine.
//
// A Client owns a send arena, a receive scratch buffer and a transport. It is driven
// from one goroutine: requests queue frames, Sync feeds received chunks through the
// reassembler and pushes at most one queued frame per frame handled. A Client is not
// safe for concurrent use and its publish handler must not call back into it.
package client

import (
	"errors"
	"time"

	"github.com/RoanBrand/minimq/internal/codec"
	"github.com/RoanBrand/minimq/internal/model"
	"github.com/RoanBrand/minimq/internal/queue"
	"github.com/RoanBrand/minimq/internal/stream"
	log "github.com/sirupsen/logrus"
)

// DefaultResponseTimeout is how long, in clock ticks, an acknowledged request may stay unanswered.
const DefaultResponseTimeout = 30

// Transport accepts outbound bytes. Send may accept less than len(p).
type Transport interface {
	Send(p []byte) (int, error)
}

// Inbound is one received PUBLISH. Under the filter strategy the topic and message are
// stand-ins and the extracted Idx and NValue components carry the content.
type Inbound struct {
	model.Publish
	Idx, NValue []byte
}

// PublishHandler is called once per inbound PUBLISH. in and its slices are only valid during the call.
type PublishHandler func(in *Inbound)

// Metrics observes engine activity.
type Metrics interface {
	FrameSent(t model.ControlType, n int)
	FrameReceived(t model.ControlType)
	ResponseTimeout()
	EngineError(err error)
}

type nopMetrics struct{}

func (nopMetrics) FrameSent(model.ControlType, int) {}
func (nopMetrics) FrameReceived(model.ControlType)  {}
func (nopMetrics) ResponseTimeout()                 {}
func (nopMetrics) EngineError(error)                {}

type Config struct {
	SendBuf   []byte
	RecvBuf   []byte
	Transport Transport
	Handler   PublishHandler

	// Clock returns the current tick in seconds. Defaults to seconds since New.
	Clock           func() uint32
	ResponseTimeout uint32

	Strategy      stream.Strategy
	MaxUnfiltered int

	Metrics Metrics
	Log     *log.Entry
}

// ConnectOptions are the CONNECT fields. KeepAlive also drives the automatic ping.
type ConnectOptions = codec.ConnectRequest

type Client struct {
	q         queue.Queue
	rx        stream.Reassembler
	filter    *stream.Filter
	transport Transport
	handler   PublishHandler
	clock     func() uint32
	metrics   Metrics
	log       *log.Entry

	err             error
	keepAlive       uint16
	responseTimeout uint32
	timeouts        uint32
	lastSend        uint32
	sendOffset      int
	// sending is the queue index of the frame sendOffset belongs to, -1 when none is partly written.
	sending         int
	pidLFSR         uint16

	connackReceived bool
	subackReceived  bool
	startupComplete bool
}

func New(cfg Config) (*Client, error) {
	if cfg.SendBuf == nil || cfg.RecvBuf == nil || cfg.Transport == nil {
		return nil, model.ErrNullPtr
	}

	c := Client{
		transport:       cfg.Transport,
		handler:         cfg.Handler,
		clock:           cfg.Clock,
		metrics:         cfg.Metrics,
		log:             cfg.Log,
		responseTimeout: cfg.ResponseTimeout,
		sending:         -1,
		err:             model.ErrConnectNotCalled,
	}
	if err := c.q.Init(cfg.SendBuf); err != nil {
		return nil, err
	}

	rx, err := stream.New(cfg.Strategy, cfg.RecvBuf, cfg.MaxUnfiltered, c.handleFrame)
	if err != nil {
		return nil, err
	}
	c.rx = rx
	c.filter, _ = rx.(*stream.Filter)

	if c.handler == nil {
		c.handler = func(*Inbound) {}
	}
	if c.clock == nil {
		start := time.Now()
		c.clock = func() uint32 {
			return uint32(time.Since(start) / time.Second)
		}
	}
	if c.metrics == nil {
		c.metrics = nopMetrics{}
	}
	if c.log == nil {
		c.log = log.WithField("component", "mqtt")
	}
	if c.responseTimeout == 0 {
		c.responseTimeout = DefaultResponseTimeout
	}

	return &c, nil
}

// Reinit returns the client to its freshly created state, ready for a new Connect.
// It is the only way to clear an error other than ErrConnectNotCalled.
func (c *Client) Reinit() {
	c.q.Reset()
	c.rx.Reset()
	c.err = model.ErrConnectNotCalled
	c.keepAlive, c.lastSend, c.sendOffset, c.sending = 0, 0, 0, -1
	c.connackReceived, c.subackReceived, c.startupComplete = false, false, false
}

// Err is the sticky error, nil when healthy.
func (c *Client) Err() error {
	return c.err
}

func (c *Client) ConnackReceived() bool {
	return c.connackReceived
}

func (c *Client) SubackReceived() bool {
	return c.subackReceived
}

// SetStartupComplete enables the keep-alive ping once the connect and subscribe exchange is done.
func (c *Client) SetStartupComplete(done bool) {
	c.startupComplete = done
}

func (c *Client) StartupComplete() bool {
	return c.startupComplete
}

// Timeouts counts resends caused by a missing acknowledgement.
func (c *Client) Timeouts() uint32 {
	return c.timeouts
}

// Pending counts queued frames not yet sent or not yet acknowledged.
func (c *Client) Pending() int {
	return c.q.Pending()
}

// Unsent counts queued frames not yet written to the transport.
func (c *Client) Unsent() int {
	return c.q.Count(queue.Unsent)
}

// Dropped counts received frames too large for the receive buffer.
func (c *Client) Dropped() uint64 {
	return c.rx.Dropped()
}

// fail records err as the sticky error. A full send buffer is never recorded.
func (c *Client) fail(err error) error {
	if errors.Is(err, model.ErrSendBufferIsFull) || err == c.err {
		return err
	}
	if c.err == nil || errors.Is(c.err, model.ErrConnectNotCalled) {
		c.err = err
	}
	c.metrics.EngineError(err)
	return err
}
