// Package node runs one device client: it dials the broker, walks the connect and
// subscribe sequence, pumps received chunks and ticks through the engine and redials
// after any failure.
package node

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/RoanBrand/minimq/internal/client"
	"github.com/RoanBrand/minimq/internal/device"
	"github.com/RoanBrand/minimq/internal/metrics"
	"github.com/RoanBrand/minimq/internal/model"
	"github.com/RoanBrand/minimq/internal/stream"
	"github.com/RoanBrand/minimq/internal/transport"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTick     = time.Second
	maxReconnect    = time.Minute
	readBufferSize  = 1024
	shutdownTimeout = 2 * time.Second
)

type Options struct {
	Transport transport.Options
	Connect   client.ConnectOptions

	SendBufferSize  int
	RecvBufferSize  int
	ResponseTimeout uint32
	Strategy        stream.Strategy
	MaxUnfiltered   int

	ReconnectDelay time.Duration
	// Tick is how often the engine runs without received data. Default 1s.
	Tick time.Duration

	Device  *device.Device
	Metrics *metrics.Engine
}

type startupState uint8

const (
	connecting startupState = iota
	awaitingConnack
	subscribing
	awaitingSuback
	startupComplete
)

// relay lets the engine keep one transport across reconnects.
type relay struct {
	conn transport.Conn
}

func (r *relay) Send(p []byte) (int, error) {
	return r.conn.Send(p)
}

type Node struct {
	o     Options
	c     *client.Client
	tr    relay
	state startupState
	log   *log.Entry

	statusLock sync.Mutex
	status     metrics.Status
}

func New(o Options) (*Node, error) {
	if o.Device == nil {
		return nil, errors.New("node: no device")
	}
	if o.Tick == 0 {
		o.Tick = defaultTick
	}
	if o.ReconnectDelay == 0 {
		o.ReconnectDelay = 5 * time.Second
	}
	if o.Connect.WillTopic == "" {
		o.Connect.WillTopic = o.Device.AvailabilityTopic()
		o.Connect.WillMessage = []byte("offline")
		o.Connect.WillRetain = true
	}

	n := Node{
		o:   o,
		log: log.WithFields(log.Fields{"client": o.Connect.ClientID, "broker": o.Transport.Address}),
	}

	cfg := client.Config{
		SendBuf:         make([]byte, o.SendBufferSize),
		RecvBuf:         make([]byte, o.RecvBufferSize),
		Transport:       &n.tr,
		Handler:         o.Device.HandlePublish,
		ResponseTimeout: o.ResponseTimeout,
		Strategy:        o.Strategy,
		MaxUnfiltered:   o.MaxUnfiltered,
		Log:             n.log,
	}
	if o.Metrics != nil {
		cfg.Metrics = o.Metrics
	}

	c, err := client.New(cfg)
	if err != nil {
		return nil, err
	}
	n.c = c
	n.status = metrics.Status{ClientID: o.Connect.ClientID, Broker: o.Transport.Address}
	return &n, nil
}

// Status is safe to call from any goroutine.
func (n *Node) Status() metrics.Status {
	n.statusLock.Lock()
	s := n.status
	n.statusLock.Unlock()
	s.Outputs = n.o.Device.Outputs()
	return s
}

func (n *Node) updateStatus(err error) {
	n.statusLock.Lock()
	n.status.Connected = n.state == startupComplete
	n.status.Pending = n.c.Pending()
	n.status.Timeouts = n.c.Timeouts()
	n.status.Dropped = n.c.Dropped()
	n.status.Error = ""
	if err != nil {
		n.status.Error = err.Error()
	}
	n.statusLock.Unlock()
}

// Run keeps the device connected until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	delay := n.o.ReconnectDelay
	for {
		err := n.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if n.state == startupComplete {
			delay = n.o.ReconnectDelay
		}
		n.log.WithError(err).WithField("retry_in", delay.String()).Warn("Connection lost")
		n.reset()
		n.updateStatus(err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		if delay *= 2; delay > maxReconnect {
			delay = maxReconnect
		}
	}
}

func (n *Node) reset() {
	n.c.Reinit()
	n.state = connecting
	if n.o.Metrics != nil {
		n.o.Metrics.Connected(false)
	}
}

// session runs one connection until it fails or ctx is done.
func (n *Node) session(ctx context.Context) error {
	conn, err := transport.Dial(ctx, n.o.Transport)
	if err != nil {
		return err
	}
	n.tr.conn = conn
	n.log.Debug("Dialed broker")

	chunks := make(chan []byte)
	ack := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// one buffer; the loop acknowledges each chunk before it is reused
		buf := make([]byte, readBufferSize)
		for {
			nr, err := conn.Read(buf)
			if nr > 0 {
				select {
				case chunks <- buf[:nr]:
				case <-gctx.Done():
					return nil
				}
				select {
				case <-ack:
				case <-gctx.Done():
					return nil
				}
			}
			if err != nil {
				return err
			}
		}
	})
	var engineErr error
	g.Go(func() error {
		defer conn.Close()
		engineErr = n.loop(gctx, ctx, chunks, ack)
		return engineErr
	})

	err = g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	// the read side usually fails too once the broker hangs up; the engine knows why
	if engineErr != nil {
		return engineErr
	}
	return err
}

func (n *Node) loop(gctx, ctx context.Context, chunks <-chan []byte, ack chan<- struct{}) error {
	ticker := time.NewTicker(n.o.Tick)
	defer ticker.Stop()

	for {
		if err := n.step(); err != nil {
			return err
		}
		n.updateStatus(nil)

		select {
		case <-gctx.Done():
			if ctx.Err() != nil {
				n.shutdown()
			}
			return nil
		case chunk := <-chunks:
			err := n.c.Sync(chunk)
			select {
			case ack <- struct{}{}:
			case <-gctx.Done():
			}
			if err != nil {
				return err
			}
		case <-ticker.C:
			if err := n.c.Sync(nil); err != nil {
				return err
			}
		}
	}
}

// step advances the startup sequence and pushes whatever is queued.
func (n *Node) step() error {
	var err error
	switch n.state {
	case connecting:
		if err = n.c.Connect(n.o.Connect); err == nil {
			n.state = awaitingConnack
		}
	case awaitingConnack:
		if n.c.ConnackReceived() {
			n.state = subscribing
		}
	case subscribing:
		if err = n.c.Subscribe(n.o.Device.SubscribeTopic(), 0); err == nil {
			n.state = awaitingSuback
		}
	case awaitingSuback:
		if n.c.SubackReceived() {
			n.state = startupComplete
			n.c.SetStartupComplete(true)
			n.o.Device.Announce()
			if n.o.Metrics != nil {
				n.o.Metrics.Connected(true)
			}
			n.log.Info("Connected and subscribed")
		}
	case startupComplete:
		err = n.o.Device.Flush(n.c)
	}
	if err != nil && !errors.Is(err, model.ErrSendBufferIsFull) {
		return err
	}

	return n.pump()
}

// pump pushes every unsent frame.
func (n *Node) pump() error {
	for k := n.c.Unsent(); k > 0; k-- {
		if err := n.c.Send(); err != nil {
			return err
		}
	}
	return nil
}

// shutdown says goodbye to the broker on a clean exit.
func (n *Node) shutdown() {
	if n.state == startupComplete {
		if err := n.c.Publish(n.o.Device.AvailabilityTopic(), []byte("offline"), true); err != nil {
			n.log.WithError(err).Debug("Could not queue availability")
		}
	}
	if err := n.c.Disconnect(); err != nil {
		n.log.WithError(err).Debug("Could not queue DISCONNECT")
	}

	deadline := time.Now().Add(shutdownTimeout)
	for n.c.Unsent() > 0 && time.Now().Before(deadline) {
		if err := n.c.Send(); err != nil {
			break
		}
	}
	n.log.Info("Disconnected")
}
