package client

import (
	"errors"

	"github.com/RoanBrand/minimq/internal/codec"
	"github.com/RoanBrand/minimq/internal/model"
)

// sendBufClean is how far below capacity free space may drop before CheckSendBuf compacts.
const sendBufClean = 15

// enqueue packs a frame straight into the arena and registers it.
// A frame that does not fit leaves the arena untouched.
func (c *Client) enqueue(pack func(buf []byte) (int, error), pid uint16) error {
	c.clean()

	n, err := pack(c.q.Free())
	if err != nil {
		return c.fail(err)
	}
	if n == 0 {
		return model.ErrSendBufferIsFull
	}

	i, err := c.q.Register(n)
	if err != nil {
		return c.fail(err)
	}
	if pid != 0 {
		m := c.q.Get(i)
		m.PacketID = pid
		c.q.Set(i, m)
	}
	return nil
}

// Connect queues a CONNECT. It clears ErrConnectNotCalled but no other error.
func (c *Client) Connect(opts ConnectOptions) error {
	if c.err != nil {
		if !errors.Is(c.err, model.ErrConnectNotCalled) {
			return c.err
		}
		c.err = nil
	}

	c.keepAlive = opts.KeepAlive
	return c.enqueue(func(buf []byte) (int, error) {
		return codec.PackConnectionRequest(buf, &opts)
	}, 0)
}

// Publish queues a QoS 0 PUBLISH.
func (c *Client) Publish(topic string, payload []byte, retain bool) error {
	if c.err != nil {
		return c.err
	}

	var flags uint8
	if retain {
		flags = model.PublishRetain
	}
	return c.enqueue(func(buf []byte) (int, error) {
		return codec.PackPublishRequest(buf, topic, payload, flags)
	}, 0)
}

// Subscribe queues a single filter SUBSCRIBE under a fresh packet identifier.
func (c *Client) Subscribe(topic string, maxQoS uint8) error {
	if c.err != nil {
		return c.err
	}

	pid := c.nextPacketID()
	return c.enqueue(func(buf []byte) (int, error) {
		return codec.PackSubscribeRequest(buf, pid, topic, maxQoS)
	}, pid)
}

func (c *Client) Ping() error {
	if c.err != nil {
		return c.err
	}
	return c.enqueue(codec.PackPingRequest, 0)
}

func (c *Client) Disconnect() error {
	if c.err != nil {
		return c.err
	}
	return c.enqueue(codec.PackDisconnect, 0)
}

// CheckSendBuf compacts the arena once it is more than a few bytes used and returns the free space.
func (c *Client) CheckSendBuf() uint16 {
	if int(c.q.CurrSize()) <= c.q.Cap()-sendBufClean {
		c.clean()
	}
	return c.q.CurrSize()
}

// clean compacts the arena and keeps the index of a partly written frame pointing at it.
func (c *Client) clean() {
	if k := c.q.Clean(); c.sending >= 0 {
		c.sending -= k
	}
}
