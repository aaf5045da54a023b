package client

import (
	"errors"

	"github.com/RoanBrand/minimq/internal/model"
	"github.com/RoanBrand/minimq/internal/queue"
	log "github.com/sirupsen/logrus"
)

// Send writes at most one queued frame to the transport: a partly written one first, then the
// oldest unsent one, or the oldest whose acknowledgement is overdue. It then queues a PINGREQ if
// the link has been idle for three quarters of the keep-alive interval.
func (c *Client) Send() error {
	if c.err != nil {
		return c.err
	}
	now := c.clock()

	i := c.sending
	if i < 0 {
		i = c.due(now)
	}
	if i >= 0 {
		if err := c.write(i, now); err != nil {
			return err
		}
	}

	if c.startupComplete && c.keepAlive > 0 && now > c.lastSend+uint32(c.keepAlive)*3/4 {
		if err := c.Ping(); err != nil && !errors.Is(err, model.ErrSendBufferIsFull) {
			return err
		}
	}
	return nil
}

// due returns the index of the oldest message to transmit, or -1.
func (c *Client) due(now uint32) int {
	for i := 0; i < c.q.Len(); i++ {
		m := c.q.Get(i)
		switch m.State {
		case queue.Unsent:
			return i
		case queue.AwaitingAck:
			if now <= m.TimeSent+c.responseTimeout {
				continue
			}
			c.timeouts++
			c.metrics.ResponseTimeout()
			c.log.WithFields(log.Fields{
				"type":   m.Type,
				"pid":    m.PacketID,
				"sentAt": m.TimeSent,
			}).Info("Response timeout, resending")
			return i
		}
	}
	return -1
}

// write pushes the rest of frame i. A short write is resumed by the next call.
func (c *Client) write(i int, now uint32) error {
	m := c.q.Get(i)
	frame := c.q.Frame(i)
	n, err := c.transport.Send(frame[c.sendOffset:])
	if err != nil {
		c.metrics.EngineError(err)
		if c.err == nil {
			c.err = err
		}
		return err
	}
	c.sendOffset += n
	if c.sendOffset < len(frame) {
		c.sending = i
		return nil
	}
	c.sendOffset, c.sending = 0, -1

	c.metrics.FrameSent(m.Type, len(frame))
	c.lastSend, m.TimeSent = now, now
	switch m.Type {
	case model.CONNECT, model.SUBSCRIBE, model.PINGREQ:
		m.State = queue.AwaitingAck
	case model.PUBLISH, model.DISCONNECT:
		m.State = queue.Complete
	default:
		return c.fail(model.ErrMalformedRequest)
	}
	c.q.Set(i, m)

	if log.IsLevelEnabled(log.DebugLevel) {
		c.log.WithFields(log.Fields{
			"type": m.Type,
			"size": len(frame),
		}).Debug("Sent packet")
	}
	return nil
}
