package client

import (
	"github.com/RoanBrand/minimq/internal/codec"
	"github.com/RoanBrand/minimq/internal/model"
	"github.com/RoanBrand/minimq/internal/queue"
	log "github.com/sirupsen/logrus"
)

type receiver func(c *Client, r *codec.Response) error

var receivers = map[model.ControlType]receiver{
	model.CONNACK:  (*Client).recvConnack,
	model.PUBLISH:  (*Client).recvPublish,
	model.SUBACK:   (*Client).recvSuback,
	model.PINGRESP: (*Client).recvPingresp,
}

// Receive interprets one whole frame from the broker.
func (c *Client) Receive(frame []byte) error {
	r, n, err := codec.UnpackResponse(frame)
	if err != nil {
		return c.fail(err)
	}
	if n == 0 {
		return c.fail(model.ErrMalformedResponse)
	}

	if log.IsLevelEnabled(log.DebugLevel) {
		c.log.WithFields(log.Fields{
			"type": r.Header.Type,
			"size": n,
		}).Debug("Got packet")
	}

	recv, ok := receivers[r.Header.Type]
	if !ok {
		return c.fail(model.ErrMalformedResponse)
	}
	c.metrics.FrameReceived(r.Header.Type)
	if err := recv(c, &r); err != nil {
		return c.fail(err)
	}
	return nil
}

func (c *Client) complete(ct model.ControlType, pid *uint16) error {
	i := c.q.Find(ct, pid)
	if i < 0 {
		return model.ErrAckOfUnknown
	}
	c.q.SetState(i, queue.Complete)
	return nil
}

func (c *Client) recvConnack(r *codec.Response) error {
	if err := c.complete(model.CONNECT, nil); err != nil {
		return err
	}
	c.connackReceived = true

	switch r.Connack.ReturnCode {
	case model.ConnackAccepted:
		return nil
	case model.ConnackRefusedIdentifierRejected:
		return model.ErrConnectClientIDRefused
	default:
		return model.ErrConnectionRefused
	}
}

func (c *Client) recvPublish(r *codec.Response) error {
	in := Inbound{Publish: r.Publish}
	if c.filter != nil {
		in.Idx, in.NValue = c.filter.Idx(), c.filter.NValue()
	}
	c.handler(&in)
	return nil
}

func (c *Client) recvSuback(r *codec.Response) error {
	pid := r.Suback.PacketID
	if err := c.complete(model.SUBSCRIBE, &pid); err != nil {
		return err
	}
	c.subackReceived = true

	if r.Suback.ReturnCodes[0] == model.SubackFailure {
		return model.ErrSubscribeFailed
	}
	return nil
}

func (c *Client) recvPingresp(*codec.Response) error {
	return c.complete(model.PINGREQ, nil)
}
