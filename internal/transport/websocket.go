package transport

import (
	"context"
	"errors"
	"io"
	"net/url"

	"github.com/gorilla/websocket"
)

var errNotBinary = errors.New("not binary message")

func dialWS(ctx context.Context, o Options, secure bool) (Conn, error) {
	u := url.URL{Scheme: "ws", Host: o.Address, Path: o.Path}
	if secure {
		u.Scheme = "wss"
	}
	if u.Path == "" {
		u.Path = "/mqtt"
	}

	d := websocket.Dialer{
		Subprotocols:     []string{"mqtt"}, // [MQTT-6.0.0-3]
		HandshakeTimeout: o.DialTimeout,
		TLSClientConfig:  o.TLS,
	}
	conn, resp, err := d.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if conn.Subprotocol() != "mqtt" { // [MQTT-6.0.0-4]
		conn.Close()
		return nil, errors.New("websocket server did not accept sub protocol 'mqtt'")
	}

	return &wsConn{Conn: conn}, nil
}

// wsConn presents a websocket as a byte stream. Every Send is one binary message.
type wsConn struct {
	*websocket.Conn
	r io.Reader
}

func (c *wsConn) Send(p []byte) (int, error) {
	err := c.WriteMessage(websocket.BinaryMessage, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.r == nil {
			var err error
			var mt int
			if mt, c.r, err = c.NextReader(); err != nil {
				return 0, err
			}
			if mt != websocket.BinaryMessage { // [MQTT-6.0.0-1]
				return 0, errNotBinary
			}
		}
		n, err := c.r.Read(p)
		if err == io.EOF {
			c.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Close() error {
	c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.Conn.Close()
}
