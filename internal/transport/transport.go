// Package transport dials the byte stream a client talks MQTT over.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strings"
	"time"
)

// Conn is a connected byte stream. Send is the engine's transmit primitive.
type Conn interface {
	Send(p []byte) (int, error)
	Read(p []byte) (int, error)
	Close() error
}

type Options struct {
	// Network is one of tcp, tls, ws or wss.
	Network string
	// Address in the form "host:port".
	Address string
	// Path of the websocket endpoint. Defaults to /mqtt.
	Path string

	TLS         *tls.Config
	DialTimeout time.Duration
}

var ErrUnknownNetwork = errors.New("unknown transport network")

func Dial(ctx context.Context, o Options) (Conn, error) {
	if o.DialTimeout == 0 {
		o.DialTimeout = 10 * time.Second
	}

	switch strings.ToLower(o.Network) {
	case "", "tcp":
		return dialTCP(ctx, o, false)
	case "tls":
		return dialTCP(ctx, o, true)
	case "ws":
		return dialWS(ctx, o, false)
	case "wss":
		return dialWS(ctx, o, true)
	}
	return nil, ErrUnknownNetwork
}

type streamConn struct {
	net.Conn
}

func (c streamConn) Send(p []byte) (int, error) {
	return c.Write(p)
}

func dialTCP(ctx context.Context, o Options, secure bool) (Conn, error) {
	d := net.Dialer{Timeout: o.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", o.Address)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(false)
	}

	if secure {
		cfg := o.TLS
		if cfg == nil {
			cfg = &tls.Config{}
		}
		if cfg.ServerName == "" {
			cfg = cfg.Clone()
			cfg.ServerName, _, _ = net.SplitHostPort(o.Address)
		}

		tc := tls.Client(conn, cfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		conn = tc
	}

	return streamConn{conn}, nil
}
