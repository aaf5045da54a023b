package node

import (
	"context"
	"testing"
	"time"

	"github.com/RoanBrand/minimq/internal/broker"
	"github.com/RoanBrand/minimq/internal/client"
	"github.com/RoanBrand/minimq/internal/device"
	"github.com/RoanBrand/minimq/internal/metrics"
	"github.com/RoanBrand/minimq/internal/model"
	"github.com/RoanBrand/minimq/internal/stream"
	"github.com/RoanBrand/minimq/internal/transport"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 5 * time.Second
	poll    = 10 * time.Millisecond
)

func startBroker(t *testing.T, opts broker.Options) *broker.Server {
	t.Helper()
	s, err := broker.NewServer("127.0.0.1:0", opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Stop() })
	return s
}

func startNode(t *testing.T, s *broker.Server, clientID string, mode device.Mode, strategy stream.Strategy) (*Node, *device.Device, context.CancelFunc, chan error) {
	t.Helper()
	d, err := device.New(device.Options{Mode: mode, Outputs: 4, TopicBase: "test/" + clientID, IdxBase: 10})
	require.NoError(t, err)

	n, err := New(Options{
		Transport:      transport.Options{Network: "tcp", Address: s.Addr()},
		Connect:        client.ConnectOptions{ClientID: clientID, KeepAlive: 60, CleanSession: true},
		SendBufferSize: 512,
		RecvBufferSize: 128,
		Strategy:       strategy,
		ReconnectDelay: 50 * time.Millisecond,
		Tick:           20 * time.Millisecond,
		Device:         d,
		Metrics:        metrics.New(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- n.Run(ctx)
	}()
	t.Cleanup(cancel)
	return n, d, cancel, done
}

// waitPublish returns the first message with topic and payload.
func waitPublish(t *testing.T, s *broker.Server, topic, payload string) broker.Message {
	t.Helper()
	timeout := time.After(waitFor)
	for {
		select {
		case m := <-s.Published():
			if m.Topic == topic && string(m.Payload) == payload {
				return m
			}
		case <-timeout:
			t.Fatal("no publish on", topic)
		}
	}
}

func TestHomeAssistantRoundTrip(t *testing.T) {
	t.Parallel()

	s := startBroker(t, broker.Options{SplitWrites: true})
	n, d, cancel, done := startNode(t, s, "ha", device.HomeAssistant, stream.StrategyBatch)

	require.Eventually(t, func() bool { return s.Subscribed("ha", "test/ha/output/+/set") }, waitFor, poll)
	m := waitPublish(t, s, "test/ha/availability", "online")
	require.True(t, m.Retain)

	s.Publish("test/ha/output/03/set", []byte("ON"), false)
	require.Eventually(t, func() bool { return d.Outputs()[2] }, waitFor, poll)
	m = waitPublish(t, s, "test/ha/output/03", "ON")
	require.True(t, m.Retain)

	require.Eventually(t, func() bool { return n.Status().Connected }, waitFor, poll)

	cancel()
	require.NoError(t, <-done)
	waitPublish(t, s, "test/ha/availability", "offline")
	require.Eventually(t, func() bool { return !s.Connected("ha") }, waitFor, poll)
}

func TestDomoticzFilter(t *testing.T) {
	t.Parallel()

	s := startBroker(t, broker.Options{})
	_, d, _, _ := startNode(t, s, "dz", device.Domoticz, stream.StrategyFilter)

	require.Eventually(t, func() bool { return s.Subscribed("dz", "domoticz/out") }, waitFor, poll)

	doc := "{\n\t\"Battery\" : 255,\n\t\"RSSI\" : 12,\n\t\"description\" : \"\",\n\t\"dtype\" : \"Light/Switch\",\n\t\"id\" : \"00014051\",\n\t\"idx\" : 11,\n\t\"name\" : \"Relay 2\",\n\t\"nvalue\" : 1,\n\t\"stype\" : \"Switch\",\n\t\"svalue1\" : \"0\",\n\t\"switchType\" : \"On/Off\",\n\t\"unit\" : 1\n}\n"
	s.Publish("domoticz/out", []byte(doc), false)
	require.Eventually(t, func() bool { return d.Outputs()[1] }, waitFor, poll)
}

func TestReconnect(t *testing.T) {
	t.Parallel()

	s := startBroker(t, broker.Options{})
	n, _, _, _ := startNode(t, s, "rc", device.HomeAssistant, stream.StrategyBatch)

	require.Eventually(t, func() bool { return s.Subscribed("rc", "test/rc/output/+/set") }, waitFor, poll)
	s.Kick("rc")
	require.Eventually(t, func() bool { return !n.Status().Connected }, waitFor, poll)
	require.Eventually(t, func() bool { return s.Subscribed("rc", "test/rc/output/+/set") && n.Status().Connected }, waitFor, poll)
}

func TestConnectionRefused(t *testing.T) {
	t.Parallel()

	s := startBroker(t, broker.Options{ConnackCode: model.ConnackRefusedNotAuthorized})
	n, _, _, _ := startNode(t, s, "nope", device.HomeAssistant, stream.StrategyBatch)

	require.Eventually(t, func() bool {
		return n.Status().Error == model.ErrConnectionRefused.Error()
	}, waitFor, poll)
	require.False(t, s.Connected("nope"))
}

func TestSubscriptionRefused(t *testing.T) {
	t.Parallel()

	s := startBroker(t, broker.Options{RefuseSubscriptions: true})
	n, _, _, _ := startNode(t, s, "nosub", device.HomeAssistant, stream.StrategyBatch)

	require.Eventually(t, func() bool {
		return n.Status().Error == model.ErrSubscribeFailed.Error()
	}, waitFor, poll)
}

type recordConn struct {
	sent [][]byte
}

func (c *recordConn) Send(p []byte) (int, error) {
	c.sent = append(c.sent, append([]byte(nil), p...))
	return len(p), nil
}

func (c *recordConn) Read(p []byte) (int, error) { return 0, nil }
func (c *recordConn) Close() error { return nil }

func TestLoopCancelledMidChunk(t *testing.T) {
	t.Parallel()

	// the reader is gone, so nobody takes the acknowledgement of the chunk
	for i := 0; i < 50; i++ {
		d, err := device.New(device.Options{Outputs: 1, TopicBase: "test/loop"})
		require.NoError(t, err)
		n, err := New(Options{
			Connect:        client.ConnectOptions{ClientID: "loop"},
			SendBufferSize: 256,
			RecvBufferSize: 64,
			Device:         d,
		})
		require.NoError(t, err)
		conn := &recordConn{}
		n.tr.conn = conn

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		chunks := make(chan []byte, 1)
		chunks <- []byte{0x20, 2, 0, 0}

		done := make(chan error, 1)
		go func() {
			done <- n.loop(ctx, ctx, chunks, make(chan struct{}))
		}()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(waitFor):
			t.Fatal("loop did not return after cancel")
		}
		require.NotEmpty(t, conn.sent)
		require.Equal(t, byte(model.DISCONNECT)<<4, conn.sent[len(conn.sent)-1][0])
	}
}
