package device

import (
	"testing"

	"github.com/RoanBrand/minimq/internal/client"
	"github.com/RoanBrand/minimq/internal/model"
	"github.com/RoanBrand/minimq/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pub struct {
	topic, payload string
	retain         bool
}

type fakePublisher struct {
	pubs  []pub
	room  int
	limit bool
}

func (p *fakePublisher) Publish(topic string, payload []byte, retain bool) error {
	if p.limit {
		if p.room == 0 {
			return model.ErrSendBufferIsFull
		}
		p.room--
	}
	p.pubs = append(p.pubs, pub{topic, string(payload), retain})
	return nil
}

func inbound(topic, payload string) *client.Inbound {
	return &client.Inbound{Publish: model.Publish{Topic: []byte(topic), Message: []byte(payload)}}
}

func TestHomeAssistant(t *testing.T) {
	t.Parallel()

	s := store.NewMemStore()
	d, err := New(Options{Outputs: 4, TopicBase: "minimq/dev", Store: s})
	require.NoError(t, err)
	assert.Equal(t, "minimq/dev/output/+/set", d.SubscribeTopic())

	d.HandlePublish(inbound("minimq/dev/output/02/set", "ON"))
	d.HandlePublish(inbound("minimq/dev/output/09/set", "ON"))
	d.HandlePublish(inbound("minimq/dev/output/03/set", "MAYBE"))
	d.HandlePublish(inbound("other/output/01/set", "ON"))
	assert.Equal(t, []bool{false, true, false, false}, d.Outputs())

	saved, _ := s.Load(4)
	assert.Equal(t, []bool{false, true, false, false}, saved)

	var p fakePublisher
	require.NoError(t, d.Flush(&p))
	assert.Equal(t, []pub{{"minimq/dev/output/02", "ON", true}}, p.pubs)

	d.HandlePublish(inbound("minimq/dev/output/all/set", "ON"))
	assert.Equal(t, []bool{true, true, true, true}, d.Outputs())
	assert.EqualValues(t, 5, d.Commands())
}

func TestDomoticz(t *testing.T) {
	t.Parallel()

	d, err := New(Options{Mode: Domoticz, Outputs: 8, TopicBase: "minimq/dev", IdxBase: 40})
	require.NoError(t, err)
	assert.Equal(t, "domoticz/out", d.SubscribeTopic())

	in := &client.Inbound{Idx: []byte("42"), NValue: []byte("1")}
	d.HandlePublish(in)
	assert.True(t, d.Outputs()[2])

	in = &client.Inbound{Idx: []byte("48"), NValue: []byte("1")}
	d.HandlePublish(in)
	in = &client.Inbound{Idx: []byte("39"), NValue: []byte("1")}
	d.HandlePublish(in)
	assert.Equal(t, []bool{false, false, true, false, false, false, false, false}, d.Outputs())

	in = &client.Inbound{Idx: []byte("42"), NValue: []byte("0")}
	d.HandlePublish(in)
	assert.False(t, d.Outputs()[2])
}

func TestFlushKeepsPendingWhenFull(t *testing.T) {
	t.Parallel()

	d, err := New(Options{Outputs: 3, TopicBase: "b"})
	require.NoError(t, err)
	d.Announce()

	p := fakePublisher{limit: true, room: 2}
	require.NoError(t, d.Flush(&p))
	require.Len(t, p.pubs, 2)
	assert.Equal(t, pub{"b/availability", "online", true}, p.pubs[0])
	assert.Equal(t, pub{"b/output/01", "OFF", true}, p.pubs[1])

	p.room = 10
	require.NoError(t, d.Flush(&p))
	require.Len(t, p.pubs, 4)
	assert.Equal(t, "b/output/02", p.pubs[2].topic)
	assert.Equal(t, "b/output/03", p.pubs[3].topic)

	require.NoError(t, d.Flush(&p))
	assert.Len(t, p.pubs, 4)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Outputs: 0, TopicBase: "b"})
	require.Error(t, err)
	_, err = New(Options{Outputs: 17, TopicBase: "b"})
	require.Error(t, err)
	_, err = New(Options{Outputs: 1, TopicBase: "b", Mode: "x"})
	require.Error(t, err)
	_, err = New(Options{Outputs: 1})
	require.Error(t, err)
}
