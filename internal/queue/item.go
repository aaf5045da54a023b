package queue

import (
	"encoding/binary"

	"github.com/RoanBrand/minimq/internal/model"
)

// RecordSize is the arena space taken by one message record.
const RecordSize = 12

// State of a queued message.
type State uint8

const (
	Unsent State = iota
	AwaitingAck
	Complete
)

func (s State) String() string {
	switch s {
	case Unsent:
		return "unsent"
	case AwaitingAck:
		return "awaiting ack"
	case Complete:
		return "complete"
	}
	return "invalid"
}

// Message describes one frame stored in the arena.
type Message struct {
	Start, Size uint16
	State       State
	Type        model.ControlType
	PacketID    uint16 // 0 when the frame carries none

	// tick of the last transmission
	TimeSent uint32
}

// record layout: start(2) size(2) state(1) type(1) pid(2) timeSent(4)
func (m *Message) put(r []byte) {
	binary.BigEndian.PutUint16(r[0:], m.Start)
	binary.BigEndian.PutUint16(r[2:], m.Size)
	r[4], r[5] = byte(m.State), byte(m.Type)
	binary.BigEndian.PutUint16(r[6:], m.PacketID)
	binary.BigEndian.PutUint32(r[8:], m.TimeSent)
}

func (m *Message) get(r []byte) {
	m.Start = binary.BigEndian.Uint16(r[0:])
	m.Size = binary.BigEndian.Uint16(r[2:])
	m.State, m.Type = State(r[4]), model.ControlType(r[5])
	m.PacketID = binary.BigEndian.Uint16(r[6:])
	m.TimeSent = binary.BigEndian.Uint32(r[8:])
}
