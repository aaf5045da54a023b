// Package queue is the outbound frame store of a client.
//
// It lives entirely in one caller supplied byte slice. Frame bytes grow up from offset 0
// and fixed size message records grow down from the end, so the two meet in the middle
// when the arena is full. Index 0 is always the oldest message.
package queue

import (
	"math"

	"github.com/RoanBrand/minimq/internal/model"
)

type Queue struct {
	buf   []byte
	front int // end of frame bytes
	n     int // messages held
}

// Init takes over buf as the arena. Arenas are limited to 65535 bytes.
func (q *Queue) Init(buf []byte) error {
	if buf == nil {
		return model.ErrNullPtr
	}
	if len(buf) > math.MaxUint16 {
		buf = buf[:math.MaxUint16]
	}
	q.buf = buf
	q.Reset()
	return nil
}

// Reset empties the queue.
func (q *Queue) Reset() {
	q.front, q.n = 0, 0
}

// Cap is the arena size.
func (q *Queue) Cap() int {
	return len(q.buf)
}

// Len is the number of messages held, in any state.
func (q *Queue) Len() int {
	return q.n
}

// CurrSize is the largest frame that can still be registered.
func (q *Queue) CurrSize() uint16 {
	free := len(q.buf) - q.front - q.n*RecordSize - RecordSize
	if free < 0 {
		return 0
	}
	return uint16(free)
}

// Free is where the next frame must be written before it is registered.
func (q *Queue) Free() []byte {
	return q.buf[q.front : q.front+int(q.CurrSize())]
}

func (q *Queue) record(i int) []byte {
	end := len(q.buf) - i*RecordSize
	return q.buf[end-RecordSize : end]
}

// Register takes ownership of the nbytes frame written at Free and returns its index.
// The control type is read from the frame itself. The queue is untouched on failure.
func (q *Queue) Register(nbytes int) (int, error) {
	if nbytes <= 0 {
		return -1, model.ErrMalformedRequest
	}
	if nbytes > int(q.CurrSize()) {
		return -1, model.ErrSendBufferIsFull
	}

	m := Message{
		Start: uint16(q.front),
		Size:  uint16(nbytes),
		State: Unsent,
		Type:  model.ControlType(q.buf[q.front] >> 4),
	}
	m.put(q.record(q.n))
	q.front += nbytes
	q.n++
	return q.n - 1, nil
}

// Get returns a copy of message i.
func (q *Queue) Get(i int) (m Message) {
	m.get(q.record(i))
	return
}

// Set overwrites message i. Start and Size must not change.
func (q *Queue) Set(i int, m Message) {
	m.put(q.record(i))
}

func (q *Queue) SetState(i int, s State) {
	q.record(i)[4] = byte(s)
}

// Frame returns the wire bytes of message i.
func (q *Queue) Frame(i int) []byte {
	m := q.Get(i)
	return q.buf[m.Start : m.Start+m.Size]
}

// Find returns the index of the oldest message of type ct matching pid, or -1.
// Without a pid it matches the oldest message of that type that is not Complete.
func (q *Queue) Find(ct model.ControlType, pid *uint16) int {
	var m Message
	for i := 0; i < q.n; i++ {
		m.get(q.record(i))
		if m.Type != ct {
			continue
		}
		if pid != nil {
			if m.PacketID == *pid {
				return i
			}
		} else if m.State != Complete {
			return i
		}
	}
	return -1
}

// HasPacketID reports whether any held message carries pid.
func (q *Queue) HasPacketID(pid uint16) bool {
	var m Message
	for i := 0; i < q.n; i++ {
		m.get(q.record(i))
		if m.PacketID == pid {
			return true
		}
	}
	return false
}

// Pending counts messages that are not Complete.
func (q *Queue) Pending() int {
	return q.n - q.Count(Complete)
}

// Count counts messages in state s.
func (q *Queue) Count(s State) (n int) {
	var m Message
	for i := 0; i < q.n; i++ {
		m.get(q.record(i))
		if m.State == s {
			n++
		}
	}
	return
}

// Clean drops the run of Complete messages at the old end of the queue and returns how many
// were dropped. A Complete message behind a pending one keeps its space until the pending one completes.
func (q *Queue) Clean() int {
	var m Message
	k := 0
	for ; k < q.n; k++ {
		m.get(q.record(k))
		if m.State != Complete {
			break
		}
	}

	switch k {
	case 0:
		return 0
	case q.n:
		q.Reset()
		return k
	}

	// m is the oldest survivor
	shift := int(m.Start)
	copy(q.buf, q.buf[shift:q.front])
	q.front -= shift

	top := len(q.buf)
	copy(q.buf[top-(q.n-k)*RecordSize:top], q.buf[top-q.n*RecordSize:top-k*RecordSize])
	q.n -= k

	for i := 0; i < q.n; i++ {
		r := q.record(i)
		m.get(r)
		m.Start -= uint16(shift)
		m.put(r)
	}
	return k
}
