// Package stream rebuilds whole MQTT frames from the arbitrary chunks a transport delivers.
//
// Frames are assembled into a caller supplied scratch buffer and handed to a FrameHandler.
// The frame slice aliases that buffer and must not be kept after the handler returns.
package stream

import (
	"fmt"

	"github.com/RoanBrand/minimq/internal/model"
)

// FrameHandler consumes one whole frame.
type FrameHandler func(frame []byte) error

// Reassembler turns a byte stream into frames. State carries over between Feed calls.
type Reassembler interface {
	// Feed consumes chunk, calling the handler for every frame completed in it.
	// The first handler error is returned and the rest of the chunk is dropped.
	Feed(chunk []byte) error
	// Reset drops any partially received frame.
	Reset()
	// Dropped counts frames skipped because they did not fit the scratch buffer.
	Dropped() uint64
}

// Strategy selects a Reassembler implementation.
type Strategy string

const (
	StrategyBatch  Strategy = "batch"
	StrategyFilter Strategy = "filter"
)

// MinScratch is the smallest usable scratch buffer.
const MinScratch = 8

// New builds the Reassembler for strategy s.
func New(s Strategy, scratch []byte, maxUnfiltered int, h FrameHandler) (Reassembler, error) {
	if len(scratch) < MinScratch || h == nil {
		return nil, model.ErrNullPtr
	}

	switch s {
	case StrategyBatch, "":
		return NewBatch(scratch, h), nil
	case StrategyFilter:
		return NewFilter(scratch, maxUnfiltered, h), nil
	}
	return nil, fmt.Errorf("unknown reassembly strategy %q", s)
}

type rxState uint8

const (
	controlAndFlags rxState = iota
	length
	body
	discard
)

// lengthDecoder accumulates a remaining length one byte at a time.
type lengthDecoder struct {
	rl    uint32
	shift uint
}

func (d *lengthDecoder) reset() {
	d.rl, d.shift = 0, 0
}

// next reports whether eb was the last remaining length byte.
func (d *lengthDecoder) next(eb byte) (bool, error) {
	d.rl += uint32(eb&0x7F) << d.shift
	d.shift += 7
	if eb&0x80 == 0 {
		return true, nil
	}
	if d.shift == 28 {
		return false, model.ErrInvalidRemainingLength
	}
	return false, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
