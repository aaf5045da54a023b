package stream

import (
	"bytes"

	"github.com/RoanBrand/minimq/internal/model"
)

// DefaultMaxUnfiltered is the largest non PUBLISH remaining length Filter keeps.
const DefaultMaxUnfiltered = 59

type filterStep uint8

const (
	placeholder1 filterStep = iota
	placeholder2
	findComponentStart
	captureComponent
	filterComplete
)

var (
	idxPrefix    = []byte("\n\t\"idx\"")
	nvaluePrefix = []byte("\n\t\"nval")
)

// Filter never stores PUBLISH payloads. It scans them for the idx and nvalue
// components of a domoticz/out JSON document and hands the handler a 4 byte
// stand-in PUBLISH once the frame has been consumed. Other frames are copied
// whole, as long as they are small.
//
// The component offsets assume the producer's fixed formatting:
//
//	\n\t"idx" : 42,
//	\n\t"nvalue" : 1,
type Filter struct {
	scratch       []byte
	handle        FrameHandler
	maxUnfiltered int

	st      rxState
	n       int
	rl      lengthDecoder
	left    int
	dropped uint64

	step  filterStep
	parse [20]byte
	pi    int

	idx    [6]byte
	idxLen int
	nvalue [1]byte
	hasNV  bool
}

func NewFilter(scratch []byte, maxUnfiltered int, h FrameHandler) *Filter {
	if maxUnfiltered <= 0 {
		maxUnfiltered = DefaultMaxUnfiltered
	}
	return &Filter{scratch: scratch, handle: h, maxUnfiltered: maxUnfiltered}
}

// Idx is the idx component of the last filtered PUBLISH, empty if none was found.
func (f *Filter) Idx() []byte {
	return f.idx[:f.idxLen]
}

// NValue is the nvalue component of the last filtered PUBLISH, empty if none was found.
func (f *Filter) NValue() []byte {
	if !f.hasNV {
		return nil
	}
	return f.nvalue[:]
}

func (f *Filter) Reset() {
	f.st, f.n, f.left = controlAndFlags, 0, 0
	f.rl.reset()
	f.step, f.pi = placeholder1, 0
}

func (f *Filter) Dropped() uint64 {
	return f.dropped
}

func (f *Filter) publish() bool {
	return model.ControlType(f.scratch[0]>>4) == model.PUBLISH
}

func (f *Filter) Feed(rx []byte) error {
	l, i := len(rx), 0

	for i < l {
		switch f.st {
		case controlAndFlags:
			f.scratch[0], f.n = rx[i], 1
			f.rl.reset()
			f.idxLen, f.hasNV = 0, false
			f.step, f.pi = placeholder1, 0
			f.st = length
			i++
		case length:
			eb := rx[i]
			i++
			f.scratch[f.n] = eb
			f.n++

			done, err := f.rl.next(eb)
			if err != nil {
				f.Reset()
				return err
			}
			if !done {
				continue
			}

			f.left = int(f.rl.rl)
			switch {
			case f.publish() && f.left > 0:
				f.st = body
			case !f.publish() && (f.left > f.maxUnfiltered || f.n+f.left > len(f.scratch)):
				f.dropped++
				f.st = discard
			case f.left == 0:
				if err := f.deliver(); err != nil {
					return err
				}
			default:
				f.st = body
			}
		case body:
			if f.publish() {
				for i < l && f.left > 0 {
					f.scan(rx[i])
					i++
					f.left--
				}
				if f.left == 0 {
					if err := f.deliverPublish(); err != nil {
						return err
					}
				}
				continue
			}

			toRead := min(l-i, f.left)
			copy(f.scratch[f.n:], rx[i:i+toRead])
			f.n += toRead
			f.left -= toRead
			i += toRead

			if f.left == 0 {
				if err := f.deliver(); err != nil {
					return err
				}
			}
		case discard:
			toRead := min(l-i, f.left)
			f.left -= toRead
			i += toRead
			if f.left == 0 {
				f.Reset()
			}
		}
	}

	return nil
}

// scan advances the component search by one PUBLISH body byte.
func (f *Filter) scan(c byte) {
	switch f.step {
	case placeholder1: // topic length MSB
		f.step = placeholder2
	case placeholder2:
		f.step, f.pi = findComponentStart, 0
	case findComponentStart:
		if c == '\n' {
			f.parse[0], f.pi = c, 1
			f.step = captureComponent
		}
	case captureComponent:
		f.parse[f.pi] = c
		f.pi++

		if c == ',' {
			p := f.parse[:f.pi]
			switch {
			case bytes.HasPrefix(p, idxPrefix):
				f.idxLen = 0
				for k := 10; k < 16 && k < f.pi && p[k] != ','; k++ {
					f.idx[f.idxLen] = p[k]
					f.idxLen++
				}
			case bytes.HasPrefix(p, nvaluePrefix):
				if f.pi > 14 {
					f.nvalue[0], f.hasNV = p[13], true
				}
				f.step = filterComplete
				return
			}
			f.step, f.pi = findComponentStart, 0
			return
		}

		if f.pi == len(f.parse)-1 {
			f.step, f.pi = findComponentStart, 0
		}
	}
}

// deliverPublish hands over the stand-in frame: topic "d", payload "}".
func (f *Filter) deliverPublish() error {
	f.scratch[1], f.scratch[2], f.scratch[3], f.scratch[4], f.scratch[5] = 4, 0, 1, 'd', '}'
	f.n = 6
	return f.deliver()
}

func (f *Filter) deliver() error {
	frame := f.scratch[:f.n]
	f.st, f.n, f.left = controlAndFlags, 0, 0
	f.rl.reset()
	return f.handle(frame)
}
