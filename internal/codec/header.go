// Package codec packs and unpacks MQTT v3.1.1 frames to and from caller owned buffers.
// Nothing in here allocates on the pack side; unpacked byte fields alias the input buffer.
//
// Pack functions return (0, nil) when the destination buffer cannot hold the whole frame,
// which callers treat as "send buffer full" rather than as a protocol error.
// Unpack functions return (_, 0, nil) when the input does not yet hold a whole frame.
package codec

import "github.com/RoanBrand/minimq/internal/model"

// FixedHeader is the first 2 to 5 bytes of every MQTT frame.
type FixedHeader struct {
	Type            model.ControlType
	Flags           uint8
	RemainingLength uint32
}

type typeRule struct {
	requiredFlags uint8
	mask          uint8
}

// [MQTT-2.2.2-1, 2-2] Missing types (0 and 15) are forbidden.
var typeRules = map[model.ControlType]typeRule{
	model.CONNECT:     {0x00, 0x0F},
	model.CONNACK:     {0x00, 0x0F},
	model.PUBLISH:     {0x00, 0x00},
	model.PUBACK:      {0x00, 0x0F},
	model.PUBREC:      {0x00, 0x0F},
	model.PUBREL:      {0x02, 0x0F},
	model.PUBCOMP:     {0x00, 0x0F},
	model.SUBSCRIBE:   {0x02, 0x0F},
	model.SUBACK:      {0x00, 0x0F},
	model.UNSUBSCRIBE: {0x02, 0x0F},
	model.UNSUBACK:    {0x00, 0x0F},
	model.PINGREQ:     {0x00, 0x0F},
	model.PINGRESP:    {0x00, 0x0F},
	model.DISCONNECT:  {0x00, 0x0F},
}

// CheckRules validates the control type and flags of h.
func CheckRules(h FixedHeader) error {
	r, ok := typeRules[h.Type]
	if !ok {
		return model.ErrControlForbiddenType
	}
	if (h.Flags^r.requiredFlags)&r.mask != 0 {
		return model.ErrControlInvalidFlags
	}
	return nil
}

// PackFixedHeader writes h into buf and returns the header size.
// buf must have room for the header and the RemainingLength bytes that follow it.
func PackFixedHeader(buf []byte, h FixedHeader) (int, error) {
	if err := CheckRules(h); err != nil {
		return 0, err
	}
	if h.RemainingLength > model.MaxRemainingLength {
		return 0, model.ErrInvalidRemainingLength
	}

	hl := 1 + model.LengthToNumberOfVariableLengthBytes(int(h.RemainingLength))
	if len(buf) < hl+int(h.RemainingLength) {
		return 0, nil
	}

	buf[0] = byte(h.Type)<<4 | h.Flags&0x0F
	rl, i := h.RemainingLength, 1
	for {
		eb := byte(rl & 0x7F)
		rl >>= 7
		if rl > 0 {
			eb |= 0x80
		}
		buf[i] = eb
		i++
		if rl == 0 {
			return i, nil
		}
	}
}

// UnpackFixedHeader decodes the fixed header at the start of buf.
// It only reports a header once the whole frame body is also present in buf.
func UnpackFixedHeader(buf []byte) (FixedHeader, int, error) {
	var h FixedHeader
	if len(buf) == 0 {
		return h, 0, nil
	}

	h.Type, h.Flags = model.ControlType(buf[0]>>4), buf[0]&0x0F
	i, shift := 1, uint(0)
	for {
		if shift == 28 {
			return h, 0, model.ErrInvalidRemainingLength
		}
		if i >= len(buf) {
			return h, 0, nil
		}
		eb := buf[i]
		i++
		h.RemainingLength += uint32(eb&0x7F) << shift
		shift += 7
		if eb&0x80 == 0 {
			break
		}
	}

	if err := CheckRules(h); err != nil {
		return h, 0, err
	}
	if uint32(len(buf)-i) < h.RemainingLength {
		return h, 0, nil
	}
	return h, i, nil
}

// FrameSize is the total wire size of a frame with remaining length rl.
func FrameSize(rl int) int {
	return 1 + model.LengthToNumberOfVariableLengthBytes(rl) + rl
}
