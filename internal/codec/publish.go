package codec

import "github.com/RoanBrand/minimq/internal/model"

// PackPublishRequest writes a QoS 0 PUBLISH frame into buf.
// flags may only carry the retain bit; DUP is cleared.
func PackPublishRequest(buf []byte, topic string, payload []byte, flags uint8) (int, error) {
	flags &^= model.PublishDup
	if flags&model.PublishQoSMask != 0 || topic == "" {
		return 0, model.ErrMalformedRequest
	}
	ts, err := strSize(topic)
	if err != nil {
		return 0, err
	}

	rl := ts + len(payload)
	if rl > model.MaxRemainingLength {
		return 0, model.ErrInvalidRemainingLength
	}
	i, err := PackFixedHeader(buf, FixedHeader{Type: model.PUBLISH, Flags: flags, RemainingLength: uint32(rl)})
	if i == 0 || err != nil {
		return 0, err
	}

	i += PackStr(buf[i:], topic)
	i += copy(buf[i:], payload)
	return i, nil
}

// UnpackPublishResponse decodes the body of a PUBLISH frame whose header is h.
// body must hold at least h.RemainingLength bytes. Topic and Message alias body.
func UnpackPublishResponse(h FixedHeader, body []byte) (model.Publish, int, error) {
	var p model.Publish
	rl := int(h.RemainingLength)
	if rl < 4 || len(body) < rl {
		return p, 0, model.ErrMalformedResponse
	}

	p.Dup = h.Flags&model.PublishDup != 0
	p.QoS = (h.Flags & model.PublishQoSMask) >> 1
	p.Retain = h.Flags&model.PublishRetain != 0

	topic, i, err := unpackStr(body[:rl])
	if err != nil {
		return p, 0, err
	}
	p.Topic = topic

	if p.QoS > 0 {
		if i+2 > rl {
			return p, 0, model.ErrMalformedResponse
		}
		p.PacketID = UnpackUint16(body[i:])
		i += 2
	}

	p.Message = body[i:rl]
	return p, rl, nil
}
