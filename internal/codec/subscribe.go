package codec

import "github.com/RoanBrand/minimq/internal/model"

// SubscribeRequest is a single topic filter SUBSCRIBE.
type SubscribeRequest struct {
	PacketID uint16
	Topic    string
	MaxQoS   uint8
}

// SubackResponse is a decoded SUBACK. ReturnCodes aliases the input buffer.
type SubackResponse struct {
	PacketID    uint16
	ReturnCodes []byte
}

// PackSubscribeRequest writes a SUBSCRIBE frame for one topic filter into buf.
func PackSubscribeRequest(buf []byte, pid uint16, topic string, maxQoS uint8) (int, error) {
	if topic == "" || maxQoS > 2 || pid == 0 { // [MQTT-3.8.3-3, 3-4] [MQTT-2.3.1-1]
		return 0, model.ErrMalformedRequest
	}
	ts, err := strSize(topic)
	if err != nil {
		return 0, err
	}

	i, err := PackFixedHeader(buf, FixedHeader{Type: model.SUBSCRIBE, Flags: 0x02, RemainingLength: uint32(2 + ts + 1)})
	if i == 0 || err != nil {
		return 0, err
	}

	i += PackUint16(buf[i:], pid)
	i += PackStr(buf[i:], topic)
	buf[i] = maxQoS
	return i + 1, nil
}

// UnpackSubscribeRequest decodes a whole SUBSCRIBE frame carrying one topic filter.
func UnpackSubscribeRequest(buf []byte) (SubscribeRequest, int, error) {
	var r SubscribeRequest
	h, n, err := UnpackFixedHeader(buf)
	if n == 0 || err != nil {
		return r, 0, err
	}
	rl := int(h.RemainingLength)
	if h.Type != model.SUBSCRIBE || rl < 6 {
		return r, 0, model.ErrMalformedRequest
	}

	p := buf[n : n+rl]
	r.PacketID = UnpackUint16(p)
	topic, l, err := unpackStr(p[2:])
	if err != nil || len(topic) == 0 || 2+l+1 != rl {
		return r, 0, model.ErrMalformedRequest
	}
	r.Topic = string(topic)
	r.MaxQoS = p[2+l]
	if r.MaxQoS&0xFC != 0 { // [MQTT-3.8.3-4]
		return r, 0, model.ErrMalformedRequest
	}
	return r, n + rl, nil
}

// PackSubackResponse writes a SUBACK frame into buf.
func PackSubackResponse(buf []byte, pid uint16, codes []byte) (int, error) {
	if len(codes) == 0 {
		return 0, model.ErrMalformedRequest
	}
	i, err := PackFixedHeader(buf, FixedHeader{Type: model.SUBACK, RemainingLength: uint32(2 + len(codes))})
	if i == 0 || err != nil {
		return 0, err
	}
	i += PackUint16(buf[i:], pid)
	i += copy(buf[i:], codes)
	return i, nil
}

// UnpackSubackResponse decodes the body of a SUBACK frame whose header is h.
func UnpackSubackResponse(h FixedHeader, body []byte) (SubackResponse, int, error) {
	var r SubackResponse
	rl := int(h.RemainingLength)
	if rl < 3 || len(body) < rl {
		return r, 0, model.ErrMalformedResponse
	}
	r.PacketID = UnpackUint16(body)
	r.ReturnCodes = body[2:rl]
	return r, rl, nil
}
