package codec

import (
	"bytes"

	"github.com/RoanBrand/minimq/internal/model"
)

var protocolName = []byte{0, 4, 'M', 'Q', 'T', 'T'}

// ConnectRequest holds the CONNECT variable header and payload.
// Optional string fields are absent when empty.
type ConnectRequest struct {
	ClientID     string
	CleanSession bool
	KeepAlive    uint16 // seconds

	WillTopic   string
	WillMessage []byte
	WillQoS     uint8
	WillRetain  bool

	UserName string
	Password string
}

// Flags returns the CONNECT flags byte for r. The will flag is set iff a will topic is given.
func (r *ConnectRequest) Flags() uint8 {
	var f uint8
	if r.CleanSession {
		f |= model.ConnectCleanSession
	}
	if r.WillTopic != "" {
		f |= model.ConnectWillFlag | (r.WillQoS<<3)&model.ConnectWillQoSMask
		if r.WillRetain {
			f |= model.ConnectWillRetain
		}
	}
	if r.UserName != "" {
		f |= model.ConnectUserName
	}
	if r.Password != "" {
		f |= model.ConnectPassword
	}
	return f
}

func (r *ConnectRequest) remainingLength() (int, error) {
	if r.Password != "" && r.UserName == "" { // [MQTT-3.1.2-22]
		return 0, model.ErrMalformedRequest
	}
	if r.WillQoS > 2 || len(r.WillMessage) > 0xFFFF {
		return 0, model.ErrMalformedRequest
	}

	rl := 10
	fields := []string{r.ClientID}
	if r.WillTopic != "" {
		fields = append(fields, r.WillTopic)
		rl += 2 + len(r.WillMessage)
	}
	if r.UserName != "" {
		fields = append(fields, r.UserName)
	}
	if r.Password != "" {
		fields = append(fields, r.Password)
	}
	for _, f := range fields {
		n, err := strSize(f)
		if err != nil {
			return 0, err
		}
		rl += n
	}
	return rl, nil
}

// PackConnectionRequest writes a CONNECT frame into buf.
func PackConnectionRequest(buf []byte, r *ConnectRequest) (int, error) {
	rl, err := r.remainingLength()
	if err != nil {
		return 0, err
	}

	i, err := PackFixedHeader(buf, FixedHeader{Type: model.CONNECT, RemainingLength: uint32(rl)})
	if i == 0 || err != nil {
		return 0, err
	}

	i += copy(buf[i:], protocolName)
	buf[i] = model.ProtocolLevel
	buf[i+1] = r.Flags()
	i += 2
	i += PackUint16(buf[i:], r.KeepAlive)
	i += PackStr(buf[i:], r.ClientID)
	if r.WillTopic != "" {
		i += PackStr(buf[i:], r.WillTopic)
		i += packBytes(buf[i:], r.WillMessage)
	}
	if r.UserName != "" {
		i += PackStr(buf[i:], r.UserName)
	}
	if r.Password != "" {
		i += PackStr(buf[i:], r.Password)
	}
	return i, nil
}

// UnpackConnectionRequest decodes a whole CONNECT frame.
// The returned request copies its fields out of buf.
func UnpackConnectionRequest(buf []byte) (ConnectRequest, int, error) {
	var r ConnectRequest
	h, n, err := UnpackFixedHeader(buf)
	if n == 0 || err != nil {
		return r, 0, err
	}
	if h.Type != model.CONNECT {
		return r, 0, model.ErrMalformedRequest
	}

	p := buf[n : n+int(h.RemainingLength)]
	if len(p) < 12 || !bytes.Equal(p[:6], protocolName) || p[6] != model.ProtocolLevel {
		return r, 0, model.ErrMalformedRequest
	}
	flags := p[7]
	if flags&model.ConnectReserved != 0 { // [MQTT-3.1.2-3]
		return r, 0, model.ErrMalformedRequest
	}
	r.CleanSession = flags&model.ConnectCleanSession != 0
	r.KeepAlive = UnpackUint16(p[8:])

	offs := 10
	next := func() ([]byte, bool) {
		s, l, err := unpackStr(p[offs:])
		if err != nil {
			return nil, false
		}
		offs += l
		return s, true
	}

	id, ok := next()
	if !ok {
		return r, 0, model.ErrMalformedRequest
	}
	r.ClientID = string(id)

	if flags&model.ConnectWillFlag != 0 {
		wt, ok1 := next()
		wm, ok2 := next()
		if !ok1 || !ok2 {
			return r, 0, model.ErrMalformedRequest
		}
		r.WillTopic = string(wt)
		r.WillMessage = append([]byte(nil), wm...)
		r.WillQoS = (flags & model.ConnectWillQoSMask) >> 3
		r.WillRetain = flags&model.ConnectWillRetain != 0
	} else if flags&(model.ConnectWillQoSMask|model.ConnectWillRetain) != 0 { // [MQTT-3.1.2-11, 2-13, 2-15]
		return r, 0, model.ErrMalformedRequest
	}

	if flags&model.ConnectUserName != 0 {
		u, ok := next()
		if !ok {
			return r, 0, model.ErrMalformedRequest
		}
		r.UserName = string(u)
	}
	if flags&model.ConnectPassword != 0 {
		if flags&model.ConnectUserName == 0 {
			return r, 0, model.ErrMalformedRequest
		}
		pw, ok := next()
		if !ok {
			return r, 0, model.ErrMalformedRequest
		}
		r.Password = string(pw)
	}

	if offs != len(p) {
		return r, 0, model.ErrMalformedRequest
	}
	return r, n + offs, nil
}
