package codec

import "github.com/RoanBrand/minimq/internal/model"

// ConnackResponse is a decoded CONNACK.
type ConnackResponse struct {
	SessionPresent bool
	ReturnCode     uint8
}

// PackConnackResponse writes a CONNACK frame into buf.
func PackConnackResponse(buf []byte, sessionPresent bool, returnCode uint8) (int, error) {
	if returnCode > model.ConnackRefusedNotAuthorized {
		return 0, model.ErrConnackForbiddenCode
	}
	i, err := PackFixedHeader(buf, FixedHeader{Type: model.CONNACK, RemainingLength: 2})
	if i == 0 || err != nil {
		return 0, err
	}
	buf[i] = 0
	if sessionPresent {
		buf[i] = 1
	}
	buf[i+1] = returnCode
	return i + 2, nil
}

// UnpackConnackResponse decodes the body of a CONNACK frame whose header is h.
func UnpackConnackResponse(h FixedHeader, body []byte) (ConnackResponse, int, error) {
	var r ConnackResponse
	if h.RemainingLength != 2 || len(body) < 2 {
		return r, 0, model.ErrMalformedResponse
	}
	if body[0]&0xFE != 0 { // [MQTT-3.2.2-1]
		return r, 0, model.ErrConnackForbiddenFlags
	}
	if body[1] > model.ConnackRefusedNotAuthorized {
		return r, 0, model.ErrConnackForbiddenCode
	}
	r.SessionPresent = body[0] == 1
	r.ReturnCode = body[1]
	return r, 2, nil
}

func packEmpty(buf []byte, t model.ControlType) (int, error) {
	return PackFixedHeader(buf, FixedHeader{Type: t})
}

// PackPingRequest writes a PINGREQ frame into buf.
func PackPingRequest(buf []byte) (int, error) {
	return packEmpty(buf, model.PINGREQ)
}

// PackPingResponse writes a PINGRESP frame into buf.
func PackPingResponse(buf []byte) (int, error) {
	return packEmpty(buf, model.PINGRESP)
}

// PackDisconnect writes a DISCONNECT frame into buf.
func PackDisconnect(buf []byte) (int, error) {
	return packEmpty(buf, model.DISCONNECT)
}
