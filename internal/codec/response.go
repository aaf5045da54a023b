package codec

import "github.com/RoanBrand/minimq/internal/model"

// Response is any frame a broker sends to a client.
// Only the member matching Header.Type is filled in.
type Response struct {
	Header  FixedHeader
	Connack ConnackResponse
	Publish model.Publish
	Suback  SubackResponse
}

// UnpackResponse decodes one whole frame from the start of buf and returns the frame size.
// Types other than CONNACK, PUBLISH, SUBACK and PINGRESP are returned with the header only.
func UnpackResponse(buf []byte) (Response, int, error) {
	var r Response
	h, n, err := UnpackFixedHeader(buf)
	if n == 0 || err != nil {
		return r, 0, err
	}
	r.Header = h

	rl := int(h.RemainingLength)
	body := buf[n : n+rl]
	switch h.Type {
	case model.CONNACK:
		r.Connack, _, err = UnpackConnackResponse(h, body)
	case model.PUBLISH:
		r.Publish, _, err = UnpackPublishResponse(h, body)
	case model.SUBACK:
		r.Suback, _, err = UnpackSubackResponse(h, body)
	case model.PINGRESP:
		if rl != 0 {
			err = model.ErrMalformedResponse
		}
	}
	if err != nil {
		return r, 0, err
	}
	return r, n + rl, nil
}
