package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/RoanBrand/minimq/internal/model"
)

func TestRemainingLengthSizes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		rl     uint32
		hdrLen int
	}{
		{0, 2}, {127, 2}, {128, 3}, {16383, 3}, {16384, 4}, {2097151, 4}, {2097152, 5}, {268435455, 5},
	}

	for _, c := range cases {
		n, err := PackFixedHeader(make([]byte, 5), FixedHeader{Type: model.PUBLISH, RemainingLength: c.rl})
		if err != nil {
			t.Fatal(c.rl, err)
		}
		// buffer too small for the body, unless there is none
		if c.rl > 0 && n != 0 {
			t.Fatal(c.rl, n)
		}

		if got := 1 + model.LengthToNumberOfVariableLengthBytes(int(c.rl)); got != c.hdrLen {
			t.Fatal(c.rl, got)
		}
		if got := model.VariableLengthEncode(nil, int(c.rl)); len(got) != c.hdrLen-1 {
			t.Fatal(c.rl, got)
		}
		if c.rl > 16384 {
			continue
		}

		buf := make([]byte, c.hdrLen+int(c.rl))
		n, err = PackFixedHeader(buf, FixedHeader{Type: model.PUBLISH, RemainingLength: c.rl})
		if err != nil || n != c.hdrLen {
			t.Fatal(c.rl, n, err)
		}

		h, n, err := UnpackFixedHeader(buf)
		if err != nil || n != c.hdrLen || h.RemainingLength != c.rl || h.Type != model.PUBLISH {
			t.Fatal(c.rl, h, n, err)
		}
	}

	_, err := PackFixedHeader(make([]byte, 8), FixedHeader{Type: model.PUBLISH, RemainingLength: 268435456})
	if !errors.Is(err, model.ErrInvalidRemainingLength) {
		t.Fatal(err)
	}
}

func TestUnpackFixedHeaderIncomplete(t *testing.T) {
	t.Parallel()

	frame := []byte{0x30, 0x80, 0x01}
	for i := 0; i < len(frame); i++ {
		if _, n, err := UnpackFixedHeader(frame[:i]); n != 0 || err != nil {
			t.Fatal(i, n, err)
		}
	}
	// header complete but body missing
	if _, n, err := UnpackFixedHeader(frame); n != 0 || err != nil {
		t.Fatal(n, err)
	}

	_, _, err := UnpackFixedHeader([]byte{0x30, 0xFF, 0xFF, 0xFF, 0xFF, 0x01})
	if !errors.Is(err, model.ErrInvalidRemainingLength) {
		t.Fatal(err)
	}
}

func TestTypeRules(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 8)
	bad := []struct {
		h   FixedHeader
		err error
	}{
		{FixedHeader{Type: model.RESERVED}, model.ErrControlForbiddenType},
		{FixedHeader{Type: model.RESERVED15}, model.ErrControlForbiddenType},
		{FixedHeader{Type: model.SUBSCRIBE}, model.ErrControlInvalidFlags},
		{FixedHeader{Type: model.UNSUBSCRIBE, Flags: 0x03}, model.ErrControlInvalidFlags},
		{FixedHeader{Type: model.PUBREL, Flags: 0x00}, model.ErrControlInvalidFlags},
		{FixedHeader{Type: model.CONNECT, Flags: 0x01}, model.ErrControlInvalidFlags},
		{FixedHeader{Type: model.PINGREQ, Flags: 0x08}, model.ErrControlInvalidFlags},
	}
	for _, c := range bad {
		if _, err := PackFixedHeader(buf, c.h); !errors.Is(err, c.err) {
			t.Fatal(c.h, err)
		}
	}

	good := []FixedHeader{
		{Type: model.SUBSCRIBE, Flags: 0x02},
		{Type: model.PUBREL, Flags: 0x02},
		{Type: model.PUBLISH, Flags: 0x0F},
		{Type: model.DISCONNECT},
	}
	for _, h := range good {
		if n, err := PackFixedHeader(buf, h); n != 2 || err != nil {
			t.Fatal(h, n, err)
		}
	}

	// inbound check uses the same table
	if _, _, err := UnpackFixedHeader([]byte{0x80, 0x00}); !errors.Is(err, model.ErrControlInvalidFlags) {
		t.Fatal(err)
	}
	if _, _, err := UnpackFixedHeader([]byte{0xF0, 0x00}); !errors.Is(err, model.ErrControlForbiddenType) {
		t.Fatal(err)
	}
}

func TestConnectRoundTrip(t *testing.T) {
	t.Parallel()

	reqs := []ConnectRequest{
		{ClientID: "dev-1", KeepAlive: 60, CleanSession: true},
		{ClientID: "", KeepAlive: 0},
		{
			ClientID: "dev-2", KeepAlive: 30,
			WillTopic: "dev-2/availability", WillMessage: []byte("offline"), WillQoS: 1, WillRetain: true,
			UserName: "user", Password: "secret",
		},
	}

	for _, r := range reqs {
		buf := make([]byte, 128)
		n, err := PackConnectionRequest(buf, &r)
		if n == 0 || err != nil {
			t.Fatal(r, n, err)
		}
		if buf[0] != 0x10 {
			t.Fatal(buf[0])
		}

		got, m, err := UnpackConnectionRequest(buf[:n])
		if err != nil || m != n {
			t.Fatal(r, m, err)
		}
		if got.ClientID != r.ClientID || got.KeepAlive != r.KeepAlive || got.CleanSession != r.CleanSession ||
			got.WillTopic != r.WillTopic || !bytes.Equal(got.WillMessage, r.WillMessage) ||
			got.WillQoS != r.WillQoS || got.WillRetain != r.WillRetain ||
			got.UserName != r.UserName || got.Password != r.Password {
			t.Fatal(r, got)
		}
	}
}

func TestConnectExactBytes(t *testing.T) {
	t.Parallel()

	r := ConnectRequest{ClientID: "ab", KeepAlive: 10, CleanSession: true}
	exp := []byte{0x10, 14, 0, 4, 'M', 'Q', 'T', 'T', 4, 0x02, 0, 10, 0, 2, 'a', 'b'}

	buf := make([]byte, len(exp))
	n, err := PackConnectionRequest(buf, &r)
	if err != nil || !bytes.Equal(buf[:n], exp) {
		t.Fatal(buf[:n], err)
	}

	if n, err = PackConnectionRequest(buf[:len(exp)-1], &r); n != 0 || err != nil {
		t.Fatal(n, err)
	}

	if _, err = PackConnectionRequest(buf, &ConnectRequest{ClientID: "x", Password: "p"}); !errors.Is(err, model.ErrMalformedRequest) {
		t.Fatal(err)
	}
}

func TestPublishRoundTrip(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 64)
	n, err := PackPublishRequest(buf, "a/b", []byte("hello"), model.PublishRetain|model.PublishDup)
	if err != nil || n != 2+2+3+5 {
		t.Fatal(n, err)
	}
	if buf[0] != 0x31 {
		t.Fatal(buf[0])
	}

	r, m, err := UnpackResponse(buf[:n])
	if err != nil || m != n {
		t.Fatal(m, err)
	}
	p := r.Publish
	if r.Header.Type != model.PUBLISH || !p.Retain || p.Dup || p.QoS != 0 ||
		string(p.Topic) != "a/b" || string(p.Message) != "hello" {
		t.Fatal(p)
	}

	if _, err = PackPublishRequest(buf, "a", nil, 0x02); !errors.Is(err, model.ErrMalformedRequest) {
		t.Fatal(err)
	}
	if _, err = PackPublishRequest(buf, "", nil, 0); !errors.Is(err, model.ErrMalformedRequest) {
		t.Fatal(err)
	}
}

func TestUnpackPublishResponse(t *testing.T) {
	t.Parallel()

	// smallest legal body
	r, n, err := UnpackResponse([]byte{0x30, 4, 0, 1, 'd', '}'})
	if err != nil || n != 6 || string(r.Publish.Topic) != "d" || string(r.Publish.Message) != "}" {
		t.Fatal(r, n, err)
	}

	// QoS 1 carries a packet id
	r, _, err = UnpackResponse([]byte{0x32, 6, 0, 1, 't', 0x12, 0x34, 'x'})
	if err != nil || r.Publish.QoS != 1 || r.Publish.PacketID != 0x1234 || string(r.Publish.Message) != "x" {
		t.Fatal(r, err)
	}

	bad := [][]byte{
		{0x30, 3, 0, 1, 'a'},
		{0x30, 4, 0, 9, 'a', 'b'},
		{0x32, 4, 0, 1, 'a', 0},
	}
	for _, b := range bad {
		if _, _, err = UnpackResponse(b); !errors.Is(err, model.ErrMalformedResponse) {
			t.Fatal(b, err)
		}
	}
}

func TestSubscribeRoundTrip(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 32)
	n, err := PackSubscribeRequest(buf, 0xBEEF, "dev/+/set", 1)
	if err != nil || n != 2+2+2+9+1 {
		t.Fatal(n, err)
	}
	if buf[0] != 0x82 {
		t.Fatal(buf[0])
	}

	r, m, err := UnpackSubscribeRequest(buf[:n])
	if err != nil || m != n || r.PacketID != 0xBEEF || r.Topic != "dev/+/set" || r.MaxQoS != 1 {
		t.Fatal(r, m, err)
	}

	if _, err = PackSubscribeRequest(buf, 0, "a", 0); !errors.Is(err, model.ErrMalformedRequest) {
		t.Fatal(err)
	}
	if _, err = PackSubscribeRequest(buf, 1, "a", 3); !errors.Is(err, model.ErrMalformedRequest) {
		t.Fatal(err)
	}
}

func TestSubackRoundTrip(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 8)
	n, err := PackSubackResponse(buf, 7, []byte{model.SubackFailure})
	if err != nil || n != 5 {
		t.Fatal(n, err)
	}
	r, m, err := UnpackResponse(buf[:n])
	if err != nil || m != n || r.Suback.PacketID != 7 || len(r.Suback.ReturnCodes) != 1 || r.Suback.ReturnCodes[0] != 0x80 {
		t.Fatal(r, err)
	}

	if _, _, err = UnpackResponse([]byte{0x90, 2, 0, 7}); !errors.Is(err, model.ErrMalformedResponse) {
		t.Fatal(err)
	}
}

func TestConnack(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 4)
	n, err := PackConnackResponse(buf, true, model.ConnackRefusedIdentifierRejected)
	if err != nil || n != 4 {
		t.Fatal(n, err)
	}
	r, _, err := UnpackResponse(buf)
	if err != nil || !r.Connack.SessionPresent || r.Connack.ReturnCode != 2 {
		t.Fatal(r, err)
	}

	bad := []struct {
		b   []byte
		err error
	}{
		{[]byte{0x20, 3, 0, 0, 0}, model.ErrMalformedResponse},
		{[]byte{0x20, 2, 2, 0}, model.ErrConnackForbiddenFlags},
		{[]byte{0x20, 2, 0, 6}, model.ErrConnackForbiddenCode},
	}
	for _, c := range bad {
		if _, _, err = UnpackResponse(c.b); !errors.Is(err, c.err) {
			t.Fatal(c.b, err)
		}
	}
}

func TestEmptyFrames(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 2)
	pack := map[model.ControlType]func([]byte) (int, error){
		model.PINGREQ:    PackPingRequest,
		model.PINGRESP:   PackPingResponse,
		model.DISCONNECT: PackDisconnect,
	}
	for ct, f := range pack {
		n, err := f(buf)
		if err != nil || n != 2 || buf[0] != byte(ct)<<4 || buf[1] != 0 {
			t.Fatal(ct, n, err)
		}
		if n, err = f(buf[:1]); n != 0 || err != nil {
			t.Fatal(ct, n, err)
		}
	}

	if _, _, err := UnpackResponse([]byte{0xD0, 1, 0}); !errors.Is(err, model.ErrMalformedResponse) {
		t.Fatal(err)
	}
}
