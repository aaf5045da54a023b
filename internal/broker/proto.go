package broker

import (
	"errors"

	"github.com/RoanBrand/minimq/internal/codec"
	"github.com/RoanBrand/minimq/internal/model"
	log "github.com/sirupsen/logrus"
)

var errCleanExit = errors.New("cleanExit")

func protocolViolation(msg string) error {
	return errors.New("client protocol violation: " + msg)
}

const (
	controlAndFlags = iota
	length
	payload
)

func (s *Server) parseStream(ses *session, rx []byte) error {
	p, l := &ses.packet, uint32(len(rx))
	var i uint32

	for i < l {
		switch ses.rxState {
		case controlAndFlags:
			p.controlType, p.flags = model.ControlType(rx[i]>>4), rx[i]&0x0F
			if err := codec.CheckRules(codec.FixedHeader{Type: p.controlType, Flags: p.flags}); err != nil { // [MQTT-2.2.2-1, 2-2]
				return protocolViolation(err.Error())
			}

			// handle first and only connect
			if ses.connectSent {
				if p.controlType == model.CONNECT { // [MQTT-3.1.0-2]
					return protocolViolation("second CONNECT packet")
				}
			} else if p.controlType != model.CONNECT { // [MQTT-3.1.0-1]
				return protocolViolation("first packet not CONNECT")
			}

			p.raw = append(p.raw[:0], rx[i])
			p.lenMul = 1
			p.remainingLength = 0
			ses.rxState = length
			i++
		case length:
			p.raw = append(p.raw, rx[i])
			p.remainingLength += uint32(rx[i]&127) * p.lenMul
			if rx[i]&128 != 0 && p.lenMul == 128*128*128 {
				return protocolViolation("malformed remaining length")
			}
			p.lenMul *= 128

			if rx[i]&128 == 0 {
				if p.remainingLength == 0 {
					ses.rxState = controlAndFlags
					if err := s.handlePacket(ses); err != nil {
						return err
					}
				} else {
					ses.rxState = payload
				}
			}
			i++
		case payload:
			avail := l - i
			toRead := p.remainingLength
			if avail < toRead {
				toRead = avail
			}

			p.raw = append(p.raw, rx[i:i+toRead]...)
			p.remainingLength -= toRead
			i += toRead

			if p.remainingLength == 0 {
				ses.rxState = controlAndFlags
				if err := s.handlePacket(ses); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func (s *Server) handlePacket(ses *session) error {
	p := &ses.packet
	switch p.controlType {
	case model.CONNECT:
		return s.handleConnect(ses)
	case model.PUBLISH:
		return s.handlePublish(ses)
	case model.SUBSCRIBE:
		return s.handleSubscribe(ses)
	case model.PINGREQ:
		s.pings.Add(1)
		if s.opts.IgnorePings {
			return nil
		}
		return ses.writePacket(pack(codec.PackPingResponse, 2))
	case model.DISCONNECT:
		log.WithFields(log.Fields{
			"client": ses.clientId,
		}).Debug("Got DISCONNECT packet")
		return errCleanExit
	}
	return protocolViolation("unsupported packet " + p.controlType.String())
}

func (s *Server) handleConnect(ses *session) error {
	req, _, err := codec.UnpackConnectionRequest(ses.packet.raw)
	if err != nil {
		return protocolViolation("malformed CONNECT: " + err.Error())
	}

	ses.clientId = req.ClientID
	if ses.clientId == "" {
		ses.clientId = ses.conn.RemoteAddr().String()
	}

	connack := pack(func(buf []byte) (int, error) {
		return codec.PackConnackResponse(buf, false, s.opts.ConnackCode)
	}, 4)
	if err := ses.writePacket(connack); err != nil {
		return err
	}
	if s.opts.ConnackCode != model.ConnackAccepted { // [MQTT-3.2.2-5]
		return errCleanExit
	}

	ses.connectSent = true
	s.addSession(ses)
	return nil
}

func (s *Server) handlePublish(ses *session) error {
	p := &ses.packet
	h, n, err := codec.UnpackFixedHeader(p.raw)
	if err != nil || n == 0 {
		return protocolViolation("malformed PUBLISH")
	}
	pub, _, err := codec.UnpackPublishResponse(h, p.raw[n:])
	if err != nil {
		return protocolViolation("malformed PUBLISH: " + err.Error())
	}
	if pub.QoS > 0 {
		return protocolViolation("only QoS 0 PUBLISH supported")
	}

	topic, payload := string(pub.Topic), append([]byte(nil), pub.Message...)
	if log.IsLevelEnabled(log.DebugLevel) {
		log.WithFields(log.Fields{
			"client":  ses.clientId,
			"topic":   topic,
			"payload": string(payload),
			"retain":  pub.Retain,
		}).Debug("Got PUBLISH packet")
	}

	select {
	case s.published <- Message{ClientID: ses.clientId, Topic: topic, Payload: payload, Retain: pub.Retain}:
	default:
	}

	s.matchSubscriptions(topic, payload, pub.Retain)
	return nil
}

func (s *Server) handleSubscribe(ses *session) error {
	req, _, err := codec.UnpackSubscribeRequest(ses.packet.raw)
	if err != nil {
		return protocolViolation("malformed SUBSCRIBE: " + err.Error())
	}

	log.WithFields(log.Fields{
		"client": ses.clientId,
		"topic":  req.Topic,
	}).Debug("Got SUBSCRIBE packet")

	code := uint8(0) // only QoS 0 is granted
	if s.opts.RefuseSubscriptions {
		code = model.SubackFailure
	}

	suback := pack(func(buf []byte) (int, error) {
		return codec.PackSubackResponse(buf, req.PacketID, []byte{code})
	}, 5)
	if err := ses.writePacket(suback); err != nil { // [MQTT-3.8.4-1]
		return err
	}

	if code != model.SubackFailure {
		s.addSubscription(ses, req.Topic, code)
	}
	return nil
}
