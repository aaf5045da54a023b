package broker

import (
	"net"
	"sync"

	"github.com/RoanBrand/minimq/internal/model"
	log "github.com/sirupsen/logrus"
)

type session struct {
	conn        net.Conn
	clientId    string
	connectSent bool
	splitWrites bool

	txLock sync.Mutex

	rxState uint8
	packet  packet
}

type packet struct {
	controlType     model.ControlType
	flags           uint8
	remainingLength uint32
	lenMul          uint32
	raw             []byte // whole frame
}

func newSession(conn net.Conn, splitWrites bool) *session {
	return &session{conn: conn, splitWrites: splitWrites, packet: packet{raw: make([]byte, 0, 256)}}
}

func (s *session) writePacket(p []byte) error {
	s.txLock.Lock()
	defer s.txLock.Unlock()

	if !s.splitWrites {
		_, err := s.conn.Write(p)
		return err
	}
	for i := range p {
		if _, err := s.conn.Write(p[i : i+1]); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) sendPublish(topic string, payload []byte, retain bool) {
	p := publishPacket(topic, payload, retain)
	if p == nil {
		return
	}
	if err := s.writePacket(p); err != nil {
		log.WithFields(log.Fields{
			"client": s.clientId,
			"topic":  topic,
		}).Debug("Error forwarding PUBLISH: " + err.Error())
	}
}
