// Package broker is a small QoS 0 MQTT v3.1.1 broker. It backs the integration tests
// of the device client and can be told to misbehave in the ways a real broker might.
package broker

import (
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/RoanBrand/minimq/internal/codec"
	log "github.com/sirupsen/logrus"
)

type Options struct {
	// ConnackCode is returned to every CONNECT.
	ConnackCode uint8
	// RefuseSubscriptions answers every SUBSCRIBE with a failure return code.
	RefuseSubscriptions bool
	// IgnorePings drops PINGREQ without answering.
	IgnorePings bool
	// SplitWrites writes every outbound frame one byte at a time.
	SplitWrites bool
}

// Message is a PUBLISH received from a client.
type Message struct {
	ClientID string
	Topic    string
	Payload  []byte
	Retain   bool
}

type Server struct {
	opts Options
	l    net.Listener
	errs chan error

	sesLock  sync.Mutex
	sessions map[string]*session

	subLock       sync.RWMutex
	subscriptions topicTree
	retained      map[string][]byte

	published chan Message
	pings     atomic.Int64
}

func NewServer(address string, opts Options) (*Server, error) {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}

	s := Server{
		opts:          opts,
		l:             l,
		errs:          make(chan error, 1),
		sessions:      make(map[string]*session, 4),
		subscriptions: make(topicTree, 4),
		retained:      make(map[string][]byte, 4),
		published:     make(chan Message, 64),
	}

	go s.startDispatcher()
	return &s, nil
}

func (s *Server) Addr() string {
	return s.l.Addr().String()
}

// Published delivers PUBLISH messages received from clients. Messages are dropped when nobody reads.
func (s *Server) Published() <-chan Message {
	return s.published
}

// Pings counts PINGREQ packets received.
func (s *Server) Pings() int64 {
	return s.pings.Load()
}

// Connected reports whether a session with clientID is up.
func (s *Server) Connected(clientID string) bool {
	s.sesLock.Lock()
	defer s.sesLock.Unlock()
	_, ok := s.sessions[clientID]
	return ok
}

// Subscribed reports whether clientID holds topic filter.
func (s *Server) Subscribed(clientID, filter string) bool {
	s.sesLock.Lock()
	ses, ok := s.sessions[clientID]
	s.sesLock.Unlock()
	if !ok {
		return false
	}

	s.subLock.RLock()
	defer s.subLock.RUnlock()
	l := s.subscriptions
	var tl *topicLevel
	for _, level := range strings.Split(filter, "/") {
		if tl, ok = l[level]; !ok {
			return false
		}
		l = tl.children
	}
	_, ok = tl.subscribers[ses]
	return ok
}

// Kick drops the connection of clientID, as a broker restart would.
func (s *Server) Kick(clientID string) {
	s.sesLock.Lock()
	ses, ok := s.sessions[clientID]
	s.sesLock.Unlock()
	if ok {
		ses.conn.Close()
	}
}

func (s *Server) Stop() error {
	log.Info("Shutting down MQTT server")
	err := s.l.Close()

	s.sesLock.Lock()
	for _, ses := range s.sessions {
		ses.conn.Close()
	}
	s.sesLock.Unlock()
	return err
}

func (s *Server) startDispatcher() {
	for {
		conn, err := s.l.Accept()
		if err != nil {
			if strings.Contains(err.Error(), "use of closed") {
				err = nil
			}
			s.errs <- err
			return
		}

		go s.startSession(conn)
	}
}

func (s *Server) startSession(conn net.Conn) {
	ses := newSession(conn, s.opts.SplitWrites)
	defer func() {
		conn.Close()
		s.removeSession(ses)
	}()

	rx := make([]byte, 1024)
	for {
		n, err := conn.Read(rx)
		if err != nil {
			return
		}
		if err = s.parseStream(ses, rx[:n]); err != nil {
			if err != errCleanExit {
				log.WithFields(log.Fields{
					"client": ses.clientId,
				}).Debug(err)
			}
			return
		}
	}
}

func (s *Server) addSession(ses *session) {
	log.WithFields(log.Fields{
		"client": ses.clientId,
	}).Info("New session")

	s.sesLock.Lock()
	if old, ok := s.sessions[ses.clientId]; ok { // [MQTT-3.1.4-2]
		old.conn.Close()
		s.removeClientSubscriptions(old)
	}
	s.sessions[ses.clientId] = ses
	s.sesLock.Unlock()
}

func (s *Server) removeSession(ses *session) {
	s.sesLock.Lock()
	defer s.sesLock.Unlock()
	// check if another new session has not taken over already
	if cur, ok := s.sessions[ses.clientId]; !ok || cur != ses {
		return
	}

	s.removeClientSubscriptions(ses)
	delete(s.sessions, ses.clientId)
}

// Publish sends a message to all matching subscribers as if a client had published it.
func (s *Server) Publish(topic string, payload []byte, retain bool) {
	s.matchSubscriptions(topic, payload, retain)
}

type topicLevel struct {
	children    topicTree
	subscribers map[*session]uint8 // session -> QoS level
}

type topicTree map[string]*topicLevel // level -> sub levels

func (s *Server) removeClientSubscriptions(ses *session) {
	var unSub func(topicTree)
	unSub = func(l topicTree) {
		for _, tl := range l {
			delete(tl.subscribers, ses)
			unSub(tl.children)
		}
	}

	s.subLock.Lock()
	unSub(s.subscriptions)
	s.subLock.Unlock()
}

// Add subscription for session and forward matching retained messages.
func (s *Server) addSubscription(ses *session, filter string, qos uint8) {
	s.subLock.Lock()
	l := s.subscriptions
	var tl *topicLevel
	var ok bool
	for _, level := range strings.Split(filter, "/") {
		if tl, ok = l[level]; !ok {
			tl = &topicLevel{children: make(topicTree, 1), subscribers: make(map[*session]uint8, 1)}
			l[level] = tl
		}
		l = tl.children
	}
	tl.subscribers[ses] = qos

	retained := make(map[string][]byte)
	for topic, payload := range s.retained {
		if topicMatch(filter, topic) {
			retained[topic] = payload
		}
	}
	s.subLock.Unlock()

	for topic, payload := range retained {
		ses.sendPublish(topic, payload, true)
	}
}

// Match published message topic to all subscribers, and forward.
// Also store pub if retained message.
func (s *Server) matchSubscriptions(topic string, payload []byte, retain bool) {
	levels := strings.Split(topic, "/")
	targets := make(map[*session]struct{})

	forward := func(tl *topicLevel) {
		for ses := range tl.subscribers {
			targets[ses] = struct{}{}
		}
	}

	var matchLevel func(topicTree, int)
	matchLevel = func(l topicTree, n int) {
		// direct match
		if nl, ok := l[levels[n]]; ok {
			if n < len(levels)-1 {
				matchLevel(nl.children, n+1)
			} else {
				forward(nl)
				if nl, ok := nl.children["#"]; ok { // # match - next level
					forward(nl)
				}
			}
		}

		// # match
		if nl, ok := l["#"]; ok {
			forward(nl)
		}

		// + match
		if nl, ok := l["+"]; ok {
			if n < len(levels)-1 {
				matchLevel(nl.children, n+1)
			} else {
				forward(nl)
				if nl, ok := nl.children["#"]; ok {
					forward(nl)
				}
			}
		}
	}

	if retain {
		s.subLock.Lock()
		if len(payload) == 0 {
			delete(s.retained, topic)
		} else {
			s.retained[topic] = append([]byte(nil), payload...)
		}
		s.subLock.Unlock()
	}

	s.subLock.RLock()
	matchLevel(s.subscriptions, 0)
	s.subLock.RUnlock()

	for ses := range targets {
		ses.sendPublish(topic, payload, false)
	}
}

// topicMatch reports whether topic matches filter, wildcards included.
func topicMatch(filter, topic string) bool {
	f, t := strings.Split(filter, "/"), strings.Split(topic, "/")
	for i, fl := range f {
		if fl == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if fl != "+" && fl != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}

func pack(f func(buf []byte) (int, error), size int) []byte {
	buf := make([]byte, size)
	n, err := f(buf)
	if err != nil || n == 0 {
		return nil
	}
	return buf[:n]
}

func publishPacket(topic string, payload []byte, retain bool) []byte {
	var flags uint8
	if retain {
		flags = 0x01
	}
	return pack(func(buf []byte) (int, error) {
		return codec.PackPublishRequest(buf, topic, payload, flags)
	}, codec.FrameSize(2+len(topic)+len(payload)))
}
