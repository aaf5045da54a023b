package model

// Publish is an inbound PUBLISH as decoded from the receive scratch buffer.
// Topic and Message alias that buffer and are only valid during the publish callback.
type Publish struct {
	Dup      bool
	QoS      uint8
	Retain   bool
	PacketID uint16 // only present for QoS > 0
	Topic    []byte
	Message  []byte
}
