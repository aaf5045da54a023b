package model

// ControlType is the 4 bit MQTT control packet type in the upper half of the first header byte.
type ControlType uint8

// Control Packets
const (
	RESERVED ControlType = iota
	CONNECT
	CONNACK
	PUBLISH
	PUBACK
	PUBREC
	PUBREL
	PUBCOMP
	SUBSCRIBE
	SUBACK
	UNSUBSCRIBE
	UNSUBACK
	PINGREQ
	PINGRESP
	DISCONNECT
	RESERVED15
)

var controlTypeNames = [...]string{
	"RESERVED", "CONNECT", "CONNACK", "PUBLISH", "PUBACK", "PUBREC", "PUBREL", "PUBCOMP",
	"SUBSCRIBE", "SUBACK", "UNSUBSCRIBE", "UNSUBACK", "PINGREQ", "PINGRESP", "DISCONNECT", "RESERVED",
}

func (t ControlType) String() string {
	if int(t) < len(controlTypeNames) {
		return controlTypeNames[t]
	}
	return "INVALID"
}

// PUBLISH fixed header flags.
const (
	PublishDup     = 0x08
	PublishQoSMask = 0x06
	PublishRetain  = 0x01
)

// CONNECT variable header flags.
const (
	ConnectReserved     = 0x01
	ConnectCleanSession = 0x02
	ConnectWillFlag     = 0x04
	ConnectWillQoSMask  = 0x18
	ConnectWillRetain   = 0x20
	ConnectPassword     = 0x40
	ConnectUserName     = 0x80
)

const ProtocolLevel = 4 // v3.1.1

// CONNACK return codes.
const (
	ConnackAccepted = iota
	ConnackRefusedProtocolVersion
	ConnackRefusedIdentifierRejected
	ConnackRefusedServerUnavailable
	ConnackRefusedBadUserNameOrPassword
	ConnackRefusedNotAuthorized
)

// SubackFailure is the SUBACK return code for a refused topic filter.
const SubackFailure = 0x80

// MaxRemainingLength is the largest value 4 remaining length bytes can carry.
const MaxRemainingLength = 268435455

// VariableLengthEncode appends the MQTT remaining length encoding of l to packet.
func VariableLengthEncode(packet []byte, l int) []byte {
	for {
		eb := l % 128
		l /= 128
		if l > 0 {
			eb |= 128
		}
		packet = append(packet, byte(eb))
		if l <= 0 {
			break
		}
	}
	return packet
}

// LengthToNumberOfVariableLengthBytes returns how many bytes the remaining length l occupies on the wire.
// Returns 0 if l cannot be encoded.
func LengthToNumberOfVariableLengthBytes(l int) int {
	switch {
	case l < 0:
		return 0
	case l < 128:
		return 1
	case l < 16384:
		return 2
	case l < 2097152:
		return 3
	case l <= MaxRemainingLength:
		return 4
	default:
		return 0
	}
}
