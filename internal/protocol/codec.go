// Package protocol defines the slotline datagram wire format.
//
// Every datagram starts with a one-byte traffic class. Connection-management
// replies are exactly two bytes: the class byte followed by a status byte.
// There is no length prefix beyond datagram framing.
package protocol

import (
	"errors"
	"fmt"
)

// TrafficClass is the first byte of every datagram.
type TrafficClass uint8

// Traffic classes
const (
	ClassUnreliable TrafficClass = 0x00 // Application payload, no delivery guarantees
	ClassReliable   TrafficClass = 0x01 // Application payload, guarantees owned by the handler
	ClassConnection TrafficClass = 0x02 // Connection management

	// ClassUnknown is a decoder outcome for unrecognized class bytes.
	// It is never written to the wire.
	ClassUnknown TrafficClass = 0xFF
)

// String returns the class name.
func (c TrafficClass) String() string {
	switch c {
	case ClassUnreliable:
		return "UNRELIABLE"
	case ClassReliable:
		return "RELIABLE"
	case ClassConnection:
		return "CONNECTION"
	default:
		return "UNKNOWN"
	}
}

// Status is the connection-management reply status.
type Status uint8

// Reply statuses
const (
	StatusDenied   Status = 0x00
	StatusAccepted Status = 0x01
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusDenied:
		return "DENIED"
	case StatusAccepted:
		return "ACCEPTED"
	default:
		return "UNKNOWN"
	}
}

const (
	// HeaderSize is the size of the traffic class header.
	HeaderSize = 1

	// ReplySize is the size of a connection-management reply.
	ReplySize = 2
)

var (
	// ErrMalformedPacket is returned when a datagram is too short to decode.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrUnexpectedClass is returned when a datagram carries a different class than expected.
	ErrUnexpectedClass = errors.New("unexpected traffic class")

	// ErrUnknownStatus is returned for unrecognized reply status bytes.
	ErrUnknownStatus = errors.New("unknown connection status")
)

// Header is a decoded traffic class header.
type Header struct {
	Class TrafficClass
	Raw   uint8 // Class byte as received, kept for diagnostics
}

// DecodeHeader splits a datagram into its header and remaining payload.
// An empty datagram is malformed. An unrecognized class byte is not an error:
// it decodes as ClassUnknown so the caller can drop it.
func DecodeHeader(payload []byte) (Header, []byte, error) {
	if len(payload) < HeaderSize {
		return Header{}, nil, fmt.Errorf("%w: empty datagram", ErrMalformedPacket)
	}

	raw := payload[0]
	h := Header{Class: ClassUnknown, Raw: raw}
	switch TrafficClass(raw) {
	case ClassUnreliable, ClassReliable, ClassConnection:
		h.Class = TrafficClass(raw)
	}

	return h, payload[HeaderSize:], nil
}

// EncodeConnectionReply builds the two-byte reply [ClassConnection, status].
func EncodeConnectionReply(status Status) []byte {
	return []byte{byte(ClassConnection), byte(status)}
}

// EncodeConnectionRequest builds a connection request. The request has no body.
func EncodeConnectionRequest() []byte {
	return []byte{byte(ClassConnection)}
}

// DecodeConnectionReply parses a reply produced by EncodeConnectionReply.
func DecodeConnectionReply(payload []byte) (Status, error) {
	h, body, err := DecodeHeader(payload)
	if err != nil {
		return 0, err
	}
	if h.Class != ClassConnection {
		return 0, fmt.Errorf("%w: got class %d", ErrUnexpectedClass, h.Raw)
	}
	if len(body) < 1 {
		return 0, fmt.Errorf("%w: connection reply missing status", ErrMalformedPacket)
	}

	status := Status(body[0])
	switch status {
	case StatusDenied, StatusAccepted:
		return status, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownStatus, body[0])
	}
}

// EncodeData prefixes an application payload with its class byte. Only the
// unreliable and reliable classes carry application data.
func EncodeData(class TrafficClass, payload []byte) ([]byte, error) {
	if class != ClassUnreliable && class != ClassReliable {
		return nil, fmt.Errorf("%w: %s cannot carry data", ErrUnexpectedClass, class)
	}

	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = byte(class)
	copy(buf[HeaderSize:], payload)
	return buf, nil
}
