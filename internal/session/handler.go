package session

import (
	"github.com/postalsys/slotline/internal/address"
	"github.com/postalsys/slotline/internal/outbound"
	"github.com/postalsys/slotline/internal/protocol"
)

// Delivery is one data payload from an admitted client.
type Delivery struct {
	Slot     int
	Class    protocol.TrafficClass
	From     address.Address
	Listener int

	// Payload aliases the receive buffer and is only valid until the handler
	// returns. Copy it to keep it.
	Payload []byte

	enqueue func(outbound.Packet)
}

// Reply queues payload, framed with the delivery's traffic class, back to the
// sender through the socket the delivery arrived on.
func (d Delivery) Reply(payload []byte) error {
	framed, err := protocol.EncodeData(d.Class, payload)
	if err != nil {
		return err
	}
	if d.enqueue != nil {
		d.enqueue(outbound.Packet{
			Payload:     framed,
			Destination: d.From,
			Listener:    d.Listener,
		})
	}
	return nil
}

// PayloadHandler consumes data payloads from admitted clients. Handlers are
// called from the socket read goroutines without the dispatcher lock held.
type PayloadHandler interface {
	HandleUnreliable(d Delivery)
	HandleReliable(d Delivery)
}

// NopHandler discards every payload.
type NopHandler struct{}

// HandleUnreliable discards the payload.
func (NopHandler) HandleUnreliable(Delivery) {}

// HandleReliable discards the payload.
func (NopHandler) HandleReliable(Delivery) {}

// EchoHandler sends every payload back to its sender.
type EchoHandler struct{}

// HandleUnreliable echoes the payload.
func (EchoHandler) HandleUnreliable(d Delivery) { _ = d.Reply(d.Payload) }

// HandleReliable echoes the payload.
func (EchoHandler) HandleReliable(d Delivery) { _ = d.Reply(d.Payload) }

// HandlerFunc adapts a function to PayloadHandler for both classes.
type HandlerFunc func(d Delivery)

// HandleUnreliable calls f(d).
func (f HandlerFunc) HandleUnreliable(d Delivery) { f(d) }

// HandleReliable calls f(d).
func (f HandlerFunc) HandleReliable(d Delivery) { f(d) }
