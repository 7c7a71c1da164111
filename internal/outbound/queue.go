// Package outbound holds reply datagrams until the transport can write them.
package outbound

import (
	"errors"
	"fmt"

	"github.com/postalsys/slotline/internal/address"
)

// DefaultCapacity is the default queue size.
const DefaultCapacity = 1024

// ErrInvalidCapacity is returned by New for a non-positive capacity.
var ErrInvalidCapacity = errors.New("queue capacity must be positive")

// Packet is a datagram waiting to be sent.
type Packet struct {
	Payload     []byte
	Destination address.Address
	Listener    int // Index of the socket the triggering datagram arrived on
}

// Queue is a fixed-size circular buffer of packets. When full, Enqueue
// overwrites the oldest unsent packet. Queue is not safe for concurrent use.
type Queue struct {
	buf         []Packet
	head        int // index of the oldest packet
	size        int
	overwritten uint64
}

// New creates a queue holding at most capacity packets.
func New(capacity int) (*Queue, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	return &Queue{buf: make([]Packet, capacity)}, nil
}

// Enqueue appends p. It reports whether an older packet was discarded to make room.
func (q *Queue) Enqueue(p Packet) bool {
	if q.size == len(q.buf) {
		q.buf[q.head] = p
		q.head = (q.head + 1) % len(q.buf)
		q.overwritten++
		return true
	}

	q.buf[(q.head+q.size)%len(q.buf)] = p
	q.size++
	return false
}

// DrainAll removes and returns every queued packet, oldest first.
// It returns an empty slice when the queue is empty.
func (q *Queue) DrainAll() []Packet {
	out := make([]Packet, q.size)
	for i := range out {
		idx := (q.head + i) % len(q.buf)
		out[i] = q.buf[idx]
		q.buf[idx] = Packet{}
	}
	q.head = 0
	q.size = 0
	return out
}

// Len returns the number of queued packets.
func (q *Queue) Len() int { return q.size }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return len(q.buf) }

// Overwritten returns how many packets have been discarded by overwrite.
func (q *Queue) Overwritten() uint64 { return q.overwritten }
