// Package session classifies inbound datagrams and runs client admission.
//
// A Dispatcher sits between the UDP transport and application payload
// handlers. Every datagram is classified by its first byte:
//
//   - Connection management: the sender is admitted into the lowest free
//     slot, re-accepted if it already holds one, or denied when the table is
//     full. The reply is queued for the transport to write.
//   - Unreliable and reliable: delivered to the PayloadHandler together with
//     the sender's slot index, or dropped when the sender holds no slot.
//   - Anything else: dropped.
//
// # Lifecycle
//
//  1. Client sends [2] from address A
//  2. Dispatcher binds A to a free slot and queues [2, 1] (or [2, 0] when full)
//  3. The transport drains the queue on Wake and writes the reply
//  4. Client sends [0|1, payload...]; the payload reaches the handler with A's slot
//  5. Repeated [2] from A re-queues [2, 1] without taking another slot
//
// Slots are released only by the optional idle timeout.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Registry and queue
// mutation happen under one mutex, so the find-free-slot and admit steps are
// a single critical section. Payload handlers run outside the lock.
package session
