// Package registry implements the fixed-capacity client slot table.
//
// A slot index doubles as the client's public identifier. The registry is the
// only place slot state changes. It is not safe for concurrent use; callers
// serialize access (see session.Dispatcher).
package registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/postalsys/slotline/internal/address"
)

// DefaultCapacity is the default number of client slots.
const DefaultCapacity = 128

var (
	// ErrInvalidSlotIndex is returned for an index outside [0, capacity).
	ErrInvalidSlotIndex = errors.New("invalid slot index")

	// ErrSlotInUse is returned when admitting into an already connected slot.
	ErrSlotInUse = errors.New("slot already connected")

	// ErrInvalidAddress is returned when admitting the None address.
	ErrInvalidAddress = errors.New("invalid client address")

	// ErrInvalidCapacity is returned by New for a non-positive capacity.
	ErrInvalidCapacity = errors.New("capacity must be positive")
)

// Slot is one entry in the client table.
type Slot struct {
	Index      int             `json:"index"`
	Address    address.Address `json:"address"`
	Connected  bool            `json:"connected"`
	AdmittedAt time.Time       `json:"admitted_at"`
	LastSeen   time.Time       `json:"last_seen"`
}

// Registry maps slot index to client address and connection state.
type Registry struct {
	slots []Slot
	count int
}

// New creates a registry with every slot free.
func New(capacity int) (*Registry, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}

	slots := make([]Slot, capacity)
	for i := range slots {
		slots[i].Index = i
	}
	return &Registry{slots: slots}, nil
}

// Capacity returns the total number of slots.
func (r *Registry) Capacity() int {
	return len(r.slots)
}

// Connected returns the number of connected slots.
func (r *Registry) Connected() int {
	return r.count
}

// FindSlotByAddress returns the first connected slot bound to addr.
func (r *Registry) FindSlotByAddress(addr address.Address) (int, bool) {
	if !addr.IsValid() {
		return 0, false
	}
	for i := range r.slots {
		if r.slots[i].Connected && r.slots[i].Address == addr {
			return i, true
		}
	}
	return 0, false
}

// FindFreeSlot returns the lowest-index slot that is not connected.
// It returns false when the table is full.
func (r *Registry) FindFreeSlot() (int, bool) {
	for i := range r.slots {
		if !r.slots[i].Connected {
			return i, true
		}
	}
	return 0, false
}

// Admit binds addr to the slot at index and marks it connected. The caller must
// have obtained index from FindFreeSlot in the same critical section.
func (r *Registry) Admit(index int, addr address.Address, now time.Time) error {
	if err := r.checkIndex(index); err != nil {
		return err
	}
	if !addr.IsValid() {
		return ErrInvalidAddress
	}
	s := &r.slots[index]
	if s.Connected {
		return fmt.Errorf("%w: slot %d held by %s", ErrSlotInUse, index, s.Address)
	}

	s.Address = addr
	s.Connected = true
	s.AdmittedAt = now
	s.LastSeen = now
	r.count++
	return nil
}

// IsConnected reports whether the slot at index is connected.
func (r *Registry) IsConnected(index int) (bool, error) {
	if err := r.checkIndex(index); err != nil {
		return false, err
	}
	return r.slots[index].Connected, nil
}

// Slot returns a copy of the slot at index.
func (r *Registry) Slot(index int) (Slot, error) {
	if err := r.checkIndex(index); err != nil {
		return Slot{}, err
	}
	return r.slots[index], nil
}

// Touch records activity on a connected slot. Free slots are left alone.
func (r *Registry) Touch(index int, now time.Time) {
	if index < 0 || index >= len(r.slots) || !r.slots[index].Connected {
		return
	}
	r.slots[index].LastSeen = now
}

// Release frees the slot at index. Releasing a free slot is a no-op.
func (r *Registry) Release(index int) error {
	if err := r.checkIndex(index); err != nil {
		return err
	}
	if r.slots[index].Connected {
		r.count--
	}
	r.slots[index] = Slot{Index: index}
	return nil
}

// ExpireIdle releases every connected slot whose last activity is older than
// timeout and returns the released slots as they were before release.
// A zero timeout disables expiry.
func (r *Registry) ExpireIdle(now time.Time, timeout time.Duration) []Slot {
	if timeout <= 0 {
		return nil
	}

	var expired []Slot
	for i := range r.slots {
		s := r.slots[i]
		if s.Connected && now.Sub(s.LastSeen) > timeout {
			expired = append(expired, s)
			r.slots[i] = Slot{Index: i}
			r.count--
		}
	}
	return expired
}

// Snapshot returns copies of all connected slots in index order.
func (r *Registry) Snapshot() []Slot {
	out := make([]Slot, 0, r.count)
	for _, s := range r.slots {
		if s.Connected {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) checkIndex(index int) error {
	if index < 0 || index >= len(r.slots) {
		return fmt.Errorf("%w: %d (capacity %d)", ErrInvalidSlotIndex, index, len(r.slots))
	}
	return nil
}
