package session

import (
	"time"

	"github.com/bassosimone/runtimex"

	"github.com/postalsys/slotline/internal/address"
	"github.com/postalsys/slotline/internal/protocol"
	"github.com/postalsys/slotline/internal/registry"
)

// decision is the result of one connection request.
type decision struct {
	outcome Outcome
	slot    int
	status  protocol.Status
	reply   bool
}

// admit decides a connection request from sender against the current
// registry state. allow is consulted only for senders that hold no slot, so
// re-acceptance is never rate limited. Must be called with the dispatcher
// lock held.
func admit(reg *registry.Registry, sender address.Address, now time.Time, allow func(time.Time) bool) decision {
	// Already connected: the previous accept may have been lost, so the
	// reply is sent again.
	if slot, ok := reg.FindSlotByAddress(sender); ok {
		reg.Touch(slot, now)
		return decision{outcome: OutcomeReaccepted, slot: slot, status: protocol.StatusAccepted, reply: true}
	}

	if allow != nil && !allow(now) {
		return decision{outcome: OutcomeRateLimited, slot: -1}
	}

	free, ok := reg.FindFreeSlot()
	if !ok {
		return decision{outcome: OutcomeDenied, slot: -1, status: protocol.StatusDenied, reply: true}
	}

	// free came from FindFreeSlot under the same lock; failure is a bug.
	runtimex.PanicOnError0(reg.Admit(free, sender, now))

	return decision{outcome: OutcomeAdmitted, slot: free, status: protocol.StatusAccepted, reply: true}
}
