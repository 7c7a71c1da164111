package session

import (
	"testing"
	"time"

	"github.com/postalsys/slotline/internal/address"
	"github.com/postalsys/slotline/internal/protocol"
	"github.com/postalsys/slotline/internal/registry"
)

func TestAdmit(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	reg, err := registry.New(1)
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}
	a := address.MustParse("10.0.0.1:1")
	b := address.MustParse("10.0.0.2:1")

	dec := admit(reg, a, now, nil)
	if dec.outcome != OutcomeAdmitted || dec.slot != 0 || dec.status != protocol.StatusAccepted || !dec.reply {
		t.Errorf("first admit = %+v", dec)
	}

	dec = admit(reg, a, now, func(time.Time) bool { return false })
	if dec.outcome != OutcomeReaccepted {
		t.Errorf("reaccept with closed limiter = %+v, want reaccepted", dec)
	}

	dec = admit(reg, b, now, nil)
	if dec.outcome != OutcomeDenied || dec.status != protocol.StatusDenied || !dec.reply {
		t.Errorf("full admit = %+v", dec)
	}

	dec = admit(reg, b, now, func(time.Time) bool { return false })
	if dec.outcome != OutcomeRateLimited || dec.reply {
		t.Errorf("rate limited admit = %+v", dec)
	}
}

func TestAdmit_TouchesOnReaccept(t *testing.T) {
	reg, _ := registry.New(2)
	a := address.MustParse("10.0.0.1:1")
	t0 := time.Unix(1_700_000_000, 0)

	admit(reg, a, t0, nil)
	admit(reg, a, t0.Add(time.Minute), nil)

	s, err := reg.Slot(0)
	if err != nil {
		t.Fatalf("Slot(0) error = %v", err)
	}
	if !s.LastSeen.Equal(t0.Add(time.Minute)) {
		t.Errorf("LastSeen = %v, want %v", s.LastSeen, t0.Add(time.Minute))
	}
	if !s.AdmittedAt.Equal(t0) {
		t.Errorf("AdmittedAt = %v, want %v", s.AdmittedAt, t0)
	}
}
