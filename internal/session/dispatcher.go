package session

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/postalsys/slotline/internal/address"
	"github.com/postalsys/slotline/internal/logging"
	"github.com/postalsys/slotline/internal/metrics"
	"github.com/postalsys/slotline/internal/outbound"
	"github.com/postalsys/slotline/internal/protocol"
	"github.com/postalsys/slotline/internal/registry"
)

// Outcome describes what the Dispatcher did with one inbound datagram.
type Outcome int

const (
	// OutcomeAdmitted means the sender was bound to a new slot.
	OutcomeAdmitted Outcome = iota
	// OutcomeReaccepted means the sender already held a slot and was re-accepted.
	OutcomeReaccepted
	// OutcomeDenied means the table was full.
	OutcomeDenied
	// OutcomeRateLimited means the request was dropped by the admission limiter.
	OutcomeRateLimited
	// OutcomeDelivered means the payload was handed to the PayloadHandler.
	OutcomeDelivered
	// OutcomeUnknownSender means a data datagram came from an address with no slot.
	OutcomeUnknownSender
	// OutcomeMalformed means the datagram was empty.
	OutcomeMalformed
	// OutcomeUnknownClass means the class byte was not recognized.
	OutcomeUnknownClass
	// OutcomeUnsupportedAddress means the sender was not an IPv4 or IPv6 address.
	OutcomeUnsupportedAddress
)

// String returns a human-readable name for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeAdmitted:
		return "admitted"
	case OutcomeReaccepted:
		return "reaccepted"
	case OutcomeDenied:
		return "denied"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeDelivered:
		return "delivered"
	case OutcomeUnknownSender:
		return "unknown_sender"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeUnknownClass:
		return "unknown_class"
	case OutcomeUnsupportedAddress:
		return "unsupported_address"
	default:
		return "unknown"
	}
}

// Sender writes outbound packets to the network.
type Sender interface {
	SendPacket(p outbound.Packet) error
}

// Stats is a point-in-time view of the dispatcher.
type Stats struct {
	Capacity      int    `json:"capacity"`
	Connected     int    `json:"connected"`
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	Overwritten   uint64 `json:"queue_overwritten"`
}

// Dispatcher routes inbound datagrams and owns the slot registry and the
// outbound queue.
type Dispatcher struct {
	mu       sync.Mutex
	registry *registry.Registry
	queue    *outbound.Queue
	limiter  *rate.Limiter

	config  Config
	handler PayloadHandler
	logger  *slog.Logger
	metrics *metrics.Metrics

	now  func() time.Time
	wake chan struct{}
}

// New creates a Dispatcher. A nil handler drops all payloads; nil metrics
// records into a private registry.
func New(cfg Config, handler PayloadHandler, logger *slog.Logger, m *metrics.Metrics) (*Dispatcher, error) {
	reg, err := registry.New(cfg.MaxClients)
	if err != nil {
		return nil, fmt.Errorf("create registry: %w", err)
	}
	q, err := outbound.New(cfg.QueueCapacity)
	if err != nil {
		return nil, fmt.Errorf("create outbound queue: %w", err)
	}
	if handler == nil {
		handler = NopHandler{}
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	if m == nil {
		m = metrics.NewIsolated()
	}

	d := &Dispatcher{
		registry: reg,
		queue:    q,
		config:   cfg,
		handler:  handler,
		logger:   logger.With(slog.String(logging.KeyComponent, "session")),
		metrics:  m,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
	}

	if cfg.AdmissionRate > 0 {
		burst := cfg.AdmissionBurst
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.AdmissionRate), burst)
	}

	m.SetSlots(0, reg.Capacity())
	m.SetQueueDepth(0)

	return d, nil
}

// Wake fires after packets are queued. Signals are coalesced: one receive may
// cover many packets, so the receiver should call OnWritable and drain everything.
func (d *Dispatcher) Wake() <-chan struct{} {
	return d.wake
}

// OnDatagramReceived classifies and handles one inbound datagram. listener
// identifies the socket it arrived on so replies can leave through the same
// socket. payload is not retained after the call returns.
func (d *Dispatcher) OnDatagramReceived(listener int, payload []byte, from net.Addr) Outcome {
	sender := address.FromNetAddr(from)
	if !sender.IsValid() {
		d.metrics.RecordDrop(metrics.DropUnsupportedAddress)
		d.logger.Debug("dropping datagram from unsupported address",
			logging.KeyRemoteAddr, fmt.Sprintf("%v", from))
		return OutcomeUnsupportedAddress
	}

	h, body, err := protocol.DecodeHeader(payload)
	if err != nil {
		d.metrics.RecordDrop(metrics.DropMalformed)
		d.logger.Debug("dropping malformed datagram",
			logging.KeyRemoteAddr, sender.String(),
			logging.KeyError, err)
		return OutcomeMalformed
	}

	d.metrics.RecordDatagram(h.Class.String(), len(payload))

	switch h.Class {
	case protocol.ClassConnection:
		return d.handleConnection(listener, sender)
	case protocol.ClassUnreliable, protocol.ClassReliable:
		return d.handleData(listener, h.Class, sender, body)
	default:
		d.metrics.RecordDrop(metrics.DropUnknownClass)
		d.logger.Debug("dropping datagram with unknown traffic class",
			logging.KeyRemoteAddr, sender.String(),
			logging.KeyClass, h.Raw)
		return OutcomeUnknownClass
	}
}

func (d *Dispatcher) handleConnection(listener int, sender address.Address) Outcome {
	var allow func(time.Time) bool
	if d.limiter != nil {
		allow = func(now time.Time) bool { return d.limiter.AllowN(now, 1) }
	}

	d.mu.Lock()
	dec := admit(d.registry, sender, d.now(), allow)
	if dec.reply {
		d.enqueueLocked(outbound.Packet{
			Payload:     protocol.EncodeConnectionReply(dec.status),
			Destination: sender,
			Listener:    listener,
		})
	}
	connected := d.registry.Connected()
	if dec.outcome == OutcomeAdmitted {
		d.metrics.SetSlots(connected, d.registry.Capacity())
	}
	d.mu.Unlock()

	switch dec.outcome {
	case OutcomeAdmitted:
		d.metrics.RecordAdmission(metrics.AdmissionAccepted)
		d.logger.Info("client admitted",
			logging.KeySlot, dec.slot,
			logging.KeyRemoteAddr, sender.String(),
			logging.KeyCount, connected)
	case OutcomeReaccepted:
		d.metrics.RecordAdmission(metrics.AdmissionReaccepted)
		d.logger.Debug("client re-accepted",
			logging.KeySlot, dec.slot,
			logging.KeyRemoteAddr, sender.String())
	case OutcomeDenied:
		d.metrics.RecordAdmission(metrics.AdmissionDenied)
		d.logger.Warn("client denied, all slots in use",
			logging.KeyRemoteAddr, sender.String(),
			logging.KeyCount, connected)
	case OutcomeRateLimited:
		d.metrics.RecordDrop(metrics.DropRateLimited)
		d.logger.Debug("connection request rate limited",
			logging.KeyRemoteAddr, sender.String())
	}

	return dec.outcome
}

func (d *Dispatcher) handleData(listener int, class protocol.TrafficClass, sender address.Address, body []byte) Outcome {
	d.mu.Lock()
	slot, ok := d.registry.FindSlotByAddress(sender)
	if ok {
		d.registry.Touch(slot, d.now())
	}
	d.mu.Unlock()

	if !ok {
		d.metrics.RecordDrop(metrics.DropUnknownSender)
		d.logger.Debug("dropping datagram from unadmitted sender",
			logging.KeyRemoteAddr, sender.String(),
			logging.KeyClass, class.String())
		return OutcomeUnknownSender
	}

	delivery := Delivery{
		Slot:     slot,
		Class:    class,
		From:     sender,
		Listener: listener,
		Payload:  body,
		enqueue:  d.Enqueue,
	}

	if class == protocol.ClassReliable {
		d.handler.HandleReliable(delivery)
	} else {
		d.handler.HandleUnreliable(delivery)
	}
	return OutcomeDelivered
}

// Enqueue queues a packet for the next OnWritable call.
func (d *Dispatcher) Enqueue(p outbound.Packet) {
	d.mu.Lock()
	d.enqueueLocked(p)
	d.mu.Unlock()
}

func (d *Dispatcher) enqueueLocked(p outbound.Packet) {
	if d.queue.Enqueue(p) {
		d.metrics.RecordQueueOverwrite()
		d.logger.Debug("outbound queue full, oldest packet discarded",
			logging.KeyRemoteAddr, p.Destination.String())
	}
	d.metrics.SetQueueDepth(d.queue.Len())

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// OnWritable drains the outbound queue through s. A failed send does not stop
// the drain; all failures are returned joined.
func (d *Dispatcher) OnWritable(s Sender) (int, error) {
	d.mu.Lock()
	packets := d.queue.DrainAll()
	d.metrics.SetQueueDepth(0)
	d.mu.Unlock()

	var (
		sent int
		errs []error
	)
	for _, p := range packets {
		if err := s.SendPacket(p); err != nil {
			d.metrics.RecordSendError()
			d.logger.Warn("failed to send packet",
				logging.KeyRemoteAddr, p.Destination.String(),
				logging.KeyListener, p.Listener,
				logging.KeyError, err)
			errs = append(errs, fmt.Errorf("send to %s: %w", p.Destination, err))
			continue
		}
		d.metrics.RecordSent(len(p.Payload))
		sent++
	}

	return sent, errors.Join(errs...)
}

// ExpireIdle releases slots idle longer than Config.IdleTimeout and returns
// them. It does nothing when the timeout is 0.
func (d *Dispatcher) ExpireIdle(now time.Time) []registry.Slot {
	if d.config.IdleTimeout <= 0 {
		return nil
	}

	d.mu.Lock()
	expired := d.registry.ExpireIdle(now, d.config.IdleTimeout)
	if len(expired) > 0 {
		d.metrics.SetSlots(d.registry.Connected(), d.registry.Capacity())
	}
	d.mu.Unlock()

	if len(expired) == 0 {
		return nil
	}

	d.metrics.RecordExpired(len(expired))
	for _, s := range expired {
		d.logger.Info("client slot expired",
			logging.KeySlot, s.Index,
			logging.KeyRemoteAddr, s.Address.String(),
			logging.KeyDuration, now.Sub(s.LastSeen).String())
	}

	return expired
}

// Release frees the slot at index so the client must reconnect. Releasing a
// free slot is a no-op.
func (d *Dispatcher) Release(index int) error {
	d.mu.Lock()
	slot, err := d.registry.Slot(index)
	if err == nil {
		err = d.registry.Release(index)
	}
	if err == nil && slot.Connected {
		d.metrics.SetSlots(d.registry.Connected(), d.registry.Capacity())
	}
	d.mu.Unlock()

	if err != nil {
		return err
	}
	if slot.Connected {
		d.logger.Info("client slot released",
			logging.KeySlot, index,
			logging.KeyRemoteAddr, slot.Address.String())
	}
	return nil
}

// Slots returns the connected slots in index order.
func (d *Dispatcher) Slots() []registry.Slot {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.registry.Snapshot()
}

// Stats returns current counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return Stats{
		Capacity:      d.registry.Capacity(),
		Connected:     d.registry.Connected(),
		QueueDepth:    d.queue.Len(),
		QueueCapacity: d.queue.Cap(),
		Overwritten:   d.queue.Overwritten(),
	}
}
