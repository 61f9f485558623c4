// Package bridge keeps accessory-facing call protocols in step with the platform call
// source. It tracks every call, derives what the legacy and list protocols should
// believe, and decides when and in which order protocol updates are emitted.
package bridge

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dense-identity/callsync/internal/hfp"
	"github.com/dense-identity/callsync/internal/tbs"
	"github.com/dense-identity/callsync/internal/telecom"
	"github.com/dense-identity/callsync/internal/worker"
)

// DefaultNetworkCountry is the region national numbers are read in when none is set.
const DefaultNetworkCountry = "US"

// ErrClosed is returned by operations on an engine that has been closed.
var ErrClosed = errors.New("bridge: engine closed")

// VoiceCapability describes whether both subscriber identities can hold calls at once.
type VoiceCapability int

const (
	// CapabilityDSDS allows one identity in a call at a time.
	CapabilityDSDS VoiceCapability = iota
	// CapabilityPseudoDSDA allows concurrent calls through a single radio.
	CapabilityPseudoDSDA
	// CapabilityDSDA allows fully concurrent calls on both identities.
	CapabilityDSDA
)

func (v VoiceCapability) String() string {
	switch v {
	case CapabilityDSDS:
		return "dsds"
	case CapabilityPseudoDSDA:
		return "pseudo-dsda"
	case CapabilityDSDA:
		return "dsda"
	default:
		return fmt.Sprintf("VoiceCapability(%d)", int(v))
	}
}

// concurrent reports whether more than one identity may have calls on hold.
func (v VoiceCapability) concurrent() bool {
	return v == CapabilityPseudoDSDA || v == CapabilityDSDA
}

// ParseVoiceCapability parses "dsds", "pseudo-dsda" or "dsda". An empty string or
// "unknown" yields CapabilityDSDS.
func ParseVoiceCapability(s string) (VoiceCapability, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unknown", "dsds":
		return CapabilityDSDS, nil
	case "pseudo-dsda", "pseudo_dsda":
		return CapabilityPseudoDSDA, nil
	case "dsda":
		return CapabilityDSDA, nil
	default:
		return CapabilityDSDS, fmt.Errorf("unknown voice capability %q", s)
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to the standard logrus logger.
func WithLogger(l *logrus.Entry) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithClock replaces the clock used to pace reconciliation steps.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithPacingDelay sets the delay between reconciliation steps.
func WithPacingDelay(d time.Duration) Option {
	return func(e *Engine) { e.pacing = d }
}

// WithDualIdentity enables the reconciliation state machine for two concurrently
// active subscriber identities. Enabled by default.
func WithDualIdentity(enabled bool) Option {
	return func(e *Engine) { e.dualIdentity = enabled }
}

// WithVoiceCapability sets the multi-identity voice capability of the device.
func WithVoiceCapability(v VoiceCapability) Option {
	return func(e *Engine) { e.capability = v }
}

// WithSubscriberNumber sets the device's own number, which is never listed as a call.
func WithSubscriberNumber(number string) Option {
	return func(e *Engine) { e.subscriberNumber = number }
}

// WithNetworkCountry sets the ISO 3166-1 country of the serving network, used to read
// national numbers when matching calls by number. Defaults to DefaultNetworkCountry.
func WithNetworkCountry(iso string) Option {
	return func(e *Engine) {
		if iso != "" {
			e.networkCountry = iso
		}
	}
}

// Engine is the call-state synchronization engine. All of its state is guarded by a
// single mutex which every entry point, including worker handlers, holds for its
// full duration.
type Engine struct {
	mu sync.Mutex

	source telecom.Source
	log    *logrus.Entry
	clock  Clock
	inst   instruments

	pacing           time.Duration
	dualIdentity     bool
	capability       VoiceCapability
	subscriberNumber string
	networkCountry   string

	legacy hfp.Sink
	list   tbs.Sink

	started bool
	closed  bool

	dir       *directory
	listeners map[telecom.CallID]*callListener
	inference inferenceCache
	// maxCalls is the largest number of simple calls ever tracked at once.
	maxCalls int

	published              legacySnapshot
	oldHeldID              telecom.CallID
	headsetUpdatedRecently bool
	terminatedByClient     bool

	tally tally
	queue *worker.Queue
}

// New creates an engine bound to source. Call Start before serving list queries.
func New(source telecom.Source, opts ...Option) *Engine {
	e := &Engine{
		source:         source,
		log:            logrus.NewEntry(logrus.StandardLogger()),
		clock:          realClock{},
		inst:           newInstruments(),
		pacing:         DefaultPacingDelay,
		dualIdentity:   true,
		capability:     CapabilityDSDS,
		networkCountry: DefaultNetworkCountry,
		dir:            newDirectory(),
		listeners:      make(map[telecom.CallID]*callListener),
		published:      initialSnapshot(),
		tally:          newTally(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.WithField("component", "bridge")
	if e.dualIdentity {
		e.queue = worker.New()
	}
	return e
}

// Start marks the engine ready to answer accessory queries.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.started = true
	e.log.WithFields(logrus.Fields{
		"dual_identity": e.dualIdentity,
		"capability":    e.capability,
		"pacing":        e.pacing,
	}).Info("Engine started")
	return nil
}

// Close stops the reconciliation worker, discarding queued events, then releases every
// call subscription and both sinks. It is idempotent.
func (e *Engine) Close() error {
	// The worker goes first and without the lock: a running handler needs the lock to
	// finish, and nothing may fire after the sinks are gone.
	if e.queue != nil {
		e.queue.Close()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.started = false

	for id := range e.listeners {
		e.source.Unsubscribe(id)
	}
	e.listeners = make(map[telecom.CallID]*callListener)
	e.dir.clear()
	e.inference.flush()
	e.maxCalls = 0
	e.tally = newTally()
	e.legacy = nil
	e.list = nil
	e.log.Info("Engine closed")
	return nil
}

// Settle blocks until every reconciliation event queued so far has been handled.
// It returns immediately when dual-identity reconciliation is disabled.
func (e *Engine) Settle() {
	e.queue.Flush()
}

// SetLegacySink connects (or, with nil, disconnects) the legacy protocol sink.
// Connecting forces a full phone-state resync.
func (e *Engine) SetLegacySink(s hfp.Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.legacy = s
	if s == nil {
		e.log.Info("Legacy sink disconnected")
		return
	}
	e.log.Info("Legacy sink connected")
	e.synchronize()
}

// SetListSink connects (or, with nil, disconnects) the list protocol sink. Connecting
// sends the full list of current calls.
func (e *Engine) SetListSink(s tbs.Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.list = s
	if s == nil {
		e.log.Info("List sink disconnected")
		return
	}
	e.log.Info("List sink connected")
	e.sendCurrentCallsList()
}

// synchronize forces a full legacy resync through whichever path is active.
func (e *Engine) synchronize() {
	if e.dualIdentity {
		e.reconcile(eventSynchronize)
		return
	}
	e.updateLegacy(true)
}

// pace blocks the worker between two steps of a reconciliation event. Without a
// legacy sink there is nothing to pace.
func (e *Engine) pace() {
	if e.legacy == nil || e.pacing <= 0 {
		return
	}
	e.log.WithField("delay", e.pacing).Debug("Pacing legacy update")
	e.clock.Sleep(e.pacing)
}
