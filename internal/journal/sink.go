package journal

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dense-identity/callsync/internal/hfp"
	"github.com/dense-identity/callsync/internal/tbs"
	"github.com/dense-identity/callsync/internal/worker"
)

// Appender persists encoded entries of a session.
type Appender interface {
	Append(ctx context.Context, session string, data []byte) error
}

const writeTimeout = 2 * time.Second

// Sink implements both accessory sinks. Every primitive is logged and, with an
// appender, journaled in order on a background worker so storage latency never
// reaches the bridge.
type Sink struct {
	session string
	store   Appender
	log     *logrus.Entry
	now     func() time.Time
	seq     atomic.Uint64
	queue   *worker.Queue
	redact  *Redactor
}

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithRedactor redacts addresses and names before they are logged or journaled.
func WithRedactor(r *Redactor) SinkOption {
	return func(s *Sink) { s.redact = r }
}

var (
	_ hfp.Sink = (*Sink)(nil)
	_ tbs.Sink = (*Sink)(nil)
)

// NewSink creates a sink for session. store may be nil to only log.
func NewSink(session string, store Appender, log *logrus.Entry, opts ...SinkOption) *Sink {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Sink{
		session: session,
		store:   store,
		log:     log.WithFields(logrus.Fields{"component": "journal", "session": session}),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if store != nil {
		s.queue = worker.New()
	}
	return s
}

// Flush waits until every recorded entry has been written.
func (s *Sink) Flush() {
	s.queue.Flush()
}

// Close writes pending entries and stops the writer.
func (s *Sink) Close() {
	s.queue.Flush()
	s.queue.Close()
}

func (s *Sink) record(kind string, fields map[string]any) {
	e := Entry{Seq: s.seq.Add(1), At: s.now(), Kind: kind, Fields: fields}
	s.log.WithField("seq", e.Seq).WithFields(logrus.Fields(fields)).Info(kind)
	if s.store == nil {
		return
	}
	posted := s.queue.Post(func() {
		data, err := e.Marshal()
		if err != nil {
			s.log.WithError(err).WithField("seq", e.Seq).Warn("Dropping journal entry")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := s.store.Append(ctx, s.session, data); err != nil {
			s.log.WithError(err).WithField("seq", e.Seq).Warn("Journal write failed")
		}
	})
	if !posted {
		s.log.WithField("seq", e.Seq).Debug("Journal closed, entry dropped")
	}
}

// PhoneStateChanged implements hfp.Sink.
func (s *Sink) PhoneStateChanged(ps hfp.PhoneState) {
	s.record(KindPhoneState, map[string]any{
		"num_active": ps.NumActive,
		"num_held":   ps.NumHeld,
		"state":      ps.CallState.String(),
		"address":    s.redact.Redact(ps.Address),
		"addr_type":  ps.AddressType,
		"name":       s.redact.Redact(ps.Name),
	})
}

// ClccResponse implements hfp.Sink.
func (s *Sink) ClccResponse(r hfp.ClccRow) {
	if r.IsTerminator() {
		s.record(KindClcc, map[string]any{"index": 0})
		return
	}
	s.record(KindClcc, map[string]any{
		"index":      r.Index,
		"direction":  r.Direction,
		"state":      r.State.String(),
		"mode":       r.Mode,
		"conference": r.Conference,
		"address":    s.redact.Redact(r.Address),
		"addr_type":  r.AddressType,
	})
}

func (s *Sink) callFields(c tbs.Call) map[string]any {
	return map[string]any{
		"call_id": c.ID.String(),
		"uri":     s.redact.Redact(c.URI),
		"name":    s.redact.Redact(c.FriendlyName),
		"state":   c.State.String(),
		"flags":   c.Flags,
	}
}

// OnCallAdded implements tbs.Sink.
func (s *Sink) OnCallAdded(c tbs.Call) {
	s.record(KindCallAdded, s.callFields(c))
}

// OnCallStateChanged implements tbs.Sink.
func (s *Sink) OnCallStateChanged(id uuid.UUID, state tbs.State) {
	s.record(KindCallState, map[string]any{"call_id": id.String(), "state": state.String()})
}

// OnCallRemoved implements tbs.Sink.
func (s *Sink) OnCallRemoved(id uuid.UUID, reason tbs.TerminationReason) {
	s.record(KindCallRemoved, map[string]any{"call_id": id.String(), "reason": reason.String()})
}

// CurrentCallsList implements tbs.Sink.
func (s *Sink) CurrentCallsList(calls []tbs.Call) {
	list := make([]any, 0, len(calls))
	for _, c := range calls {
		list = append(list, s.callFields(c))
	}
	s.record(KindCallsList, map[string]any{"calls": list})
}

// RequestResult implements tbs.Sink.
func (s *Sink) RequestResult(requestID int, result tbs.Result) {
	s.record(KindRequestResult, map[string]any{"request_id": requestID, "result": result.String()})
}
