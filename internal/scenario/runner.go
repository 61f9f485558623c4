package scenario

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dense-identity/callsync/internal/bridge"
	"github.com/dense-identity/callsync/internal/hfp"
	"github.com/dense-identity/callsync/internal/tbs"
	"github.com/dense-identity/callsync/internal/telecom"
)

// transcript collects emitted primitives. It is the legacy sink, the list sink and the
// pacing clock of the engine under replay, so every line lands in emission order.
type transcript struct {
	mu      sync.Mutex
	w       io.Writer
	lines   []string
	aliases map[uuid.UUID]string
	ids     map[string]uuid.UUID
}

func (t *transcript) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addLocked(line)
}

func (t *transcript) addLocked(line string) {
	t.lines = append(t.lines, line)
	if t.w != nil {
		fmt.Fprintln(t.w, line)
	}
}

// note writes to the output only, e.g. step markers.
func (t *transcript) note(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.w != nil {
		fmt.Fprintln(t.w, line)
	}
}

// aliasLocked names list-protocol ids L1, L2, ... in order of first appearance.
func (t *transcript) aliasLocked(id uuid.UUID) string {
	if a, ok := t.aliases[id]; ok {
		return a
	}
	a := "L" + strconv.Itoa(len(t.aliases)+1)
	t.aliases[id] = a
	t.ids[a] = id
	return a
}

func (t *transcript) lookup(alias string) (uuid.UUID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.ids[alias]
	return id, ok
}

func (t *transcript) PhoneStateChanged(s hfp.PhoneState) {
	t.add(fmt.Sprintf("phone_state active=%d held=%d state=%s number=%q type=%d name=%q",
		s.NumActive, s.NumHeld, s.CallState, s.Address, s.AddressType, s.Name))
}

func (t *transcript) ClccResponse(r hfp.ClccRow) {
	if r.IsTerminator() {
		t.add("clcc end")
		return
	}
	t.add(fmt.Sprintf("clcc index=%d dir=%d state=%s mpty=%t number=%q type=%d",
		r.Index, r.Direction, r.State, r.Conference, r.Address, r.AddressType))
}

func (t *transcript) OnCallAdded(c tbs.Call) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addLocked(fmt.Sprintf("list_added %s state=%s flags=%d uri=%q name=%q",
		t.aliasLocked(c.ID), c.State, c.Flags, c.URI, c.FriendlyName))
}

func (t *transcript) OnCallStateChanged(id uuid.UUID, s tbs.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addLocked(fmt.Sprintf("list_state %s %s", t.aliasLocked(id), s))
}

func (t *transcript) OnCallRemoved(id uuid.UUID, reason tbs.TerminationReason) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addLocked(fmt.Sprintf("list_removed %s %s", t.aliasLocked(id), reason))
}

func (t *transcript) CurrentCallsList(calls []tbs.Call) {
	t.mu.Lock()
	defer t.mu.Unlock()
	parts := make([]string, 0, len(calls))
	for _, c := range calls {
		parts = append(parts, t.aliasLocked(c.ID)+"="+c.State.String())
	}
	t.addLocked("list_calls [" + strings.Join(parts, " ") + "]")
}

func (t *transcript) RequestResult(requestID int, result tbs.Result) {
	t.add(fmt.Sprintf("list_result %d %s", requestID, result))
}

// Sleep records the pacing gap instead of waiting it out.
func (t *transcript) Sleep(d time.Duration) {
	t.add("pause " + d.String())
}

// Runner drives an engine through a scenario.
type Runner struct {
	sc        *Scenario
	engine    *bridge.Engine
	source    *Source
	tr        *transcript
	calls     map[telecom.CallID]telecom.Call
	requestID int
}

// NewRunner builds a started engine configured by sc. Emitted primitives are also
// written to w when it is non-nil.
func NewRunner(sc *Scenario, w io.Writer, log *logrus.Entry) (*Runner, error) {
	tr := &transcript{
		w:       w,
		aliases: make(map[uuid.UUID]string),
		ids:     make(map[string]uuid.UUID),
	}
	opts := []bridge.Option{
		bridge.WithLogger(log),
		bridge.WithClock(tr),
		bridge.WithSubscriberNumber(sc.SubscriberNumber),
		bridge.WithNetworkCountry(sc.NetworkCountry),
	}
	if sc.DualIdentity != nil {
		opts = append(opts, bridge.WithDualIdentity(*sc.DualIdentity))
	}
	if sc.VoiceCapability != "" {
		vc, err := bridge.ParseVoiceCapability(sc.VoiceCapability)
		if err != nil {
			return nil, err
		}
		opts = append(opts, bridge.WithVoiceCapability(vc))
	}
	if sc.PacingDelay > 0 {
		opts = append(opts, bridge.WithPacingDelay(sc.PacingDelay))
	}

	src := NewSource(tr.add)
	r := &Runner{
		sc:     sc,
		engine: bridge.New(src, opts...),
		source: src,
		tr:     tr,
		calls:  make(map[telecom.CallID]telecom.Call),
	}
	if err := r.engine.Start(); err != nil {
		return nil, err
	}
	if sc.wantSink("legacy") {
		r.engine.SetLegacySink(tr)
	}
	if sc.wantSink("list") {
		r.engine.SetListSink(tr)
	}
	r.engine.Settle()
	return r, nil
}

// Run executes every step in order.
func (r *Runner) Run() error {
	for i, step := range r.sc.Steps {
		if err := r.Step(step); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

// Step executes one step and waits for the engine to settle.
func (r *Runner) Step(step Step) error {
	defer r.engine.Settle()
	if step.Command != "" {
		r.tr.note("> " + step.Command)
		return r.command(step.Command)
	}

	spec, kind := step.call()
	if spec == nil {
		return fmt.Errorf("empty step")
	}
	c := r.calls[telecom.CallID(spec.ID)].Clone()
	spec.apply(&c)
	r.tr.note(fmt.Sprintf("> %s %d %s", kind, c.ID, c.State))
	if kind == telecom.EventRemoved {
		delete(r.calls, c.ID)
	} else {
		r.calls[c.ID] = c
	}
	r.engine.OnCallEvent(telecom.Event{Kind: kind, Call: c.Clone(), ForceUnregister: spec.Force})
	return nil
}

func (r *Runner) command(cmd string) error {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return fmt.Errorf("empty command")
	}
	name, args := fields[0], fields[1:]
	var ok bool
	switch name {
	case "answer":
		ok = r.engine.AnswerCall()
	case "hangup":
		ok = r.engine.HangupCall()
	case "list":
		ok = r.engine.ListCurrentCalls()
	case "query":
		ok = r.engine.QueryPhoneState()
	case "high_def":
		ok = r.engine.HighDefCallInProgress()
	case "chld":
		if len(args) != 1 {
			return fmt.Errorf("chld wants one argument")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 || n > 3 {
			return fmt.Errorf("invalid chld %q", args[0])
		}
		ok = r.engine.ProcessChld(hfp.Chld(n))
	case "tone":
		if len(args) != 1 || len(args[0]) != 1 {
			return fmt.Errorf("tone wants one digit")
		}
		ok = r.engine.SendTone(args[0][0])
	case "accept", "terminate", "hold", "unhold", "join":
		return r.request(name, args)
	default:
		return fmt.Errorf("unknown command %q", name)
	}
	r.tr.add(fmt.Sprintf("command %s ok=%t", name, ok))
	return nil
}

// request issues a list-protocol control request naming calls by alias.
func (r *Runner) request(name string, args []string) error {
	ids := make([]uuid.UUID, 0, len(args))
	for _, a := range args {
		id, ok := r.tr.lookup(a)
		if !ok {
			// Unknown aliases stand for ids the engine never issued.
			id = uuid.New()
		}
		ids = append(ids, id)
	}
	if name != "join" && len(ids) != 1 {
		return fmt.Errorf("%s wants one call", name)
	}
	r.requestID++
	switch name {
	case "accept":
		r.engine.AcceptCall(r.requestID, ids[0])
	case "terminate":
		r.engine.TerminateCall(r.requestID, ids[0])
	case "hold":
		r.engine.HoldCall(r.requestID, ids[0])
	case "unhold":
		r.engine.UnholdCall(r.requestID, ids[0])
	case "join":
		r.engine.JoinCalls(r.requestID, ids)
	}
	return nil
}

// Lines returns the transcript so far.
func (r *Runner) Lines() []string {
	r.tr.mu.Lock()
	defer r.tr.mu.Unlock()
	return append([]string(nil), r.tr.lines...)
}

// Source returns the in-memory call source.
func (r *Runner) Source() *Source {
	return r.source
}

// Close shuts the engine down.
func (r *Runner) Close() error {
	return r.engine.Close()
}
