package scenario

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/dense-identity/callsync/internal/telecom"
)

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// replay runs the scenario file and returns the lines emitted by its steps.
func replay(t *testing.T, path string) []string {
	t.Helper()
	sc, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	r, err := NewRunner(sc, nil, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	setup := len(r.Lines())
	if err := r.Run(); err != nil {
		t.Fatal(err)
	}
	return r.Lines()[setup:]
}

func assertLines(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d lines:\n%s\nwant %d:\n%s", len(got), strings.Join(got, "\n"), len(want), strings.Join(want, "\n"))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

// assertInOrder checks that want appears in got as a subsequence.
func assertInOrder(t *testing.T, got []string, want ...string) {
	t.Helper()
	i := 0
	for _, line := range got {
		if i < len(want) && line == want[i] {
			i++
		}
	}
	if i != len(want) {
		t.Fatalf("missing %q in:\n%s", want[i], strings.Join(got, "\n"))
	}
}

func TestReplayIncomingCall(t *testing.T) {
	assertLines(t, replay(t, "testdata/incoming.yaml"),
		`phone_state active=0 held=0 state=Incoming number="+15551234567" type=145 name="Alice"`,
	)
}

func TestReplayOutgoingThenRinging(t *testing.T) {
	assertLines(t, replay(t, "testdata/outgoing_then_ringing.yaml"),
		`phone_state active=0 held=0 state=Dialing number="" type=128 name=""`,
		`phone_state active=0 held=0 state=Alerting number="" type=128 name=""`,
		`phone_state active=1 held=0 state=Idle number="+15552223333" type=145 name=""`,
		`pause 60ms`,
		`phone_state active=1 held=0 state=Incoming number="+15552223333" type=145 name=""`,
	)
}

func TestReplayListRequests(t *testing.T) {
	got := replay(t, "testdata/list_requests.yaml")
	assertInOrder(t, got,
		`list_added L1 state=Alerting flags=1 uri="tel:+15551230000" name="Alice"`,
		`op disconnect 1`,
		`list_result 1 Success`,
		`list_removed L1 ClientHangup`,
		`list_result 2 UnknownCallID`,
		`command hangup ok=false`,
	)
}

func TestRunnerWritesOutput(t *testing.T) {
	sc, err := Load("testdata/incoming.yaml")
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	r, err := NewRunner(sc, &out, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if err := r.Run(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "> Added 1 Ringing") || !strings.Contains(out.String(), "state=Incoming") {
		t.Fatalf("output:\n%s", out.String())
	}
}

func TestCommandsRecordSourceOps(t *testing.T) {
	sc, err := Parse([]byte(`
dual_identity: false
sinks: [legacy]
steps:
  - add: {id: 1, state: ringing, number: "+15550000001", incoming: true}
  - command: answer
  - state: {id: 1, state: active}
  - command: tone 5
  - command: chld 0
`))
	if err != nil {
		t.Fatal(err)
	}
	r, err := NewRunner(sc, nil, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if err := r.Run(); err != nil {
		t.Fatal(err)
	}
	assertInOrder(t, r.Lines(),
		"op answer 1",
		"command answer ok=true",
		"op play_tone 1 5",
		"op stop_tone 1",
		"command tone ok=true",
		"command chld ok=false",
	)
	if ids := r.Source().Subscribed(); len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("subscribed: got %v", ids)
	}
}

func TestRemovalUnsubscribes(t *testing.T) {
	sc, err := Parse([]byte(`
dual_identity: false
sinks: [list]
steps:
  - add: {id: 1, state: active, number: "+15550000001"}
  - remove: {id: 1, cause: remote}
`))
	if err != nil {
		t.Fatal(err)
	}
	r, err := NewRunner(sc, nil, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if err := r.Run(); err != nil {
		t.Fatal(err)
	}
	if ids := r.Source().Subscribed(); len(ids) != 0 {
		t.Fatalf("subscribed after removal: got %v", ids)
	}
	assertInOrder(t, r.Lines(), "list_removed L1 RemoteHangup")
}

func TestParseRejectsInvalidScenarios(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no steps", "name: empty\n"},
		{"two actions", "steps:\n  - {add: {id: 1}, command: answer}\n"},
		{"no call id", "steps:\n  - add: {state: active}\n"},
		{"bad state", "steps:\n  - add: {id: 1, state: flying}\n"},
		{"bad cause", "steps:\n  - remove: {id: 1, cause: gremlins}\n"},
		{"bad capability", "steps:\n  - add: {id: 1, capabilities: [teleport]}\n"},
		{"bad sink", "sinks: [fax]\nsteps:\n  - command: answer\n"},
		{"not yaml", "steps: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestCallSpecApply(t *testing.T) {
	incoming, conf := true, true
	parent := 10
	spec := CallSpec{
		ID: 3, State: "simulated_ringing", Number: "+15550000003", Name: "Bob",
		Incoming: &incoming, Conference: &conf, Parent: &parent,
		Children: []int{4, 5}, Capabilities: []string{"hold", "merge"}, Cause: "other",
	}
	var c telecom.Call
	spec.apply(&c)
	if c.ID != 3 || c.State != telecom.StateSimulatedRinging || c.Handle != "tel:+15550000003" ||
		c.CallerDisplayName != "Bob" || !c.Incoming || !c.Conference || c.ParentID != 10 {
		t.Fatalf("applied call: got %+v", c)
	}
	if len(c.ChildrenIDs) != 2 || c.ChildrenIDs[1] != 5 {
		t.Fatalf("children: got %v", c.ChildrenIDs)
	}
	if !c.Can(telecom.CapHold|telecom.CapMergeConference) || c.Can(telecom.CapSwapConference) {
		t.Fatalf("capabilities: got %b", c.Capabilities)
	}
	if c.Disconnect == nil || c.Disconnect.Code != telecom.DisconnectOther {
		t.Fatalf("cause: got %+v", c.Disconnect)
	}

	// A state-only patch keeps everything else.
	(&CallSpec{ID: 3, State: "active"}).apply(&c)
	if c.State != telecom.StateActive || c.Handle != "tel:+15550000003" || !c.Incoming {
		t.Fatalf("patched call: got %+v", c)
	}
}
