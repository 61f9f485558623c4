package commands

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/dense-identity/callsync/internal/hfp"
)

type fakeAccessory struct {
	calls []string
	chld  []hfp.Chld
	tones []byte
}

func (f *fakeAccessory) do(name string, ok bool) bool {
	f.calls = append(f.calls, name)
	return ok
}

func (f *fakeAccessory) AnswerCall() bool            { return f.do("answer", true) }
func (f *fakeAccessory) HangupCall() bool            { return f.do("hangup", false) }
func (f *fakeAccessory) ListCurrentCalls() bool      { return f.do("list", true) }
func (f *fakeAccessory) QueryPhoneState() bool       { return f.do("query", true) }
func (f *fakeAccessory) HighDefCallInProgress() bool { return f.do("hd", false) }

func (f *fakeAccessory) SendTone(digit byte) bool {
	f.tones = append(f.tones, digit)
	return true
}

func (f *fakeAccessory) ProcessChld(chld hfp.Chld) bool {
	f.chld = append(f.chld, chld)
	return true
}

func TestConsoleCommands(t *testing.T) {
	in := strings.NewReader("answer\n\nhangup\nchld 2\nchld 9\ntone 5\nlist\nbogus\nquit\nquery\n")
	var out bytes.Buffer
	a := &fakeAccessory{}
	stopped := false

	runConsole(context.Background(), in, &out, a, func() { stopped = true })

	if !stopped {
		t.Fatal("quit did not stop the service")
	}
	if got := strings.Join(a.calls, ","); got != "answer,hangup,list" {
		t.Fatalf("calls: got %s", got)
	}
	if len(a.chld) != 1 || a.chld[0] != hfp.ChldHoldActiveAcceptHeld {
		t.Fatalf("chld: got %v", a.chld)
	}
	if string(a.tones) != "5" {
		t.Fatalf("tones: got %q", a.tones)
	}
	for _, want := range []string{"answer: true", "hangup: false", "chld must be", "Unknown command: bogus"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestConsoleStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := &fakeAccessory{}
	runConsole(ctx, strings.NewReader("answer\n"), &bytes.Buffer{}, a, func() {})
	if len(a.calls) != 0 {
		t.Fatalf("calls after cancel: got %v", a.calls)
	}
}
