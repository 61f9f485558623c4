package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dense-identity/callsync/internal/hfp"
)

// accessory is the set of accessory commands the console can issue.
type accessory interface {
	AnswerCall() bool
	HangupCall() bool
	SendTone(digit byte) bool
	ListCurrentCalls() bool
	QueryPhoneState() bool
	HighDefCallInProgress() bool
	ProcessChld(chld hfp.Chld) bool
}

// runConsole reads accessory commands from r, one per line, until r is exhausted,
// ctx is done or the user quits.
func runConsole(ctx context.Context, r io.Reader, w io.Writer, a accessory, stop context.CancelFunc) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := parts[0]

		var ok bool
		switch cmd {
		case "answer":
			ok = a.AnswerCall()
		case "hangup":
			ok = a.HangupCall()
		case "list":
			ok = a.ListCurrentCalls()
		case "query":
			ok = a.QueryPhoneState()
		case "hd":
			ok = a.HighDefCallInProgress()
		case "tone":
			if len(parts) < 2 || len(parts[1]) != 1 {
				fmt.Fprintln(w, "Usage: tone <digit>")
				continue
			}
			ok = a.SendTone(parts[1][0])
		case "chld":
			if len(parts) < 2 {
				fmt.Fprintln(w, "Usage: chld <0-3>")
				continue
			}
			n, err := strconv.Atoi(parts[1])
			if err != nil || n < 0 || n > 3 {
				fmt.Fprintln(w, "chld must be 0, 1, 2 or 3")
				continue
			}
			ok = a.ProcessChld(hfp.Chld(n))
		case "quit", "exit":
			stop()
			return
		case "help":
			fmt.Fprintln(w, "Commands:")
			fmt.Fprintln(w, "  answer | hangup     - answer the ringing call / end the foreground call")
			fmt.Fprintln(w, "  chld <0-3>          - multi-party control")
			fmt.Fprintln(w, "  tone <digit>        - send a DTMF tone")
			fmt.Fprintln(w, "  list | query        - list current calls / resend phone state")
			fmt.Fprintln(w, "  hd                  - high definition call in progress")
			fmt.Fprintln(w, "  quit                - exit")
			continue
		default:
			fmt.Fprintf(w, "Unknown command: %s (type 'help' for commands)\n", cmd)
			continue
		}
		fmt.Fprintf(w, "%s: %t\n", cmd, ok)
	}
}
