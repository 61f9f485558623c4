// Package main provides the callsync service and its tools.
//
// Usage:
//
//	callsync serve [--env-file .env] [--interactive]
//	callsync replay <scenario.yaml>...
//	callsync journal <session>
package main

import (
	"fmt"
	"os"

	"github.com/dense-identity/callsync/cmd/callsync/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
