// check-lock-overlap reads a lock snapshot from stdin and prints a
// single-line allow/deny verdict on stdout. Exit status 0 means allow,
// 1 means deny. Intended to run as a pre-write validation hook.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sematica-ai/memory-engine/internal/validator"
)

func main() {
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read stdin:", err)
		os.Exit(1)
	}

	result := validator.Check(raw)
	line, err := validator.Encode(result)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(line)

	if !result.Allow {
		os.Exit(1)
	}
}
