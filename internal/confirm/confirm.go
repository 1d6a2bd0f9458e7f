// Package confirm supplies the confirmation policy destructive operations
// consult before proceeding. Core packages never read the terminal; the CLI
// layer passes Terminal, non-interactive callers pass Always or Never.
package confirm

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Policy decides whether a destructive action may proceed.
type Policy func(prompt string) bool

// Always approves every action. Used for --force invocations.
func Always(string) bool { return true }

// Never declines every action.
func Never(string) bool { return false }

// Terminal prompts on stdout and reads a y/n answer from stdin.
func Terminal(prompt string) bool {
	return ask(os.Stdin, os.Stdout, prompt)
}

func ask(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/n]: ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "y")
}
