// Package virsh reaches the local hypervisor through its management
// command-line surface: virsh for domain operations, qemu-img for backing
// files, virt-install for deploys. Command output is text and is parsed by
// the functions in parse.go.
package virsh

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/anvil-vm/anvil/internal/faults"
)

// Runner executes an external command and returns its stdout.
// This wraps os/exec to allow for testing.
//
// In production, this is satisfied by ExecRunner.
// In tests, this is satisfied by mock implementations.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands on the local host.
type ExecRunner struct{}

// Run executes the command and returns its stdout. A non-zero exit is a
// transport failure carrying the command's stderr.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		op := name + " " + strings.Join(args, " ")
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", &faults.Error{Kind: faults.KindTransport, Op: op, Msg: msg, Err: err}
		}
		return "", faults.Wrap(faults.KindTransport, op, err)
	}
	return stdout.String(), nil
}
