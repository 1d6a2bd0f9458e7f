package kvm

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/anvil-vm/anvil/internal/config"
	"github.com/anvil-vm/anvil/internal/confirm"
	"github.com/anvil-vm/anvil/internal/faults"
	"github.com/anvil-vm/anvil/internal/logging"
)

// fakeHost emulates a hypervisor behind the virsh command surface. It keeps
// a name → state map and answers the commands the controller issues,
// recording every call.
type fakeHost struct {
	domains map[string]string // name → dominfo state
	ips     map[string]string // name → guest-reported eth0 address
	canned  map[string]string // subcommand → fixed output, checked first

	// ignoreShutdown leaves the domain running after a graceful shutdown
	// request, forcing the caller to escalate.
	ignoreShutdown bool
	// ignoreDestroy leaves the domain running even after destroy.
	ignoreDestroy bool

	calls [][]string
	errs  map[string]error // subcommand → forced error
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		domains: make(map[string]string),
		ips:     make(map[string]string),
		canned:  make(map[string]string),
		errs:    make(map[string]error),
	}
}

func (h *fakeHost) Run(_ context.Context, name string, args ...string) (string, error) {
	call := append([]string{name}, args...)
	h.calls = append(h.calls, call)

	if name == "qemu-img" {
		if err := h.errs[args[0]]; err != nil {
			return "", err
		}
		return "", nil
	}

	sub := args[0]
	if err := h.errs[sub]; err != nil {
		return "", err
	}
	if out, ok := h.canned[sub]; ok {
		return out, nil
	}

	switch sub {
	case "list":
		var b strings.Builder
		b.WriteString(" Id   Name      State\n----------------------------\n")
		id := 1
		for dom, state := range h.domains {
			if state == stateRunning {
				fmt.Fprintf(&b, " %d    %s   running\n", id, dom)
				id++
			} else if state == statePaused {
				fmt.Fprintf(&b, " %d    %s   paused\n", id, dom)
				id++
			} else {
				fmt.Fprintf(&b, " -    %s   shut off\n", dom)
			}
		}
		return b.String(), nil
	case "dominfo":
		state, ok := h.domains[args[1]]
		if !ok {
			return "", faults.New(faults.KindTransport, "virsh", "failed to get domain '%s'", args[1])
		}
		return "State:          " + state + "\n", nil
	case "guestinfo":
		ip, ok := h.ips[args[1]]
		if !ok || h.domains[args[1]] != stateRunning {
			return "", faults.New(faults.KindTransport, "virsh", "guest agent is not connected")
		}
		return fmt.Sprintf("if.count             : 1\n"+
			"if.0.name            : eth0\n"+
			"if.0.hwaddr          : 52:54:00:11:22:33\n"+
			"if.0.addr.count      : 1\n"+
			"if.0.addr.0.type     : ipv4\n"+
			"if.0.addr.0.addr     : %s\n"+
			"if.0.addr.0.prefix   : 24\n", ip), nil
	case "start":
		h.domains[args[1]] = stateRunning
	case "shutdown":
		if !h.ignoreShutdown {
			h.domains[args[1]] = stateStopped
		}
	case "destroy":
		if !h.ignoreDestroy {
			h.domains[args[1]] = stateStopped
		}
	case "reboot", "reset":
		// stays running
	case "undefine":
		delete(h.domains, args[1])
	}
	return "", nil
}

// commands returns the recorded subcommands in order, qemu-img invocations
// included by binary name.
func (h *fakeHost) commands() []string {
	var subs []string
	for _, call := range h.calls {
		if call[0] == "qemu-img" {
			subs = append(subs, "qemu-img "+call[1])
			continue
		}
		subs = append(subs, call[1])
	}
	return subs
}

func (h *fakeHost) lastCall(sub string) []string {
	for i := len(h.calls) - 1; i >= 0; i-- {
		if h.calls[i][1] == sub || h.calls[i][0]+" "+h.calls[i][1] == sub {
			return h.calls[i]
		}
	}
	return nil
}

type provCall struct {
	IP        string
	Name      string
	Playbook  string
	ExtraVars map[string]string
}

type fakeProvisioner struct {
	calls []provCall
	err   error
}

func (p *fakeProvisioner) Run(_ context.Context, ip, name, playbook string, extraVars map[string]string) error {
	p.calls = append(p.calls, provCall{IP: ip, Name: name, Playbook: playbook, ExtraVars: extraVars})
	return p.err
}

// testPolling keeps every wait in the microsecond range so timeout paths
// run instantly.
func testPolling() polling {
	return polling{
		initInterval:      time.Microsecond,
		initAttempts:      3,
		stopInterval:      time.Microsecond,
		stopAttempts:      3,
		forceStopAttempts: 2,
		ifaceSettle:       time.Microsecond,
	}
}

func newTestController(t *testing.T, host *fakeHost, prov *fakeProvisioner, policy confirm.Policy) *Controller {
	t.Helper()
	cfg := &config.Config{VMDir: t.TempDir(), Bridge: "virbr0"}
	c := NewController(cfg, host, prov, policy, logging.NewEntry("test"))
	c.poll = testPolling()
	return c
}
