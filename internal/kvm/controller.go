// Package kvm implements the local hypervisor controller: state tracking,
// lifecycle transitions with readiness polling and escalation, and the disk
// and network resource managers. All backend access goes through the virsh
// command surface.
package kvm

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anvil-vm/anvil/internal/config"
	"github.com/anvil-vm/anvil/internal/confirm"
	"github.com/anvil-vm/anvil/internal/faults"
	"github.com/anvil-vm/anvil/internal/hypervisor"
	"github.com/anvil-vm/anvil/internal/virsh"
)

// Raw virsh state strings from dominfo.
const (
	stateRunning = "running"
	stateStopped = "shut off"
	statePaused  = "paused"
)

// Provisioner is the configuration-management collaborator the disk manager
// hands off to. Satisfied by *ansible.Runner.
type Provisioner interface {
	Run(ctx context.Context, ip, name, playbook string, extraVars map[string]string) error
}

// polling holds the poll cadence for each wait; tests shrink these.
type polling struct {
	initInterval      time.Duration // start/reboot until an address is reported
	initAttempts      int
	stopInterval      time.Duration // graceful shutdown until shut off
	stopAttempts      int
	forceStopAttempts int // after escalation, never escalates further
	ifaceSettle       time.Duration // hot-added interface link-up delay
}

func defaultPolling() polling {
	return polling{
		initInterval:      5 * time.Second,
		initAttempts:      24, // 120s total
		stopInterval:      time.Second,
		stopAttempts:      60,
		forceStopAttempts: 10,
		ifaceSettle:       5 * time.Second,
	}
}

// Controller drives one local hypervisor.
type Controller struct {
	cfg     *config.Config
	client  *virsh.Client
	prov    Provisioner
	confirm confirm.Policy
	log     *logrus.Entry
	poll    polling
}

// Compile-time check that the local controller is a lifecycle backend.
var _ hypervisor.Backend = (*Controller)(nil)

// NewController creates a controller over the given command runner. policy
// decides destructive-operation prompts; pass confirm.Always for forced,
// non-interactive use.
func NewController(cfg *config.Config, run virsh.Runner, prov Provisioner, policy confirm.Policy, log *logrus.Entry) *Controller {
	return &Controller{
		cfg:     cfg,
		client:  virsh.NewClient(run, log),
		prov:    prov,
		confirm: policy,
		log:     log,
		poll:    defaultPolling(),
	}
}

// Instances queries the hypervisor inventory and partitions every known VM
// into running, stopped, and paused.
func (c *Controller) Instances(ctx context.Context) (hypervisor.Instances, error) {
	out, err := c.client.ListAll(ctx)
	if err != nil {
		return hypervisor.Instances{}, err
	}
	list := virsh.ParseList(out)
	list.Sort()
	return hypervisor.Instances{
		Running: list.Running,
		Stopped: list.Stopped,
		Paused:  list.Paused,
	}, nil
}

// Exists reports whether the VM is known to the hypervisor in any state.
func (c *Controller) Exists(ctx context.Context, name string) (bool, error) {
	return hypervisor.Exists(ctx, c, name)
}

// state returns the dominfo state string, or "" when it cannot be read.
// Polling predicates tolerate the empty value and just try again.
func (c *Controller) state(ctx context.Context, name string) string {
	out, err := c.client.DomInfo(ctx, name)
	if err != nil {
		return ""
	}
	s, err := virsh.ParseDomInfoState(out)
	if err != nil {
		return ""
	}
	return s
}

// IsRunning reports whether the VM is currently running.
func (c *Controller) IsRunning(ctx context.Context, name string) bool {
	return c.state(ctx, name) == stateRunning
}

// IsStopped reports whether the VM is currently shut off.
func (c *Controller) IsStopped(ctx context.Context, name string) bool {
	return c.state(ctx, name) == stateStopped
}

// IsPaused reports whether the VM is currently paused.
func (c *Controller) IsPaused(ctx context.Context, name string) bool {
	return c.state(ctx, name) == statePaused
}

// GuestIP returns the guest-reported IPv4 address of eth0, or "" until the
// guest agent reports a valid one.
func (c *Controller) GuestIP(ctx context.Context, name string) string {
	out, err := c.client.GuestInfo(ctx, name)
	if err != nil {
		return ""
	}
	for _, iface := range virsh.ParseGuestInfo(out) {
		if iface.Name != "eth0" {
			continue
		}
		ip := net.ParseIP(iface.Address)
		if ip != nil && ip.To4() != nil {
			return iface.Address
		}
	}
	return ""
}

// Stats returns the hypervisor-reported counters for one VM as a flat
// key → value map (cpu, balloon, block and net counters).
func (c *Controller) Stats(ctx context.Context, name string) (map[string]string, error) {
	exists, err := c.Exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, faults.New(faults.KindNotFound, "stats", "VM %s does not exist", name)
	}
	out, err := c.client.DomStats(ctx, name)
	if err != nil {
		return nil, err
	}
	return virsh.ParseDomStats(out), nil
}
