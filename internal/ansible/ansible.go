// Package ansible is the provisioning handoff: once a VM's management IP is
// reachable, a playbook finishes configuring it. The contract is a relative
// playbook name, an inventory binding name → ip, and a flat variable map
// passed as extra vars.
package ansible

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/anvil-vm/anvil/internal/config"
	"github.com/anvil-vm/anvil/internal/wait"
)

// Playbooks the disk manager and deploy pipeline hand off to.
const (
	PlaybookStartupMarker = "wait_for_startup_marker.yml"
	PlaybookGrowPartition = "grow_partition.yml"
	PlaybookFormatMount   = "format_mount_disk.yml"
	PlaybookUnmount       = "unmount_disk.yml"
)

const (
	sshPort          = "22"
	readyInterval    = 5 * time.Second
	readyMaxAttempts = 24
)

// CommandRunner executes an external command and returns its stdout.
// Satisfied by virsh.ExecRunner in production and by mocks in tests.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// Runner invokes ansible-playbook against a single host.
type Runner struct {
	cfg config.AnsibleConfig
	run CommandRunner
	log *logrus.Entry
}

// New creates a Runner bound to the given ansible configuration.
func New(cfg config.AnsibleConfig, run CommandRunner, log *logrus.Entry) *Runner {
	return &Runner{cfg: cfg, run: run, log: log}
}

// inventory is the minimal one-host inventory handed to ansible-playbook.
type inventory struct {
	All struct {
		Hosts map[string]inventoryHost `yaml:"hosts"`
	} `yaml:"all"`
}

type inventoryHost struct {
	AnsibleHost string `yaml:"ansible_host"`
}

// WaitReady blocks until the host's SSH port accepts connections.
func (r *Runner) WaitReady(ctx context.Context, ip string) error {
	r.log.WithField("ip", ip).Info("waiting for SSH to become reachable")
	return wait.ForTCP(ctx, ip+":"+sshPort, readyInterval, readyMaxAttempts)
}

// Run executes the playbook against the host, binding name → ip in a
// throwaway inventory. extraVars may be nil. The playbook's exit status is
// the success/failure result.
func (r *Runner) Run(ctx context.Context, ip, name, playbook string, extraVars map[string]string) error {
	invPath, err := r.writeInventory(ip, name)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(invPath) }()

	args := []string{
		"-i", invPath,
		filepath.Join(r.cfg.PlaybookDir, playbook),
		"--private-key", r.cfg.PrivateKey,
		"-u", r.cfg.User,
	}
	if len(extraVars) > 0 {
		vars, err := json.Marshal(extraVars)
		if err != nil {
			return fmt.Errorf("failed to encode extra vars: %w", err)
		}
		args = append(args, "--extra-vars", string(vars))
	}

	r.log.WithFields(logrus.Fields{"host": name, "playbook": playbook}).Info("running playbook")
	if _, err := r.run.Run(ctx, "ansible-playbook", args...); err != nil {
		return fmt.Errorf("playbook %s failed on %s: %w", playbook, name, err)
	}
	return nil
}

func (r *Runner) writeInventory(ip, name string) (string, error) {
	var inv inventory
	inv.All.Hosts = map[string]inventoryHost{name: {AnsibleHost: ip}}

	data, err := yaml.Marshal(&inv)
	if err != nil {
		return "", fmt.Errorf("failed to marshal inventory: %w", err)
	}

	f, err := os.CreateTemp("", "anvil-inventory-*.yml")
	if err != nil {
		return "", fmt.Errorf("failed to create inventory file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write inventory file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close inventory file: %w", err)
	}
	return f.Name(), nil
}
