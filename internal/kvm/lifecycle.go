package kvm

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/anvil-vm/anvil/internal/faults"
	"github.com/anvil-vm/anvil/internal/wait"
)

// Start powers on a stopped VM and waits for the guest agent to report a
// valid IPv4 address, which it returns. Starting an already-running VM is a
// no-op success. On wait timeout the VM is left running and the timeout is
// reported.
func (c *Controller) Start(ctx context.Context, name string) (string, error) {
	instances, err := c.Instances(ctx)
	if err != nil {
		return "", err
	}
	if !instances.Contains(name) {
		return "", faults.New(faults.KindNotFound, "start", "VM %s does not exist", name)
	}
	if instances.IsRunning(name) {
		c.log.WithField("vm", name).Info("VM is already running")
		return c.GuestIP(ctx, name), nil
	}

	c.log.WithField("vm", name).Info("starting VM")
	if err := c.client.Start(ctx, name); err != nil {
		return "", err
	}
	return c.waitForInit(ctx, name)
}

// waitForInit polls until the guest reports a valid IPv4 address.
func (c *Controller) waitForInit(ctx context.Context, name string) (string, error) {
	var ip string
	err := wait.Until(ctx, func() bool {
		ip = c.GuestIP(ctx, name)
		return ip != ""
	}, c.poll.initInterval, c.poll.initAttempts)
	if err != nil {
		return "", fmt.Errorf("VM %s did not report an address: %w", name, err)
	}
	c.log.WithFields(logrus.Fields{"vm": name, "ip": ip}).Info("VM is up")
	return ip, nil
}

// WaitForAddress blocks until the guest agent reports a valid address for
// an already-started VM, and returns it.
func (c *Controller) WaitForAddress(ctx context.Context, name string) (string, error) {
	return c.waitForInit(ctx, name)
}

// Shutdown gracefully stops a running VM. A VM that is not running is a
// no-op success. If the VM has not reached shut off after the graceful wait
// it escalates exactly once to a forced destroy.
func (c *Controller) Shutdown(ctx context.Context, name string) error {
	instances, err := c.Instances(ctx)
	if err != nil {
		return err
	}
	if !instances.Contains(name) {
		return faults.New(faults.KindNotFound, "shutdown", "VM %s does not exist", name)
	}
	if !instances.IsRunning(name) {
		c.log.WithField("vm", name).Info("VM is not running")
		return nil
	}

	c.log.WithField("vm", name).Info("shutting down VM")
	if err := c.client.Shutdown(ctx, name); err != nil {
		return err
	}

	err = wait.Until(ctx, func() bool { return c.IsStopped(ctx, name) },
		c.poll.stopInterval, c.poll.stopAttempts)
	if err == nil {
		return nil
	}
	if !faults.IsKind(err, faults.KindTimeout) {
		return err
	}

	c.log.WithField("vm", name).Warn("graceful shutdown timed out, forcing")
	return c.ForceShutdown(ctx, name)
}

// ForceShutdown destroys the VM immediately. Not graceful, can lose data.
// The post-destroy wait is short and never escalates further.
func (c *Controller) ForceShutdown(ctx context.Context, name string) error {
	c.log.WithField("vm", name).Info("force shutting down VM")
	if err := c.client.Destroy(ctx, name); err != nil {
		return err
	}
	return wait.Until(ctx, func() bool { return c.IsStopped(ctx, name) },
		c.poll.stopInterval, c.poll.forceStopAttempts)
}

// Reboot requests a guest reboot and waits for the address to come back.
// A reboot request on a non-running VM is treated as a start request.
func (c *Controller) Reboot(ctx context.Context, name string) (string, error) {
	return c.restart(ctx, name, "reboot", c.client.Reboot)
}

// HardReset resets the VM without guest cooperation and waits for the
// address to come back. Resets on a non-running VM start it instead.
func (c *Controller) HardReset(ctx context.Context, name string) (string, error) {
	return c.restart(ctx, name, "reset", c.client.Reset)
}

func (c *Controller) restart(ctx context.Context, name, op string, issue func(context.Context, string) error) (string, error) {
	instances, err := c.Instances(ctx)
	if err != nil {
		return "", err
	}
	if !instances.Contains(name) {
		return "", faults.New(faults.KindNotFound, op, "VM %s does not exist", name)
	}
	if !instances.IsRunning(name) {
		c.log.WithField("vm", name).Infof("VM is not running, starting instead of %s", op)
		return c.Start(ctx, name)
	}

	c.log.WithField("vm", name).Infof("issuing %s", op)
	if err := issue(ctx, name); err != nil {
		return "", err
	}
	return c.waitForInit(ctx, name)
}

// SoftReset shuts the VM down gracefully and starts it back up.
func (c *Controller) SoftReset(ctx context.Context, name string) (string, error) {
	if err := c.Shutdown(ctx, name); err != nil {
		return "", err
	}
	return c.Start(ctx, name)
}

// Delete removes the VM: graceful shutdown when running, undefine, then
// removal of the VM's backing directory tree. Each sub-step failure aborts
// the remaining steps. Without force the confirmation policy is consulted
// first.
func (c *Controller) Delete(ctx context.Context, name string, force bool) error {
	if !force && !c.confirm(fmt.Sprintf("Delete VM %s and all of its data?", name)) {
		return faults.New(faults.KindStateConflict, "delete", "confirmation declined for VM %s", name)
	}

	instances, err := c.Instances(ctx)
	if err != nil {
		return err
	}
	if !instances.Contains(name) {
		return faults.New(faults.KindNotFound, "delete", "VM %s does not exist", name)
	}

	c.log.WithField("vm", name).Info("deleting VM")
	if instances.IsRunning(name) {
		if err := c.Shutdown(ctx, name); err != nil {
			return fmt.Errorf("failed to shut down VM %s before delete: %w", name, err)
		}
	}
	if err := c.client.Undefine(ctx, name); err != nil {
		return err
	}

	dir := c.cfg.VMPath(name)
	c.log.WithField("dir", dir).Info("removing VM directory")
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove VM directory %s: %w", dir, err)
	}
	return nil
}

// EjectISO ejects the first attached .iso media and removes its cdrom
// device from the config.
func (c *Controller) EjectISO(ctx context.Context, name string) error {
	disks, err := c.Disks(ctx, name)
	if err != nil {
		return err
	}
	for target, source := range disks {
		if len(source) < 4 || source[len(source)-4:] != ".iso" {
			continue
		}
		if err := c.client.EjectMedia(ctx, name, target); err != nil {
			return err
		}
		c.log.WithFields(logrus.Fields{"vm": name, "target": target}).Info("ejected media")
		return c.client.DetachDisk(ctx, name, target, c.IsRunning(ctx, name))
	}
	return faults.New(faults.KindNotFound, "eject", "no attached iso media on VM %s", name)
}

// Purge deletes every VM that is not currently running, along with its
// directory tree. One confirmation covers the whole sweep.
func (c *Controller) Purge(ctx context.Context) error {
	if !c.confirm("Purge all non-running VMs and delete their data?") {
		return faults.New(faults.KindStateConflict, "purge", "confirmation declined")
	}
	instances, err := c.Instances(ctx)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(c.cfg.VMDir)
	if err != nil {
		return fmt.Errorf("failed to read VM directory %s: %w", c.cfg.VMDir, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if instances.IsRunning(name) {
			continue
		}
		if !instances.Contains(name) {
			// Leftover directory with no definition behind it.
			if err := os.RemoveAll(c.cfg.VMPath(name)); err != nil {
				return fmt.Errorf("failed to remove orphan directory %s: %w", name, err)
			}
			continue
		}
		if err := c.Delete(ctx, name, true); err != nil {
			return fmt.Errorf("failed to purge VM %s: %w", name, err)
		}
	}
	return nil
}

// StartInstance adapts Start to the hypervisor.Backend interface.
func (c *Controller) StartInstance(ctx context.Context, name string) error {
	_, err := c.Start(ctx, name)
	return err
}

// StopInstance adapts Shutdown to the hypervisor.Backend interface.
func (c *Controller) StopInstance(ctx context.Context, name string) error {
	return c.Shutdown(ctx, name)
}

// ResetInstance adapts HardReset to the hypervisor.Backend interface.
func (c *Controller) ResetInstance(ctx context.Context, name string) error {
	_, err := c.HardReset(ctx, name)
	return err
}

// DeleteInstance adapts Delete to the hypervisor.Backend interface,
// consulting the controller's confirmation policy.
func (c *Controller) DeleteInstance(ctx context.Context, name string) error {
	return c.Delete(ctx, name, false)
}
