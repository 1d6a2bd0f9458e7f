package kvm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"libvirt.org/go/libvirtxml"

	"github.com/anvil-vm/anvil/internal/ansible"
	"github.com/anvil-vm/anvil/internal/faults"
	"github.com/anvil-vm/anvil/internal/size"
	"github.com/anvil-vm/anvil/internal/virsh"
)

// bootTarget is the boot disk slot. It holds the root filesystem and is
// exempt from remove, mount, unmount, and plain resize.
const bootTarget = "sda"

// byIDPrefix is how the guest sees a SCSI disk with a serial set.
const byIDPrefix = "/dev/disk/by-id/scsi-0QEMU_QEMU_HARDDISK_"

// DiskInfo describes one attached disk.
type DiskInfo struct {
	Target   string `json:"target" yaml:"target"`
	Source   string `json:"source" yaml:"source"`
	Capacity string `json:"capacity,omitempty" yaml:"capacity,omitempty"`
}

// Disks returns the target → backing file map for an existing VM.
func (c *Controller) Disks(ctx context.Context, name string) (map[string]string, error) {
	exists, err := c.Exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, faults.New(faults.KindNotFound, "disks", "VM %s does not exist", name)
	}
	out, err := c.client.DomBlkList(ctx, name)
	if err != nil {
		return nil, err
	}
	return virsh.ParseBlockList(out), nil
}

// ListDisks returns attached disks with human-formatted capacities, sorted
// by target.
func (c *Controller) ListDisks(ctx context.Context, name string) ([]DiskInfo, error) {
	disks, err := c.Disks(ctx, name)
	if err != nil {
		return nil, err
	}

	targets := make([]string, 0, len(disks))
	for target := range disks {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	infos := make([]DiskInfo, 0, len(targets))
	for _, target := range targets {
		info := DiskInfo{Target: target, Source: disks[target]}
		if out, err := c.client.DomBlkInfo(ctx, name, target); err == nil {
			if block, err := virsh.ParseBlockInfo(out); err == nil {
				info.Capacity = size.ToHumanBytes(block.Capacity)
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// nextTarget allocates the next free device slot: one letter past the
// lexicographically greatest currently-attached target, or sda for the
// first disk. Allocation fails once the greatest target ends in z.
func nextTarget(disks map[string]string) (string, error) {
	if len(disks) == 0 {
		return bootTarget, nil
	}
	targets := make([]string, 0, len(disks))
	for target := range disks {
		targets = append(targets, strings.ToLower(target))
	}
	sort.Strings(targets)

	last := targets[len(targets)-1]
	if last[len(last)-1] == 'z' {
		return "", faults.New(faults.KindStateConflict, "attach", "no more device targets available after %s", last)
	}
	return last[:len(last)-1] + string(last[len(last)-1]+1), nil
}

// diskSerial builds the device serial from the VM name and the backing
// file's basename, extension stripped.
func diskSerial(vmName, source string) string {
	base := filepath.Base(source)
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	return vmName + "-" + base
}

// guestDevice is the stable by-id path a disk's serial maps to inside the
// guest. partition appends -part1 for every target except the boot disk,
// which is addressed unsuffixed. Single-partition layout assumption; see
// the repository design notes.
func guestDevice(vmName, source, target string, partition bool) string {
	dev := byIDPrefix + diskSerial(vmName, source)
	if partition && target != bootTarget {
		dev += "-part1"
	}
	return dev
}

// CreateDataDisk creates a qcow2 backing file of exactly the requested size
// in the VM's directory and attaches it at the next free target. An empty
// name generates one. Size conversion or file creation failure aborts
// before any attach attempt.
func (c *Controller) CreateDataDisk(ctx context.Context, vmName, sizeSpec, name string) (string, error) {
	exists, err := c.Exists(ctx, vmName)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", faults.New(faults.KindNotFound, "create-disk", "VM %s does not exist", vmName)
	}

	sizeBytes, err := size.ToBytes(sizeSpec)
	if err != nil {
		return "", err
	}
	if name == "" {
		name = "data-" + uuid.New().String()[:8]
	}

	path := filepath.Join(c.cfg.VMPath(vmName), name+".qcow2")
	c.log.WithFields(logrus.Fields{"vm": vmName, "path": path, "bytes": sizeBytes}).Info("creating data disk")
	if err := c.client.CreateImage(ctx, path, sizeBytes); err != nil {
		return "", err
	}
	if err := c.AttachDataDisk(ctx, vmName, path); err != nil {
		return "", err
	}
	return path, nil
}

// AttachDataDisk attaches an existing backing file at the next free target.
// The attach is live as well when the VM is running, and always persistent.
// On a running VM the new disk is then formatted and mounted through the
// provisioning handoff.
func (c *Controller) AttachDataDisk(ctx context.Context, vmName, path string) error {
	disks, err := c.Disks(ctx, vmName)
	if err != nil {
		return err
	}
	target, err := nextTarget(disks)
	if err != nil {
		return err
	}

	serial := diskSerial(vmName, path)
	live := c.IsRunning(ctx, vmName)
	c.log.WithFields(logrus.Fields{"vm": vmName, "target": target, "serial": serial, "live": live}).Info("attaching disk")
	if err := c.client.AttachDisk(ctx, vmName, path, serial, target, live); err != nil {
		return err
	}
	if !live {
		return nil
	}

	ip := c.GuestIP(ctx, vmName)
	if ip == "" {
		return faults.New(faults.KindTransport, "attach", "VM %s has no reachable address for disk setup", vmName)
	}
	return c.prov.Run(ctx, ip, vmName, ansible.PlaybookFormatMount, map[string]string{
		"device":      guestDevice(vmName, path, target, true),
		"mount_point": "/mnt/" + strings.TrimSuffix(filepath.Base(path), ".qcow2"),
	})
}

// RemoveDataDisk detaches the disk at target and, with force or operator
// confirmation, deletes its backing file. The boot disk is refused. On a
// running VM the filesystem is unmounted through the handoff first.
func (c *Controller) RemoveDataDisk(ctx context.Context, vmName, target string, force bool) error {
	if target == bootTarget {
		return faults.New(faults.KindStateConflict, "remove-disk", "refusing to remove boot disk %s", bootTarget)
	}
	disks, err := c.Disks(ctx, vmName)
	if err != nil {
		return err
	}
	source, ok := disks[target]
	if !ok {
		return faults.New(faults.KindNotFound, "remove-disk", "VM %s has no disk at %s", vmName, target)
	}

	live := c.IsRunning(ctx, vmName)
	if live {
		ip := c.GuestIP(ctx, vmName)
		if ip == "" {
			return faults.New(faults.KindTransport, "remove-disk", "VM %s has no reachable address for unmount", vmName)
		}
		err := c.prov.Run(ctx, ip, vmName, ansible.PlaybookUnmount, map[string]string{
			"device": guestDevice(vmName, source, target, true),
		})
		if err != nil {
			return err
		}
	}

	descriptor, err := diskXML(source, target)
	if err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"vm": vmName, "target": target}).Info("detaching disk")
	if err := c.client.DetachDevice(ctx, vmName, descriptor, live); err != nil {
		return err
	}

	if !force && !c.confirm(fmt.Sprintf("Delete backing file %s?", source)) {
		c.log.WithField("path", source).Warn("backing file kept")
		return nil
	}
	if err := os.Remove(source); err != nil {
		return fmt.Errorf("failed to delete backing file %s: %w", source, err)
	}
	return nil
}

// IncreaseDiskSize grows the disk at target by sizeSpec (for example +5G),
// restarts the VM, and grows the partition and filesystem through the
// provisioning handoff. The VM must be powered off for the resize; without
// force the operator is asked before it is shut down.
func (c *Controller) IncreaseDiskSize(ctx context.Context, vmName, target, sizeSpec string, force bool) error {
	disks, err := c.Disks(ctx, vmName)
	if err != nil {
		return err
	}
	source, ok := disks[target]
	if !ok {
		return faults.New(faults.KindNotFound, "resize", "VM %s has no disk at %s", vmName, target)
	}

	relative := strings.HasPrefix(sizeSpec, "+")
	deltaBytes, err := size.ToBytes(strings.TrimPrefix(sizeSpec, "+"))
	if err != nil {
		return err
	}

	if c.IsRunning(ctx, vmName) {
		if !force && !c.confirm(fmt.Sprintf("VM %s must be powered off to resize %s. Shut it down?", vmName, target)) {
			return faults.New(faults.KindStateConflict, "resize", "VM %s is running", vmName)
		}
		if err := c.Shutdown(ctx, vmName); err != nil {
			return err
		}
	}

	c.log.WithFields(logrus.Fields{"vm": vmName, "target": target, "delta": sizeSpec}).Info("resizing disk")
	if err := c.client.ResizeImage(ctx, source, deltaBytes, relative); err != nil {
		return err
	}

	ip, err := c.Start(ctx, vmName)
	if err != nil {
		return err
	}
	return c.prov.Run(ctx, ip, vmName, ansible.PlaybookGrowPartition, map[string]string{
		"device": guestDevice(vmName, source, target, true),
	})
}

// MountDataDisk formats and mounts the disk at target through the handoff.
// Requires a running VM; the boot disk is refused.
func (c *Controller) MountDataDisk(ctx context.Context, vmName, target, mountPoint string) error {
	return c.mountOp(ctx, vmName, target, mountPoint, ansible.PlaybookFormatMount, "mount")
}

// UnmountDataDisk unmounts the disk at target through the handoff.
// Requires a running VM; the boot disk is refused.
func (c *Controller) UnmountDataDisk(ctx context.Context, vmName, target, mountPoint string) error {
	return c.mountOp(ctx, vmName, target, mountPoint, ansible.PlaybookUnmount, "unmount")
}

func (c *Controller) mountOp(ctx context.Context, vmName, target, mountPoint, playbook, op string) error {
	if target == bootTarget {
		return faults.New(faults.KindStateConflict, op, "refusing to %s boot disk %s", op, bootTarget)
	}
	disks, err := c.Disks(ctx, vmName)
	if err != nil {
		return err
	}
	source, ok := disks[target]
	if !ok {
		return faults.New(faults.KindNotFound, op, "VM %s has no disk at %s", vmName, target)
	}
	if !c.IsRunning(ctx, vmName) {
		return faults.New(faults.KindStateConflict, op, "VM %s is not running", vmName)
	}
	ip := c.GuestIP(ctx, vmName)
	if ip == "" {
		return faults.New(faults.KindTransport, op, "VM %s has no reachable address", vmName)
	}
	return c.prov.Run(ctx, ip, vmName, playbook, map[string]string{
		"device":      guestDevice(vmName, source, target, true),
		"mount_point": mountPoint,
	})
}

// diskXML renders the detach descriptor for a disk, keyed by backing file
// path and target on the SCSI bus.
func diskXML(source, target string) (string, error) {
	disk := libvirtxml.DomainDisk{
		Device: "disk",
		Driver: &libvirtxml.DomainDiskDriver{Name: "qemu", Type: "qcow2"},
		Source: &libvirtxml.DomainDiskSource{
			File: &libvirtxml.DomainDiskSourceFile{File: source},
		},
		Target: &libvirtxml.DomainDiskTarget{Dev: target, Bus: "scsi"},
	}
	xml, err := disk.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal disk descriptor: %w", err)
	}
	return xml, nil
}
