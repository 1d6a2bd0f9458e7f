package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/anvil-vm/anvil/internal/ansible"
	"github.com/anvil-vm/anvil/internal/config"
	"github.com/anvil-vm/anvil/internal/faults"
	"github.com/anvil-vm/anvil/internal/kvm"
	"github.com/anvil-vm/anvil/internal/size"
	"github.com/anvil-vm/anvil/internal/virsh"
)

// Deployer runs the local deploy pipeline.
type Deployer struct {
	cfg  *config.Config
	run  virsh.Runner
	ctrl *kvm.Controller
	prov kvm.Provisioner
	log  *logrus.Entry
}

// NewDeployer creates a pipeline over the given command runner and
// controller. The controller must share the runner's hypervisor.
func NewDeployer(cfg *config.Config, run virsh.Runner, ctrl *kvm.Controller, prov kvm.Provisioner, log *logrus.Entry) *Deployer {
	return &Deployer{cfg: cfg, run: run, ctrl: ctrl, prov: prov, log: log}
}

// Deploy builds and starts the VM described by spec, waits for it to come
// up, runs the startup provisioning, and ejects the seed ISO. It returns
// the deployed name and guest address.
func (d *Deployer) Deploy(ctx context.Context, spec *Spec) (string, string, error) {
	if err := spec.Validate(); err != nil {
		return "", "", err
	}
	name := spec.ResolveName()
	log := d.log.WithField("vm", name)

	exists, err := d.ctrl.Exists(ctx, name)
	if err != nil {
		return "", "", err
	}
	if exists {
		return "", "", faults.New(faults.KindStateConflict, "deploy", "VM %s already exists", name)
	}

	image := d.cfg.ImagePath(spec.Image)
	if _, err := os.Stat(image); err != nil {
		return "", "", faults.New(faults.KindNotFound, "deploy", "base image %s not found", image)
	}

	dir := d.cfg.VMPath(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create VM directory %s: %w", dir, err)
	}

	bootDisk := filepath.Join(dir, "boot.qcow2")
	log.WithField("image", spec.Image).Info("preparing boot disk")
	if _, err := d.run.Run(ctx, "qemu-img", "convert", "-O", "qcow2", image, bootDisk); err != nil {
		return "", "", err
	}
	if spec.DiskSize != "" {
		bytes, err := size.ToBytes(spec.DiskSize)
		if err != nil {
			return "", "", err
		}
		if _, err := d.run.Run(ctx, "qemu-img", "resize", bootDisk, strconv.FormatInt(bytes, 10)); err != nil {
			return "", "", err
		}
	}

	isoPath := filepath.Join(dir, "cidata.iso")
	iso, err := seedISO(name, spec)
	if err != nil {
		return "", "", err
	}
	if err := os.WriteFile(isoPath, iso, 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write seed ISO %s: %w", isoPath, err)
	}

	log.Info("defining and starting VM")
	if _, err := d.run.Run(ctx, "virt-install", d.installArgs(name, spec, bootDisk, isoPath)...); err != nil {
		return "", "", err
	}

	ip, err := d.ctrl.WaitForAddress(ctx, name)
	if err != nil {
		return "", "", err
	}

	log.WithField("ip", ip).Info("running startup provisioning")
	if err := d.prov.Run(ctx, ip, name, ansible.PlaybookStartupMarker, nil); err != nil {
		return "", "", err
	}
	if spec.Playbook != "" {
		log.WithField("playbook", spec.Playbook).Info("running deploy playbook")
		if err := d.prov.Run(ctx, ip, name, spec.Playbook, nil); err != nil {
			return "", "", err
		}
	}

	if err := d.ctrl.EjectISO(ctx, name); err != nil {
		return "", "", err
	}
	log.WithField("ip", ip).Info("deploy complete")
	return name, ip, nil
}

// installArgs composes the virt-install invocation: imported qcow2 boot
// disk on the SCSI bus with a stable serial, the seed ISO as a cdrom, and
// a virtio interface on the bridge.
func (d *Deployer) installArgs(name string, spec *Spec, bootDisk, isoPath string) []string {
	bridge := spec.Bridge
	if bridge == "" {
		bridge = d.cfg.Bridge
	}
	return []string{
		"--virt-type", "kvm",
		"--name", name,
		"--vcpus", strconv.Itoa(spec.CPU),
		"--memory", strconv.Itoa(spec.MemoryMB),
		"--disk", fmt.Sprintf("path=%s,format=qcow2,bus=scsi,cache=none,serial=%s-boot", bootDisk, name),
		"--disk", fmt.Sprintf("path=%s,device=cdrom,serial=%s-cdrom", isoPath, name),
		"--network", "bridge=" + bridge + ",model=virtio",
		"--graphics", "vnc",
		"--os-variant", "generic",
		"--import",
		"--noautoconsole",
	}
}
