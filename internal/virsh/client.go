package virsh

import (
	"context"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
)

// Client issues virsh and qemu-img commands through a Runner.
type Client struct {
	run Runner
	log *logrus.Entry
}

// NewClient creates a client over the given runner.
func NewClient(run Runner, log *logrus.Entry) *Client {
	return &Client{run: run, log: log}
}

// ListAll returns the raw output of `virsh list --all`.
func (c *Client) ListAll(ctx context.Context) (string, error) {
	return c.run.Run(ctx, "virsh", "list", "--all")
}

// DomInfo returns the raw output of `virsh dominfo <name>`.
func (c *Client) DomInfo(ctx context.Context, name string) (string, error) {
	return c.run.Run(ctx, "virsh", "dominfo", name)
}

// Start starts a defined domain.
func (c *Client) Start(ctx context.Context, name string) error {
	_, err := c.run.Run(ctx, "virsh", "start", name)
	return err
}

// Shutdown requests a graceful guest shutdown.
func (c *Client) Shutdown(ctx context.Context, name string) error {
	_, err := c.run.Run(ctx, "virsh", "shutdown", name)
	return err
}

// Destroy hard-stops a domain. Not graceful, can lose data.
func (c *Client) Destroy(ctx context.Context, name string) error {
	_, err := c.run.Run(ctx, "virsh", "destroy", name)
	return err
}

// Reset hard-resets a running domain.
func (c *Client) Reset(ctx context.Context, name string) error {
	_, err := c.run.Run(ctx, "virsh", "reset", name)
	return err
}

// Reboot requests a guest reboot.
func (c *Client) Reboot(ctx context.Context, name string) error {
	_, err := c.run.Run(ctx, "virsh", "reboot", name)
	return err
}

// Undefine removes the domain definition from the hypervisor.
func (c *Client) Undefine(ctx context.Context, name string) error {
	_, err := c.run.Run(ctx, "virsh", "undefine", name)
	return err
}

// AttachDisk attaches a qcow2 backing file as a SCSI disk. live attaches to
// the running guest as well; the attachment is always persistent.
func (c *Client) AttachDisk(ctx context.Context, vm, path, serial, target string, live bool) error {
	args := []string{
		"attach-disk", vm, path,
		"--driver", "qemu", "--subdriver", "qcow2", "--cache", "none",
		"--serial", serial,
		"--target", target, "--targetbus", "scsi",
	}
	if live {
		args = append(args, "--live")
	}
	args = append(args, "--persistent")
	_, err := c.run.Run(ctx, "virsh", args...)
	return err
}

// DetachDisk detaches a disk by target from the persistent config, and from
// the running guest as well when live is set.
func (c *Client) DetachDisk(ctx context.Context, vm, target string, live bool) error {
	args := []string{"detach-disk", vm, target}
	if live {
		args = append(args, "--live")
	}
	args = append(args, "--config")
	_, err := c.run.Run(ctx, "virsh", args...)
	return err
}

// AttachDevice attaches a device described by an XML document. The document
// is written to a temp file because virsh takes a file path.
func (c *Client) AttachDevice(ctx context.Context, vm, deviceXML string, live bool) error {
	return c.deviceOp(ctx, "attach-device", vm, deviceXML, live)
}

// DetachDevice detaches a device described by an XML document.
func (c *Client) DetachDevice(ctx context.Context, vm, deviceXML string, live bool) error {
	return c.deviceOp(ctx, "detach-device", vm, deviceXML, live)
}

func (c *Client) deviceOp(ctx context.Context, op, vm, deviceXML string, live bool) error {
	f, err := os.CreateTemp("", "anvil-device-*.xml")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(f.Name()) }()
	if _, err := f.WriteString(deviceXML); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	args := []string{op, vm, f.Name()}
	if live {
		args = append(args, "--live")
	}
	args = append(args, "--persistent")
	_, err = c.run.Run(ctx, "virsh", args...)
	return err
}

// DomBlkList returns the raw output of `virsh domblklist <vm>`.
func (c *Client) DomBlkList(ctx context.Context, vm string) (string, error) {
	return c.run.Run(ctx, "virsh", "domblklist", vm)
}

// DomBlkInfo returns the raw output of `virsh domblkinfo <vm> <target>`.
func (c *Client) DomBlkInfo(ctx context.Context, vm, target string) (string, error) {
	return c.run.Run(ctx, "virsh", "domblkinfo", vm, target)
}

// DomStats returns the raw output of `virsh domstats <vm>`.
func (c *Client) DomStats(ctx context.Context, vm string) (string, error) {
	return c.run.Run(ctx, "virsh", "domstats", vm)
}

// GuestInfo returns the raw output of `virsh guestinfo <vm>`. The guest
// agent is unavailable early in boot, so failures here are returned as-is
// and callers typically tolerate them while polling.
func (c *Client) GuestInfo(ctx context.Context, vm string) (string, error) {
	return c.run.Run(ctx, "virsh", "guestinfo", vm)
}

// DumpXML returns the domain's persistent XML definition.
func (c *Client) DumpXML(ctx context.Context, vm string) (string, error) {
	return c.run.Run(ctx, "virsh", "dumpxml", vm)
}

// EjectMedia ejects the media at target from the persistent config.
func (c *Client) EjectMedia(ctx context.Context, vm, target string) error {
	_, err := c.run.Run(ctx, "virsh", "change-media", vm, target, "--eject", "--config")
	return err
}

// CreateImage creates a sparse qcow2 image of exactly sizeBytes.
func (c *Client) CreateImage(ctx context.Context, path string, sizeBytes int64) error {
	c.log.WithFields(logrus.Fields{"path": path, "bytes": sizeBytes}).Debug("creating disk image")
	_, err := c.run.Run(ctx, "qemu-img", "create", "-f", "qcow2", path, strconv.FormatInt(sizeBytes, 10))
	return err
}

// ResizeImage grows or sets an image's virtual size. delta is an absolute
// byte count, or relative when relative is set (qemu-img's +N form).
func (c *Client) ResizeImage(ctx context.Context, path string, deltaBytes int64, relative bool) error {
	amount := strconv.FormatInt(deltaBytes, 10)
	if relative {
		amount = "+" + amount
	}
	_, err := c.run.Run(ctx, "qemu-img", "resize", path, amount)
	return err
}
