package kvm

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"libvirt.org/go/libvirtxml"

	"github.com/anvil-vm/anvil/internal/faults"
	"github.com/anvil-vm/anvil/internal/virsh"
)

// InterfaceInfo describes one network interface on a VM. Address and
// Prefix come from the guest agent and are only populated for running VMs;
// Source and Model come from the persistent definition.
type InterfaceInfo struct {
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	MAC     string `json:"mac" yaml:"mac"`
	Address string `json:"address,omitempty" yaml:"address,omitempty"`
	Prefix  string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Source  string `json:"source,omitempty" yaml:"source,omitempty"`
	Model   string `json:"model,omitempty" yaml:"model,omitempty"`
}

// AddInterface attaches a virtio interface on bridge to the VM. The attach
// is live as well when the VM is running, and always persistent. The
// resulting interface set is reported back; a running VM first gets a
// moment to bring the link up.
func (c *Controller) AddInterface(ctx context.Context, vmName, bridge string) ([]InterfaceInfo, error) {
	exists, err := c.Exists(ctx, vmName)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, faults.New(faults.KindNotFound, "add-interface", "VM %s does not exist", vmName)
	}
	if bridge == "" {
		bridge = c.cfg.Bridge
	}

	descriptor, err := interfaceXML(bridge, "")
	if err != nil {
		return nil, err
	}
	live := c.IsRunning(ctx, vmName)
	c.log.WithFields(logrus.Fields{"vm": vmName, "bridge": bridge, "live": live}).Info("attaching interface")
	if err := c.client.AttachDevice(ctx, vmName, descriptor, live); err != nil {
		return nil, err
	}
	if live {
		select {
		case <-ctx.Done():
			return nil, faults.Wrap(faults.KindTimeout, "add-interface", ctx.Err())
		case <-time.After(c.poll.ifaceSettle):
		}
	}
	return c.ListInterfaces(ctx, vmName)
}

// RemoveInterface detaches the interface with the given MAC address. The
// detach is live as well when the VM is running, and always persistent.
func (c *Controller) RemoveInterface(ctx context.Context, vmName, mac string) error {
	exists, err := c.Exists(ctx, vmName)
	if err != nil {
		return err
	}
	if !exists {
		return faults.New(faults.KindNotFound, "remove-interface", "VM %s does not exist", vmName)
	}

	descriptor, err := interfaceXML("", mac)
	if err != nil {
		return err
	}
	live := c.IsRunning(ctx, vmName)
	c.log.WithFields(logrus.Fields{"vm": vmName, "mac": mac, "live": live}).Info("detaching interface")
	return c.client.DetachDevice(ctx, vmName, descriptor, live)
}

// ListInterfaces reports the VM's interfaces. A running VM is asked through
// the guest agent, which includes addresses (eth* devices only, in device
// order); a stopped VM is read from its persistent definition, which has
// MAC, source bridge, and model but no address.
func (c *Controller) ListInterfaces(ctx context.Context, vmName string) ([]InterfaceInfo, error) {
	exists, err := c.Exists(ctx, vmName)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, faults.New(faults.KindNotFound, "list-interfaces", "VM %s does not exist", vmName)
	}

	if c.IsRunning(ctx, vmName) {
		out, err := c.client.GuestInfo(ctx, vmName)
		if err != nil {
			return nil, err
		}
		ifaces := virsh.ParseGuestInfo(out)
		nums := make([]string, 0, len(ifaces))
		for num := range ifaces {
			nums = append(nums, num)
		}
		sort.Slice(nums, func(i, j int) bool {
			a, _ := strconv.Atoi(nums[i])
			b, _ := strconv.Atoi(nums[j])
			return a < b
		})
		var infos []InterfaceInfo
		for _, num := range nums {
			iface := ifaces[num]
			if !strings.HasPrefix(iface.Name, "eth") {
				continue
			}
			infos = append(infos, InterfaceInfo{
				Name:    iface.Name,
				MAC:     iface.HWAddr,
				Address: iface.Address,
				Prefix:  iface.Prefix,
			})
		}
		return infos, nil
	}

	out, err := c.client.DumpXML(ctx, vmName)
	if err != nil {
		return nil, err
	}
	var domain libvirtxml.Domain
	if err := domain.Unmarshal(out); err != nil {
		return nil, faults.Wrap(faults.KindParse, "list-interfaces", err)
	}
	var infos []InterfaceInfo
	if domain.Devices == nil {
		return infos, nil
	}
	for _, iface := range domain.Devices.Interfaces {
		info := InterfaceInfo{}
		if iface.MAC != nil {
			info.MAC = iface.MAC.Address
		}
		if iface.Source != nil && iface.Source.Bridge != nil {
			info.Source = iface.Source.Bridge.Bridge
		}
		if iface.Model != nil {
			info.Model = iface.Model.Type
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// interfaceXML renders a bridge interface descriptor. With a MAC set the
// descriptor keys an existing device for detach; with a bridge set it
// describes a new virtio device for attach.
func interfaceXML(bridge, mac string) (string, error) {
	iface := libvirtxml.DomainInterface{}
	if bridge != "" {
		iface.Source = &libvirtxml.DomainInterfaceSource{
			Bridge: &libvirtxml.DomainInterfaceSourceBridge{Bridge: bridge},
		}
		iface.Model = &libvirtxml.DomainInterfaceModel{Type: "virtio"}
	}
	if mac != "" {
		iface.MAC = &libvirtxml.DomainInterfaceMAC{Address: mac}
	}
	xml, err := iface.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal interface descriptor: %w", err)
	}
	return xml, nil
}
