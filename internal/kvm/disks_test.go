package kvm

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/anvil-vm/anvil/internal/confirm"
	"github.com/anvil-vm/anvil/internal/faults"
)

const blkListTwoDisks = ` Target   Source
--------------------------------------------
 sda      /var/lib/anvil/vms/web0/boot.qcow2
 sdb      /var/lib/anvil/vms/web0/data-1.qcow2
`

func TestNextTarget(t *testing.T) {
	tests := []struct {
		name    string
		disks   map[string]string
		want    string
		wantErr bool
	}{
		{name: "empty", disks: map[string]string{}, want: "sda"},
		{name: "after boot", disks: map[string]string{"sda": "/x"}, want: "sdb"},
		{name: "gap does not matter", disks: map[string]string{"sda": "/x", "sdb": "/y"}, want: "sdc"},
		{name: "exhausted", disks: map[string]string{"sdz": "/x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := nextTarget(tt.disks)
			if tt.wantErr {
				if !faults.IsKind(err, faults.KindStateConflict) {
					t.Fatalf("expected state-conflict error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDiskSerial(t *testing.T) {
	if got := diskSerial("web0", "/var/lib/anvil/vms/web0/data-1.qcow2"); got != "web0-data-1" {
		t.Errorf("got %q", got)
	}
}

func TestGuestDevice(t *testing.T) {
	tests := []struct {
		name      string
		source    string
		target    string
		partition bool
		want      string
	}{
		{
			name: "data disk partition", source: "/v/web0/data-1.qcow2", target: "sdb", partition: true,
			want: byIDPrefix + "web0-data-1-part1",
		},
		{
			name: "boot disk never suffixed", source: "/v/web0/boot.qcow2", target: "sda", partition: true,
			want: byIDPrefix + "web0-boot",
		},
		{
			name: "whole device", source: "/v/web0/data-1.qcow2", target: "sdb", partition: false,
			want: byIDPrefix + "web0-data-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := guestDevice("web0", tt.source, tt.target, tt.partition); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCreateDataDiskBytesExact(t *testing.T) {
	host := newFakeHost()
	host.domains["web0"] = stateStopped
	host.canned["domblklist"] = blkListTwoDisks
	c := newTestController(t, host, &fakeProvisioner{}, confirm.Always)

	path, err := c.CreateDataDisk(context.Background(), "web0", "5G", "scratch")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Base(path) != "scratch.qcow2" {
		t.Errorf("got path %q", path)
	}

	create := host.lastCall("qemu-img create")
	if create == nil {
		t.Fatal("qemu-img create never ran")
	}
	if got := create[len(create)-1]; got != "5368709120" {
		t.Errorf("created with %s bytes, want 5368709120", got)
	}
}

func TestCreateDataDiskBadSizeAborts(t *testing.T) {
	host := newFakeHost()
	host.domains["web0"] = stateStopped
	c := newTestController(t, host, &fakeProvisioner{}, confirm.Always)

	if _, err := c.CreateDataDisk(context.Background(), "web0", "5Q", ""); err == nil {
		t.Fatal("expected size error")
	}
	if host.lastCall("qemu-img create") != nil {
		t.Error("backing file created despite bad size")
	}
}

func TestAttachDataDiskStoppedVM(t *testing.T) {
	host := newFakeHost()
	host.domains["web0"] = stateStopped
	host.canned["domblklist"] = blkListTwoDisks
	prov := &fakeProvisioner{}
	c := newTestController(t, host, prov, confirm.Always)

	err := c.AttachDataDisk(context.Background(), "web0", "/v/web0/data-2.qcow2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	attach := host.lastCall("attach-disk")
	if attach == nil {
		t.Fatal("attach-disk never ran")
	}
	joined := strings.Join(attach, " ")
	if !strings.Contains(joined, "--target sdc") {
		t.Errorf("expected target sdc in %q", joined)
	}
	if !strings.Contains(joined, "--serial web0-data-2") {
		t.Errorf("expected serial in %q", joined)
	}
	if strings.Contains(joined, "--live") {
		t.Error("stopped VM attach must not be live")
	}
	if !strings.Contains(joined, "--persistent") {
		t.Error("attach must be persistent")
	}
	if len(prov.calls) != 0 {
		t.Error("stopped VM attach must not hand off to provisioning")
	}
}

func TestAttachDataDiskRunningVM(t *testing.T) {
	host := newFakeHost()
	host.domains["web0"] = stateRunning
	host.ips["web0"] = "192.168.122.50"
	host.canned["domblklist"] = blkListTwoDisks
	prov := &fakeProvisioner{}
	c := newTestController(t, host, prov, confirm.Always)

	err := c.AttachDataDisk(context.Background(), "web0", "/v/web0/data-2.qcow2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	attach := host.lastCall("attach-disk")
	if !strings.Contains(strings.Join(attach, " "), "--live") {
		t.Error("running VM attach must be live")
	}
	if len(prov.calls) != 1 {
		t.Fatalf("expected one provisioning run, got %d", len(prov.calls))
	}
	call := prov.calls[0]
	if call.Playbook != "format_mount_disk.yml" {
		t.Errorf("got playbook %q", call.Playbook)
	}
	if call.ExtraVars["device"] != byIDPrefix+"web0-data-2-part1" {
		t.Errorf("got device %q", call.ExtraVars["device"])
	}
	if call.IP != "192.168.122.50" {
		t.Errorf("got ip %q", call.IP)
	}
}

func TestRemoveDataDiskRefusesBoot(t *testing.T) {
	host := newFakeHost()
	host.domains["web0"] = stateRunning
	c := newTestController(t, host, &fakeProvisioner{}, confirm.Always)

	err := c.RemoveDataDisk(context.Background(), "web0", "sda", true)
	if !faults.IsKind(err, faults.KindStateConflict) {
		t.Fatalf("expected state-conflict error, got %v", err)
	}
	if len(host.calls) != 0 {
		t.Error("boot disk refusal touched the hypervisor")
	}
}

func TestRemoveDataDiskRunningVM(t *testing.T) {
	dir := t.TempDir()
	backing := filepath.Join(dir, "data-1.qcow2")
	if err := os.WriteFile(backing, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	host := newFakeHost()
	host.domains["web0"] = stateRunning
	host.ips["web0"] = "192.168.122.50"
	host.canned["domblklist"] = ` Target   Source
--------------------------------------------
 sda      /v/web0/boot.qcow2
 sdb      ` + backing + `
`
	prov := &fakeProvisioner{}
	c := newTestController(t, host, prov, confirm.Always)

	if err := c.RemoveDataDisk(context.Background(), "web0", "sdb", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(prov.calls) != 1 || prov.calls[0].Playbook != "unmount_disk.yml" {
		t.Fatalf("expected unmount handoff, got %+v", prov.calls)
	}
	if host.lastCall("detach-device") == nil {
		t.Error("detach-device never ran")
	}
	if _, err := os.Stat(backing); !os.IsNotExist(err) {
		t.Error("backing file not deleted")
	}
}

func TestRemoveDataDiskKeepsFileWhenDeclined(t *testing.T) {
	dir := t.TempDir()
	backing := filepath.Join(dir, "data-1.qcow2")
	if err := os.WriteFile(backing, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	host := newFakeHost()
	host.domains["web0"] = stateStopped
	host.canned["domblklist"] = ` Target   Source
------------------------------
 sdb      ` + backing + `
`
	c := newTestController(t, host, &fakeProvisioner{}, confirm.Never)

	if err := c.RemoveDataDisk(context.Background(), "web0", "sdb", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if host.lastCall("detach-device") == nil {
		t.Error("detach-device never ran")
	}
	if _, err := os.Stat(backing); err != nil {
		t.Error("backing file should be kept when deletion is declined")
	}
}

func TestIncreaseDiskSizeRunningVM(t *testing.T) {
	host := newFakeHost()
	host.domains["web0"] = stateRunning
	host.ips["web0"] = "192.168.122.50"
	host.canned["domblklist"] = blkListTwoDisks
	prov := &fakeProvisioner{}
	c := newTestController(t, host, prov, confirm.Always)

	err := c.IncreaseDiskSize(context.Background(), "web0", "sdb", "+2G", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resize := host.lastCall("qemu-img resize")
	if resize == nil {
		t.Fatal("qemu-img resize never ran")
	}
	if got := resize[len(resize)-1]; got != "+2147483648" {
		t.Errorf("resized by %s, want +2147483648", got)
	}
	if host.lastCall("shutdown") == nil {
		t.Error("VM was not shut down before the resize")
	}
	if host.lastCall("start") == nil {
		t.Error("VM was not started back up")
	}
	if len(prov.calls) != 1 || prov.calls[0].Playbook != "grow_partition.yml" {
		t.Fatalf("expected grow handoff, got %+v", prov.calls)
	}
	if prov.calls[0].ExtraVars["device"] != byIDPrefix+"web0-data-1-part1" {
		t.Errorf("got device %q", prov.calls[0].ExtraVars["device"])
	}
}

func TestIncreaseDiskSizeBootDiskUnsuffixed(t *testing.T) {
	host := newFakeHost()
	host.domains["web0"] = stateStopped
	host.ips["web0"] = "192.168.122.50"
	host.canned["domblklist"] = blkListTwoDisks
	prov := &fakeProvisioner{}
	c := newTestController(t, host, prov, confirm.Always)

	err := c.IncreaseDiskSize(context.Background(), "web0", "sda", "+5G", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(prov.calls) != 1 {
		t.Fatalf("expected one handoff, got %d", len(prov.calls))
	}
	if got := prov.calls[0].ExtraVars["device"]; got != byIDPrefix+"web0-boot" {
		t.Errorf("boot device must not carry a partition suffix, got %q", got)
	}
}

func TestIncreaseDiskSizeDeclinedShutdown(t *testing.T) {
	host := newFakeHost()
	host.domains["web0"] = stateRunning
	host.canned["domblklist"] = blkListTwoDisks
	c := newTestController(t, host, &fakeProvisioner{}, confirm.Never)

	err := c.IncreaseDiskSize(context.Background(), "web0", "sdb", "+1G", false)
	if !faults.IsKind(err, faults.KindStateConflict) {
		t.Fatalf("expected state-conflict error, got %v", err)
	}
	if host.lastCall("qemu-img resize") != nil {
		t.Error("resize ran without shutdown approval")
	}
}

func TestMountRefusesBootAndStopped(t *testing.T) {
	host := newFakeHost()
	host.domains["web0"] = stateStopped
	host.canned["domblklist"] = blkListTwoDisks
	c := newTestController(t, host, &fakeProvisioner{}, confirm.Always)

	err := c.MountDataDisk(context.Background(), "web0", "sda", "/mnt/x")
	if !faults.IsKind(err, faults.KindStateConflict) {
		t.Fatalf("expected boot disk refusal, got %v", err)
	}

	err = c.MountDataDisk(context.Background(), "web0", "sdb", "/mnt/x")
	if !faults.IsKind(err, faults.KindStateConflict) {
		t.Fatalf("expected running-state requirement, got %v", err)
	}
}

func TestUnmountRunningVM(t *testing.T) {
	host := newFakeHost()
	host.domains["web0"] = stateRunning
	host.ips["web0"] = "192.168.122.50"
	host.canned["domblklist"] = blkListTwoDisks
	prov := &fakeProvisioner{}
	c := newTestController(t, host, prov, confirm.Always)

	if err := c.UnmountDataDisk(context.Background(), "web0", "sdb", "/mnt/data"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(prov.calls) != 1 || prov.calls[0].Playbook != "unmount_disk.yml" {
		t.Fatalf("expected unmount handoff, got %+v", prov.calls)
	}
	if prov.calls[0].ExtraVars["mount_point"] != "/mnt/data" {
		t.Errorf("got mount point %q", prov.calls[0].ExtraVars["mount_point"])
	}
}

func TestListDisks(t *testing.T) {
	host := newFakeHost()
	host.domains["web0"] = stateStopped
	host.canned["domblklist"] = blkListTwoDisks
	host.canned["domblkinfo"] = `Capacity:       10737418240
Allocation:     1073741824
Physical:       1073741824
`
	c := newTestController(t, host, &fakeProvisioner{}, confirm.Always)

	infos, err := c.ListDisks(context.Background(), "web0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("got %d disks", len(infos))
	}
	if infos[0].Target != "sda" || infos[1].Target != "sdb" {
		t.Errorf("disks not sorted by target: %+v", infos)
	}
	if infos[0].Capacity != "10 GiB" {
		t.Errorf("got capacity %q", infos[0].Capacity)
	}
}
