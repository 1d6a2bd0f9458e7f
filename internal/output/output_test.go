package output

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/anvil-vm/anvil/internal/hypervisor"
	"github.com/anvil-vm/anvil/internal/kvm"
)

func TestValidateFormat(t *testing.T) {
	for _, format := range []string{"table", "yaml", "json"} {
		if err := ValidateFormat(format); err != nil {
			t.Errorf("%s: %v", format, err)
		}
	}
	if err := ValidateFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func TestFormatInstancesTable(t *testing.T) {
	instances := hypervisor.Instances{
		Running: []string{"web0"},
		Stopped: []string{"db0"},
	}
	out, err := FormatInstances(instances, FormatTable)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "NAME") {
		t.Errorf("missing header: %q", lines[0])
	}
	if !strings.Contains(lines[1], "web0") || !strings.Contains(lines[1], "running") {
		t.Errorf("running row: %q", lines[1])
	}
}

func TestFormatInstancesJSON(t *testing.T) {
	instances := hypervisor.Instances{Running: []string{"web0"}}
	out, err := FormatInstances(instances, FormatJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var rows []map[string]string
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("bad JSON: %v\n%s", err, out)
	}
	if len(rows) != 1 || rows[0]["name"] != "web0" || rows[0]["state"] != "running" {
		t.Errorf("got %+v", rows)
	}
}

func TestFormatDisks(t *testing.T) {
	disks := []kvm.DiskInfo{
		{Target: "sda", Source: "/v/web0/boot.qcow2", Capacity: "10 GiB"},
		{Target: "sdb", Source: "/v/web0/data.qcow2"},
	}
	out, err := FormatDisks(disks, FormatTable)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "10 GiB") {
		t.Errorf("missing capacity:\n%s", out)
	}
	if !strings.Contains(out, "sdb") {
		t.Errorf("missing sdb row:\n%s", out)
	}
}

func TestFormatInterfacesYAML(t *testing.T) {
	ifaces := []kvm.InterfaceInfo{{Name: "eth0", MAC: "52:54:00:11:22:33", Address: "192.168.122.50", Prefix: "24"}}
	out, err := FormatInterfaces(ifaces, FormatYAML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "mac: 52:54:00:11:22:33") {
		t.Errorf("yaml output:\n%s", out)
	}
}

func TestFormatInterfacesTableJoinsPrefix(t *testing.T) {
	ifaces := []kvm.InterfaceInfo{{Name: "eth0", MAC: "52:54:00:11:22:33", Address: "192.168.122.50", Prefix: "24"}}
	out, err := FormatInterfaces(ifaces, FormatTable)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "192.168.122.50/24") {
		t.Errorf("table output:\n%s", out)
	}
}

func TestFormatInterfacesTableDefinitionColumns(t *testing.T) {
	ifaces := []kvm.InterfaceInfo{{MAC: "52:54:00:11:22:33", Source: "virbr0", Model: "virtio"}}
	out, err := FormatInterfaces(ifaces, FormatTable)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"SOURCE", "MODEL", "virbr0", "virtio"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
}
