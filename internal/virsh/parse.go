package virsh

import (
	"sort"
	"strconv"
	"strings"

	"github.com/anvil-vm/anvil/internal/faults"
)

// DomainList partitions the known domains by power state.
type DomainList struct {
	Running []string
	Stopped []string
	Paused  []string
}

// Sort orders each partition by name for stable display.
func (d *DomainList) Sort() {
	sort.Strings(d.Running)
	sort.Strings(d.Stopped)
	sort.Strings(d.Paused)
}

// Contains reports whether name appears in any partition.
func (d *DomainList) Contains(name string) bool {
	for _, set := range [][]string{d.Running, d.Stopped, d.Paused} {
		for _, n := range set {
			if n == name {
				return true
			}
		}
	}
	return false
}

// ParseList parses `virsh list --all` output. Each domain line carries an
// id (or -), the name, and a state string; classification matches the state
// substring the same way the reference tooling does.
func ParseList(output string) DomainList {
	var list DomainList
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch {
		case strings.Contains(line, "running"):
			list.Running = append(list.Running, fields[1])
		case strings.Contains(line, "shut off"):
			list.Stopped = append(list.Stopped, fields[1])
		case strings.Contains(line, "paused"):
			list.Paused = append(list.Paused, fields[1])
		}
	}
	return list
}

// ParseDomInfoState extracts the State value from `virsh dominfo` output.
// The value is the raw virsh state string ("running", "shut off", "paused").
func ParseDomInfoState(output string) (string, error) {
	for _, line := range strings.Split(output, "\n") {
		if !strings.HasPrefix(line, "State:") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		return strings.TrimSpace(parts[1]), nil
	}
	return "", faults.New(faults.KindParse, "dominfo", "no State line in output")
}

// ParseBlockList parses `virsh domblklist` output into a target → source
// map. Devices without a backing path (ejected cdroms show "-") are skipped.
func ParseBlockList(output string) map[string]string {
	disks := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "/") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		disks[fields[0]] = fields[1]
	}
	return disks
}

// BlockInfo is the size accounting for one block device.
type BlockInfo struct {
	Capacity   int64
	Allocation int64
	Physical   int64
}

// ParseBlockInfo parses `virsh domblkinfo` output.
func ParseBlockInfo(output string) (BlockInfo, error) {
	var info BlockInfo
	seen := 0
	for _, line := range strings.Split(output, "\n") {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		value, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return BlockInfo{}, faults.New(faults.KindParse, "domblkinfo", "bad value in line %q", line)
		}
		switch strings.TrimSpace(parts[0]) {
		case "Capacity":
			info.Capacity = value
			seen++
		case "Allocation":
			info.Allocation = value
			seen++
		case "Physical":
			info.Physical = value
			seen++
		}
	}
	if seen == 0 {
		return BlockInfo{}, faults.New(faults.KindParse, "domblkinfo", "no size fields in output")
	}
	return info, nil
}

// GuestInterface is one guest-reported network interface. Address and
// Prefix are populated from the first address entry when the guest agent
// reports one.
type GuestInterface struct {
	Name    string
	HWAddr  string
	Address string
	Prefix  string
}

// ParseGuestInfo extracts interface records from `virsh guestinfo` output.
// The agent reports flat keys if.N.name, if.N.hwaddr, if.N.addr.0.addr and
// if.N.addr.0.prefix; if.count is ignored.
func ParseGuestInfo(output string) map[string]GuestInterface {
	interfaces := make(map[string]GuestInterface)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "if.") || strings.HasPrefix(line, "if.count") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		key, value := fields[0], fields[2]
		parts := strings.Split(key, ".")
		if len(parts) < 3 {
			continue
		}
		num := parts[1]
		iface := interfaces[num]
		switch {
		case strings.HasSuffix(key, ".name"):
			iface.Name = value
		case strings.HasSuffix(key, ".hwaddr"):
			iface.HWAddr = value
		case strings.HasSuffix(key, ".addr.0.addr"):
			iface.Address = value
		case strings.HasSuffix(key, ".addr.0.prefix"):
			iface.Prefix = value
		}
		interfaces[num] = iface
	}
	return interfaces
}

// ParseDomStats parses `virsh domstats` output into a flat key → value map.
func ParseDomStats(output string) map[string]string {
	stats := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		stats[key] = value
	}
	return stats
}
