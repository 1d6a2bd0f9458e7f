// Package output renders inventory and resource listings in table, YAML,
// and JSON formats.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/anvil-vm/anvil/internal/hypervisor"
	"github.com/anvil-vm/anvil/internal/kvm"
)

// Format represents an output format type.
type Format string

const (
	// FormatTable is a human-readable table format.
	FormatTable Format = "table"
	// FormatYAML is a YAML format.
	FormatYAML Format = "yaml"
	// FormatJSON is a JSON format for machine consumption.
	FormatJSON Format = "json"
)

// ValidateFormat checks whether format names a supported format.
func ValidateFormat(format string) error {
	switch Format(format) {
	case FormatTable, FormatYAML, FormatJSON:
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s (supported: table, yaml, json)", format)
	}
}

// instanceRow is the serializable view of one inventory entry.
type instanceRow struct {
	Name  string `json:"name" yaml:"name"`
	State string `json:"state" yaml:"state"`
}

func instanceRows(instances hypervisor.Instances) []instanceRow {
	var rows []instanceRow
	for _, name := range instances.Running {
		rows = append(rows, instanceRow{Name: name, State: "running"})
	}
	for _, name := range instances.Paused {
		rows = append(rows, instanceRow{Name: name, State: "paused"})
	}
	for _, name := range instances.Stopped {
		rows = append(rows, instanceRow{Name: name, State: "stopped"})
	}
	return rows
}

// FormatInstances renders the backend inventory.
func FormatInstances(instances hypervisor.Instances, format Format) (string, error) {
	rows := instanceRows(instances)
	switch format {
	case FormatYAML, FormatJSON:
		return marshal(rows, format)
	default:
		return table([]string{"NAME", "STATE"}, func(w *tabwriter.Writer) {
			for _, row := range rows {
				fmt.Fprintf(w, "%s\t%s\n", row.Name, row.State)
			}
		})
	}
}

// FormatDisks renders a VM's disk listing.
func FormatDisks(disks []kvm.DiskInfo, format Format) (string, error) {
	switch format {
	case FormatYAML, FormatJSON:
		return marshal(disks, format)
	default:
		return table([]string{"TARGET", "CAPACITY", "SOURCE"}, func(w *tabwriter.Writer) {
			for _, d := range disks {
				capacity := d.Capacity
				if capacity == "" {
					capacity = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", d.Target, capacity, d.Source)
			}
		})
	}
}

// FormatInterfaces renders a VM's interface listing.
func FormatInterfaces(ifaces []kvm.InterfaceInfo, format Format) (string, error) {
	switch format {
	case FormatYAML, FormatJSON:
		return marshal(ifaces, format)
	default:
		return table([]string{"NAME", "MAC", "ADDRESS", "SOURCE", "MODEL"}, func(w *tabwriter.Writer) {
			for _, iface := range ifaces {
				address := iface.Address
				if address == "" {
					address = "-"
				} else if iface.Prefix != "" {
					address = address + "/" + iface.Prefix
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					orDash(iface.Name), iface.MAC, address, orDash(iface.Source), orDash(iface.Model))
			}
		})
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func table(headers []string, body func(w *tabwriter.Writer)) (string, error) {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	for i, h := range headers {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, h)
	}
	fmt.Fprintln(w)
	body(w)
	if err := w.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func marshal(v any, format Format) (string, error) {
	if format == FormatJSON {
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal to JSON: %w", err)
		}
		return string(out) + "\n", nil
	}
	out, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal to YAML: %w", err)
	}
	return string(out), nil
}
