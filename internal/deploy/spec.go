// Package deploy builds new local VMs from a deploy spec: boot disk from a
// base image, a cloud-init seed ISO, virt-install, readiness wait, and the
// provisioning handoff. The pipeline aborts on the first failing step.
package deploy

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"

	"github.com/anvil-vm/anvil/internal/faults"
)

// GenerateName in the name field asks the pipeline to pick a unique name.
const GenerateName = "GENERATE"

// Spec describes one VM to deploy.
type Spec struct {
	// Name is the domain name, or GENERATE for an assigned one.
	Name string `yaml:"name"`
	// Image is the base image file name, resolved against the image dir.
	Image string `yaml:"image"`
	// CPU is the vCPU count.
	CPU int `yaml:"cpu"`
	// MemoryMB is the memory size in MiB.
	MemoryMB int `yaml:"memory_mb"`
	// DiskSize is the boot disk size, e.g. 20G. Empty keeps the image size.
	DiskSize string `yaml:"disk_size,omitempty"`
	// User is the login account cloud-init creates.
	User string `yaml:"user"`
	// SSHKeys are authorized public keys for User.
	SSHKeys []string `yaml:"ssh_keys"`
	// Bridge overrides the configured host bridge.
	Bridge string `yaml:"bridge,omitempty"`
	// Playbook is an extra playbook to run once the VM is up.
	Playbook string `yaml:"playbook,omitempty"`
}

// LoadSpec reads and validates a deploy spec from a YAML file.
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read deploy spec %s: %w", path, err)
	}
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, faults.Wrap(faults.KindParse, "spec", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate checks the spec for deployability. SSH keys must parse in
// authorized_keys format.
func (s *Spec) Validate() error {
	if s.Name == "" {
		return faults.New(faults.KindParse, "spec", "name is required (or GENERATE)")
	}
	if s.Image == "" {
		return faults.New(faults.KindParse, "spec", "image is required")
	}
	if s.CPU <= 0 {
		return faults.New(faults.KindParse, "spec", "cpu must be positive, got %d", s.CPU)
	}
	if s.MemoryMB <= 0 {
		return faults.New(faults.KindParse, "spec", "memory_mb must be positive, got %d", s.MemoryMB)
	}
	if s.User == "" {
		return faults.New(faults.KindParse, "spec", "user is required")
	}
	if len(s.SSHKeys) == 0 {
		return faults.New(faults.KindParse, "spec", "at least one ssh key is required")
	}
	for i, key := range s.SSHKeys {
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key)); err != nil {
			return faults.New(faults.KindParse, "spec", "ssh key %d is not a valid authorized key: %v", i, err)
		}
	}
	return nil
}

// ResolveName returns the spec name, generating one when asked to.
func (s *Spec) ResolveName() string {
	if s.Name == GenerateName {
		return "vm-" + uuid.New().String()[:8]
	}
	return s.Name
}
