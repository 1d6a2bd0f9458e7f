package gcp

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	compute "google.golang.org/api/compute/v1"

	"github.com/anvil-vm/anvil/internal/faults"
)

// DeploySpec describes an instance to create.
type DeploySpec struct {
	Name        string
	MachineType string // e.g. e2-medium
	SourceImage string // full image URL or family link
	DiskSizeGB  int64
	Network     string // network name, "default" when empty
	SSHUser     string
	SSHKey      string   // public key material
	Tags        []string // network tags, e.g. for firewall rules
	Playbook    string   // run against the instance once SSH answers
}

func (s *DeploySpec) validate() error {
	if s.Name == "" {
		return faults.New(faults.KindStateConflict, "deploy", "instance name is required")
	}
	if s.MachineType == "" {
		return faults.New(faults.KindStateConflict, "deploy", "machine type is required")
	}
	if s.SourceImage == "" {
		return faults.New(faults.KindStateConflict, "deploy", "source image is required")
	}
	return nil
}

// Deploy creates the instance, waits for it to exist with an external
// address, and hands the spec playbook to the provisioner once SSH answers.
// Returns the address. An instance by the same name is refused.
func (c *Controller) Deploy(ctx context.Context, spec DeploySpec) (string, error) {
	if err := spec.validate(); err != nil {
		return "", err
	}
	exists, err := c.Exists(ctx, spec.Name)
	if err != nil {
		return "", err
	}
	if exists {
		return "", faults.New(faults.KindStateConflict, "deploy", "instance %s already exists", spec.Name)
	}

	instance := c.buildInstance(spec)
	c.log.WithFields(logrus.Fields{"instance": spec.Name, "machine_type": spec.MachineType}).Info("creating instance")
	operation, err := c.inst.Insert(ctx, c.cfg.Project, c.cfg.Zone, instance)
	if err != nil {
		return "", faults.Wrap(faults.KindTransport, "deploy", err)
	}
	if err := c.waitOperation(ctx, "deploy", operation); err != nil {
		return "", err
	}
	ip, err := c.PublicIP(ctx, spec.Name)
	if err != nil {
		return "", err
	}
	if c.prov == nil || spec.Playbook == "" {
		return ip, nil
	}
	if ip == "" {
		return "", faults.New(faults.KindTransport, "deploy", "instance %s has no external address to provision", spec.Name)
	}
	if err := c.prov.WaitReady(ctx, ip); err != nil {
		return ip, err
	}
	if err := c.prov.Run(ctx, ip, spec.Name, spec.Playbook, nil); err != nil {
		return ip, err
	}
	return ip, nil
}

func (c *Controller) buildInstance(spec DeploySpec) *compute.Instance {
	network := spec.Network
	if network == "" {
		network = "default"
	}
	diskSize := spec.DiskSizeGB
	if diskSize == 0 {
		diskSize = 10
	}

	instance := &compute.Instance{
		Name:        spec.Name,
		MachineType: fmt.Sprintf("zones/%s/machineTypes/%s", c.cfg.Zone, spec.MachineType),
		Disks: []*compute.AttachedDisk{{
			Boot:       true,
			AutoDelete: true,
			InitializeParams: &compute.AttachedDiskInitializeParams{
				SourceImage: spec.SourceImage,
				DiskSizeGb:  diskSize,
			},
		}},
		NetworkInterfaces: []*compute.NetworkInterface{{
			Network: "global/networks/" + network,
			AccessConfigs: []*compute.AccessConfig{{
				Type: "ONE_TO_ONE_NAT",
				Name: "External NAT",
			}},
		}},
	}

	if len(spec.Tags) > 0 {
		instance.Tags = &compute.Tags{Items: spec.Tags}
	}
	if spec.SSHUser != "" && spec.SSHKey != "" {
		value := spec.SSHUser + ":" + spec.SSHKey
		instance.Metadata = &compute.Metadata{
			Items: []*compute.MetadataItems{{Key: "ssh-keys", Value: &value}},
		}
	}
	return instance
}
