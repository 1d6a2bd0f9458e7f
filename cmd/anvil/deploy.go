package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anvil-vm/anvil/internal/ansible"
	"github.com/anvil-vm/anvil/internal/confirm"
	"github.com/anvil-vm/anvil/internal/deploy"
	"github.com/anvil-vm/anvil/internal/kvm"
	"github.com/anvil-vm/anvil/internal/logging"
	"github.com/anvil-vm/anvil/internal/virsh"
)

var deployCmd = &cobra.Command{
	Use:   "deploy <spec.yaml>",
	Short: "Deploy a local VM from a spec file",
	Long: `Deploy a new VM from a YAML spec file.

The spec names the base image, resources, login user, and SSH keys. The
pipeline prepares the boot disk, builds a cloud-init seed ISO, defines and
starts the VM, waits for cloud-init to finish, and ejects the seed ISO.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := deploy.LoadSpec(args[0])
		if err != nil {
			return err
		}

		run := &virsh.ExecRunner{}
		prov := ansible.New(cfg.Ansible, run, logging.NewEntry("ansible"))
		ctrl := kvm.NewController(cfg, run, prov, confirm.Terminal, logging.NewEntry("kvm"))
		d := deploy.NewDeployer(cfg, run, ctrl, prov, logging.NewEntry("deploy"))

		name, ip, err := d.Deploy(context.Background(), spec)
		if err != nil {
			return err
		}
		fmt.Printf("✓ VM %s deployed at %s\n", name, ip)
		return nil
	},
}
