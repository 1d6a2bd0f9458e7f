package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anvil-vm/anvil/internal/ansible"
	"github.com/anvil-vm/anvil/internal/config"
	"github.com/anvil-vm/anvil/internal/confirm"
	"github.com/anvil-vm/anvil/internal/kvm"
	"github.com/anvil-vm/anvil/internal/logging"
	"github.com/anvil-vm/anvil/internal/output"
	"github.com/anvil-vm/anvil/internal/virsh"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	cfgPath      string
	outputFormat string

	cfg *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "anvil",
	Short: "Anvil - VM lifecycle management for KVM and GCP",
	Long: `Anvil manages virtual machine lifecycles on a local KVM hypervisor and
on Google Compute Engine.

It covers power transitions with readiness polling, data disk and network
interface management, image-based deploys with cloud-init, and hands
in-guest steps off to ansible playbooks.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
		if err := logging.Configure(cfg.Logging); err != nil {
			return err
		}
		return output.ValidateFormat(outputFormat)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default /etc/anvil/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, yaml, json)")

	rootCmd.AddCommand(vmCmd)
	rootCmd.AddCommand(diskCmd)
	rootCmd.AddCommand(netCmd)
	rootCmd.AddCommand(remoteCmd)
	rootCmd.AddCommand(deployCmd)
}

// newController builds the local controller. force skips interactive
// confirmation prompts.
func newController(force bool) *kvm.Controller {
	log := logging.NewEntry("kvm")
	prov := ansible.New(cfg.Ansible, &virsh.ExecRunner{}, logging.NewEntry("ansible"))
	policy := confirm.Terminal
	if force {
		policy = confirm.Always
	}
	return kvm.NewController(cfg, &virsh.ExecRunner{}, prov, policy, log)
}
