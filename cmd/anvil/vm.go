package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/anvil-vm/anvil/internal/output"
)

var vmCmd = &cobra.Command{
	Use:   "vm",
	Short: "Manage local VM lifecycles",
}

var (
	vmStopForce   bool
	vmResetHard   bool
	vmDeleteForce bool
)

func init() {
	vmStopCmd.Flags().BoolVar(&vmStopForce, "force", false, "destroy immediately instead of a graceful shutdown")
	vmResetCmd.Flags().BoolVar(&vmResetHard, "hard", false, "reset without guest cooperation")
	vmDeleteCmd.Flags().BoolVar(&vmDeleteForce, "force", false, "skip the confirmation prompt")

	vmCmd.AddCommand(vmListCmd)
	vmCmd.AddCommand(vmStartCmd)
	vmCmd.AddCommand(vmStopCmd)
	vmCmd.AddCommand(vmRebootCmd)
	vmCmd.AddCommand(vmResetCmd)
	vmCmd.AddCommand(vmDeleteCmd)
	vmCmd.AddCommand(vmPurgeCmd)
	vmCmd.AddCommand(vmEjectCmd)
	vmCmd.AddCommand(vmStatsCmd)
}

var vmListCmd = &cobra.Command{
	Use:   "list",
	Short: "List VMs and their power states",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl := newController(false)
		instances, err := ctrl.Instances(context.Background())
		if err != nil {
			return err
		}
		out, err := output.FormatInstances(instances, output.Format(outputFormat))
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

var vmStartCmd = &cobra.Command{
	Use:   "start <vm-name>",
	Short: "Start a VM and wait for it to report an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl := newController(false)
		ip, err := ctrl.Start(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ VM %s is up at %s\n", args[0], ip)
		return nil
	},
}

var vmStopCmd = &cobra.Command{
	Use:   "stop <vm-name>",
	Short: "Shut a VM down gracefully, escalating if it does not comply",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl := newController(false)
		ctx := context.Background()
		if vmStopForce {
			if err := ctrl.ForceShutdown(ctx, args[0]); err != nil {
				return err
			}
		} else if err := ctrl.Shutdown(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ VM %s stopped\n", args[0])
		return nil
	},
}

var vmRebootCmd = &cobra.Command{
	Use:   "reboot <vm-name>",
	Short: "Request a guest reboot and wait for the address to come back",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl := newController(false)
		ip, err := ctrl.Reboot(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ VM %s is back at %s\n", args[0], ip)
		return nil
	},
}

var vmResetCmd = &cobra.Command{
	Use:   "reset <vm-name>",
	Short: "Reset a VM (full stop and start, or --hard for an immediate reset)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl := newController(false)
		ctx := context.Background()
		var (
			ip  string
			err error
		)
		if vmResetHard {
			ip, err = ctrl.HardReset(ctx, args[0])
		} else {
			ip, err = ctrl.SoftReset(ctx, args[0])
		}
		if err != nil {
			return err
		}
		fmt.Printf("✓ VM %s is back at %s\n", args[0], ip)
		return nil
	},
}

var vmDeleteCmd = &cobra.Command{
	Use:   "delete <vm-name>",
	Short: "Delete a VM and its backing files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl := newController(vmDeleteForce)
		if err := ctrl.Delete(context.Background(), args[0], vmDeleteForce); err != nil {
			return err
		}
		fmt.Printf("✓ VM %s deleted\n", args[0])
		return nil
	},
}

var vmPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every non-running VM and orphaned VM directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl := newController(false)
		if err := ctrl.Purge(context.Background()); err != nil {
			return err
		}
		fmt.Println("✓ purge complete")
		return nil
	},
}

var vmStatsCmd = &cobra.Command{
	Use:   "stats <vm-name>",
	Short: "Show hypervisor counters for a VM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl := newController(false)
		stats, err := ctrl.Stats(context.Background(), args[0])
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(stats))
		for k := range stats {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%s=%s\n", k, stats[k])
		}
		return nil
	},
}

var vmEjectCmd = &cobra.Command{
	Use:   "eject <vm-name>",
	Short: "Eject the attached ISO media from a VM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl := newController(false)
		if err := ctrl.EjectISO(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ ejected ISO from VM %s\n", args[0])
		return nil
	},
}
