package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anvil-vm/anvil/internal/output"
)

var netCmd = &cobra.Command{
	Use:   "net",
	Short: "Manage VM network interfaces",
}

var netAddBridge string

func init() {
	netAddCmd.Flags().StringVar(&netAddBridge, "bridge", "", "host bridge (default from config)")

	netCmd.AddCommand(netListCmd)
	netCmd.AddCommand(netAddCmd)
	netCmd.AddCommand(netRemoveCmd)
}

var netListCmd = &cobra.Command{
	Use:   "list <vm-name>",
	Short: "List a VM's network interfaces",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl := newController(false)
		ifaces, err := ctrl.ListInterfaces(context.Background(), args[0])
		if err != nil {
			return err
		}
		out, err := output.FormatInterfaces(ifaces, output.Format(outputFormat))
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

var netAddCmd = &cobra.Command{
	Use:   "add <vm-name>",
	Short: "Attach a virtio interface on the host bridge",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl := newController(false)
		ifaces, err := ctrl.AddInterface(context.Background(), args[0], netAddBridge)
		if err != nil {
			return err
		}
		fmt.Printf("✓ interface attached to VM %s\n", args[0])
		if len(ifaces) == 0 {
			return nil
		}
		out, err := output.FormatInterfaces(ifaces, output.Format(outputFormat))
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

var netRemoveCmd = &cobra.Command{
	Use:   "remove <vm-name> <mac>",
	Short: "Detach the interface with the given MAC address",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl := newController(false)
		if err := ctrl.RemoveInterface(context.Background(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("✓ interface %s detached from VM %s\n", args[1], args[0])
		return nil
	},
}
