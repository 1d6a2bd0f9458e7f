package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anvil-vm/anvil/internal/output"
)

var diskCmd = &cobra.Command{
	Use:   "disk",
	Short: "Manage VM data disks",
}

var (
	diskCreateName  string
	diskRemoveForce bool
	diskResizeForce bool
)

func init() {
	diskCreateCmd.Flags().StringVar(&diskCreateName, "name", "", "disk name (default assigned)")
	diskRemoveCmd.Flags().BoolVar(&diskRemoveForce, "force", false, "delete the backing file without asking")
	diskResizeCmd.Flags().BoolVar(&diskResizeForce, "force", false, "shut the VM down without asking")

	diskCmd.AddCommand(diskListCmd)
	diskCmd.AddCommand(diskCreateCmd)
	diskCmd.AddCommand(diskAttachCmd)
	diskCmd.AddCommand(diskRemoveCmd)
	diskCmd.AddCommand(diskResizeCmd)
	diskCmd.AddCommand(diskMountCmd)
	diskCmd.AddCommand(diskUnmountCmd)
}

var diskListCmd = &cobra.Command{
	Use:   "list <vm-name>",
	Short: "List a VM's disks with capacities",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl := newController(false)
		disks, err := ctrl.ListDisks(context.Background(), args[0])
		if err != nil {
			return err
		}
		out, err := output.FormatDisks(disks, output.Format(outputFormat))
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

var diskCreateCmd = &cobra.Command{
	Use:   "create <vm-name> <size>",
	Short: "Create a data disk and attach it",
	Long: `Create a qcow2 data disk of the given size (e.g. 100G) in the VM's
directory and attach it at the next free device slot. On a running VM the
disk is formatted and mounted as well.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl := newController(false)
		path, err := ctrl.CreateDataDisk(context.Background(), args[0], args[1], diskCreateName)
		if err != nil {
			return err
		}
		fmt.Printf("✓ created and attached %s\n", path)
		return nil
	},
}

var diskAttachCmd = &cobra.Command{
	Use:   "attach <vm-name> <disk-path>",
	Short: "Attach an existing disk file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl := newController(false)
		if err := ctrl.AttachDataDisk(context.Background(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("✓ attached %s to VM %s\n", args[1], args[0])
		return nil
	},
}

var diskRemoveCmd = &cobra.Command{
	Use:   "remove <vm-name> <target>",
	Short: "Detach a data disk and delete its backing file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl := newController(diskRemoveForce)
		if err := ctrl.RemoveDataDisk(context.Background(), args[0], args[1], diskRemoveForce); err != nil {
			return err
		}
		fmt.Printf("✓ removed disk %s from VM %s\n", args[1], args[0])
		return nil
	},
}

var diskResizeCmd = &cobra.Command{
	Use:   "resize <vm-name> <target> <size>",
	Short: "Grow a disk and its filesystem",
	Long: `Grow the disk at the given target by a relative size (e.g. +50G) or to
an absolute one. The VM is shut down for the resize, started back up, and
the partition and filesystem are grown in the guest.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl := newController(diskResizeForce)
		if err := ctrl.IncreaseDiskSize(context.Background(), args[0], args[1], args[2], diskResizeForce); err != nil {
			return err
		}
		fmt.Printf("✓ resized disk %s on VM %s\n", args[1], args[0])
		return nil
	},
}

var diskMountCmd = &cobra.Command{
	Use:   "mount <vm-name> <target> <mount-point>",
	Short: "Format and mount a data disk in the guest",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl := newController(false)
		if err := ctrl.MountDataDisk(context.Background(), args[0], args[1], args[2]); err != nil {
			return err
		}
		fmt.Printf("✓ mounted %s at %s\n", args[1], args[2])
		return nil
	},
}

var diskUnmountCmd = &cobra.Command{
	Use:   "unmount <vm-name> <target> <mount-point>",
	Short: "Unmount a data disk in the guest",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl := newController(false)
		if err := ctrl.UnmountDataDisk(context.Background(), args[0], args[1], args[2]); err != nil {
			return err
		}
		fmt.Printf("✓ unmounted %s\n", args[1])
		return nil
	},
}
