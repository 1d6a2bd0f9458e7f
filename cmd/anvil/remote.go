package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/anvil-vm/anvil/internal/ansible"
	"github.com/anvil-vm/anvil/internal/gcp"
	"github.com/anvil-vm/anvil/internal/logging"
	"github.com/anvil-vm/anvil/internal/output"
	"github.com/anvil-vm/anvil/internal/virsh"
)

// remoteTimeout bounds a remote operation including its polling.
const remoteTimeout = 10 * time.Minute

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Manage instances on Google Compute Engine",
}

var (
	remoteDeployMachineType string
	remoteDeployImage       string
	remoteDeployDiskGB      int64
	remoteDeployUser        string
	remoteDeploySSHKey      string
	remoteDeployTags        []string
	remoteDeployPlaybook    string
)

func init() {
	remoteDeployCmd.Flags().StringVar(&remoteDeployMachineType, "machine-type", "e2-medium", "machine type")
	remoteDeployCmd.Flags().StringVar(&remoteDeployImage, "image", "", "source image URL (required)")
	remoteDeployCmd.Flags().Int64Var(&remoteDeployDiskGB, "disk-gb", 10, "boot disk size in GB")
	remoteDeployCmd.Flags().StringVar(&remoteDeployUser, "user", "", "login user for the ssh key")
	remoteDeployCmd.Flags().StringVar(&remoteDeploySSHKey, "ssh-key", "", "public key material for --user")
	remoteDeployCmd.Flags().StringSliceVar(&remoteDeployTags, "tag", nil, "network tags")
	remoteDeployCmd.Flags().StringVar(&remoteDeployPlaybook, "playbook", ansible.PlaybookStartupMarker, "playbook to run once SSH answers")

	remoteCmd.AddCommand(remoteListCmd)
	remoteCmd.AddCommand(remoteStartCmd)
	remoteCmd.AddCommand(remoteStopCmd)
	remoteCmd.AddCommand(remoteResetCmd)
	remoteCmd.AddCommand(remoteDeleteCmd)
	remoteCmd.AddCommand(remoteIPCmd)
	remoteCmd.AddCommand(remoteDeployCmd)
}

func remoteContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), remoteTimeout)
}

func newRemoteController(ctx context.Context, prov gcp.Provisioner) (*gcp.Controller, error) {
	return gcp.NewController(ctx, cfg.GCP, prov, logging.NewEntry("gcp"))
}

var remoteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List instances and their power states",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := remoteContext()
		defer cancel()
		ctrl, err := newRemoteController(ctx, nil)
		if err != nil {
			return err
		}
		instances, err := ctrl.Instances(ctx)
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

// remoteMutate runs one instance operation with the shared deadline.
func remoteMutate(name string, op func(ctx context.Context, ctrl *gcp.Controller) error, done string) error {
	ctx, cancel := remoteContext()
	defer cancel()
	ctrl, err := newRemoteController(ctx, nil)
	if err != nil {
		return err
	}
	if err := op(ctx, ctrl); err != nil {
		return err
	}
	fmt.Printf("✓ instance %s %s\n", name, done)
	return nil
}

var remoteStartCmd = &cobra.Command{
	Use:   "start <instance>",
	Short: "Start an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return remoteMutate(args[0], func(ctx context.Context, ctrl *gcp.Controller) error {
			return ctrl.StartInstance(ctx, args[0])
		}, "started")
	},
}

var remoteStopCmd = &cobra.Command{
	Use:   "stop <instance>",
	Short: "Stop an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return remoteMutate(args[0], func(ctx context.Context, ctrl *gcp.Controller) error {
			return ctrl.StopInstance(ctx, args[0])
		}, "stopped")
	},
}

var remoteResetCmd = &cobra.Command{
	Use:   "reset <instance>",
	Short: "Hard-reset an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return remoteMutate(args[0], func(ctx context.Context, ctrl *gcp.Controller) error {
			return ctrl.ResetInstance(ctx, args[0])
		}, "reset")
	},
}

var remoteDeleteCmd = &cobra.Command{
	Use:   "delete <instance>",
	Short: "Delete an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return remoteMutate(args[0], func(ctx context.Context, ctrl *gcp.Controller) error {
			return ctrl.DeleteInstance(ctx, args[0])
		}, "deleted")
	},
}

var remoteIPCmd = &cobra.Command{
	Use:   "ip <instance>",
	Short: "Print an instance's external address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := remoteContext()
		defer cancel()
		ctrl, err := newRemoteController(ctx, nil)
		if err != nil {
			return err
		}
		ip, err := ctrl.PublicIP(ctx, args[0])
		if err != nil {
			return err
		}
		if ip == "" {
			return fmt.Errorf("instance %s has no external address", args[0])
		}
		fmt.Println(ip)
		return nil
	},
}

var remoteDeployCmd = &cobra.Command{
	Use:   "deploy <instance>",
	Short: "Create an instance, wait for SSH, and run the provisioning playbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := remoteContext()
		defer cancel()
		prov := ansible.New(cfg.Ansible, &virsh.ExecRunner{}, logging.NewEntry("ansible"))
		ctrl, err := newRemoteController(ctx, prov)
		if err != nil {
			return err
		}
		ip, err := ctrl.Deploy(ctx, gcp.DeploySpec{
			Name:        args[0],
			MachineType: remoteDeployMachineType,
			SourceImage: remoteDeployImage,
			DiskSizeGB:  remoteDeployDiskGB,
			SSHUser:     remoteDeployUser,
			SSHKey:      remoteDeploySSHKey,
			Tags:        remoteDeployTags,
			Playbook:    remoteDeployPlaybook,
		})
		if err != nil {
			return err
		}
		fmt.Printf("✓ instance %s is up at %s\n", args[0], ip)
		return nil
	},
}
