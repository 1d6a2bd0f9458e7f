// Package gcp implements the remote lifecycle backend over the Compute
// Engine API. Every mutating call returns an operation which is polled to
// completion before the method returns.
package gcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	compute "google.golang.org/api/compute/v1"
	"google.golang.org/api/option"

	"github.com/anvil-vm/anvil/internal/config"
	"github.com/anvil-vm/anvil/internal/faults"
	"github.com/anvil-vm/anvil/internal/hypervisor"
)

// Instance states the API reports. Everything that is not RUNNING counts as
// stopped for inventory purposes, except SUSPENDED which maps to paused.
const (
	statusRunning   = "RUNNING"
	statusSuspended = "SUSPENDED"
)

const operationPollInterval = 3 * time.Second

// instancesAPI is the slice of the compute Instances service the controller
// uses. Satisfied by *computeInstances in production and by fakes in tests.
type instancesAPI interface {
	Get(ctx context.Context, project, zone, name string) (*compute.Instance, error)
	List(ctx context.Context, project, zone string) ([]*compute.Instance, error)
	Start(ctx context.Context, project, zone, name string) (*compute.Operation, error)
	Stop(ctx context.Context, project, zone, name string) (*compute.Operation, error)
	Reset(ctx context.Context, project, zone, name string) (*compute.Operation, error)
	Delete(ctx context.Context, project, zone, name string) (*compute.Operation, error)
	Insert(ctx context.Context, project, zone string, inst *compute.Instance) (*compute.Operation, error)
}

// Provisioner runs post-deploy configuration against a fresh instance.
// Satisfied by *ansible.Runner; nil disables the deploy handoff.
type Provisioner interface {
	WaitReady(ctx context.Context, ip string) error
	Run(ctx context.Context, ip, name, playbook string, extraVars map[string]string) error
}

// operationsAPI fetches the current view of a zonal or global operation.
// Zonal operations carry the zone; global ones pass it empty.
type operationsAPI interface {
	Get(ctx context.Context, project, zone, name string) (*compute.Operation, error)
}

type computeInstances struct {
	svc *compute.Service
}

func (c *computeInstances) Get(ctx context.Context, project, zone, name string) (*compute.Instance, error) {
	return c.svc.Instances.Get(project, zone, name).Context(ctx).Do()
}

func (c *computeInstances) List(ctx context.Context, project, zone string) ([]*compute.Instance, error) {
	var instances []*compute.Instance
	call := c.svc.Instances.List(project, zone)
	err := call.Pages(ctx, func(page *compute.InstanceList) error {
		instances = append(instances, page.Items...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return instances, nil
}

func (c *computeInstances) Start(ctx context.Context, project, zone, name string) (*compute.Operation, error) {
	return c.svc.Instances.Start(project, zone, name).Context(ctx).Do()
}

func (c *computeInstances) Stop(ctx context.Context, project, zone, name string) (*compute.Operation, error) {
	return c.svc.Instances.Stop(project, zone, name).Context(ctx).Do()
}

func (c *computeInstances) Reset(ctx context.Context, project, zone, name string) (*compute.Operation, error) {
	return c.svc.Instances.Reset(project, zone, name).Context(ctx).Do()
}

func (c *computeInstances) Delete(ctx context.Context, project, zone, name string) (*compute.Operation, error) {
	return c.svc.Instances.Delete(project, zone, name).Context(ctx).Do()
}

func (c *computeInstances) Insert(ctx context.Context, project, zone string, inst *compute.Instance) (*compute.Operation, error) {
	return c.svc.Instances.Insert(project, zone, inst).Context(ctx).Do()
}

type computeOperations struct {
	svc *compute.Service
}

func (c *computeOperations) Get(ctx context.Context, project, zone, name string) (*compute.Operation, error) {
	if zone == "" {
		return c.svc.GlobalOperations.Get(project, name).Context(ctx).Do()
	}
	return c.svc.ZoneOperations.Get(project, zone, name).Context(ctx).Do()
}

// Controller drives VMs in one project and zone.
type Controller struct {
	cfg  config.GCPConfig
	inst instancesAPI
	ops  operationsAPI
	prov Provisioner
	log  *logrus.Entry

	pollInterval time.Duration
}

var _ hypervisor.Backend = (*Controller)(nil)

// NewController dials the Compute Engine API with the configured service
// account key. The context bounds credential exchange, not the controller's
// lifetime. prov may be nil when no deploy handoff is wanted.
func NewController(ctx context.Context, cfg config.GCPConfig, prov Provisioner, log *logrus.Entry) (*Controller, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	svc, err := compute.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create compute service: %w", err)
	}
	return &Controller{
		cfg:          cfg,
		inst:         &computeInstances{svc: svc},
		ops:          &computeOperations{svc: svc},
		prov:         prov,
		log:          log,
		pollInterval: operationPollInterval,
	}, nil
}

// Instances queries the zone inventory and partitions it by status.
func (c *Controller) Instances(ctx context.Context) (hypervisor.Instances, error) {
	items, err := c.inst.List(ctx, c.cfg.Project, c.cfg.Zone)
	if err != nil {
		return hypervisor.Instances{}, faults.Wrap(faults.KindTransport, "list", err)
	}
	var result hypervisor.Instances
	for _, item := range items {
		switch item.Status {
		case statusRunning:
			result.Running = append(result.Running, item.Name)
		case statusSuspended:
			result.Paused = append(result.Paused, item.Name)
		default:
			result.Stopped = append(result.Stopped, item.Name)
		}
	}
	return result, nil
}

// Exists reports whether the instance is known in any state.
func (c *Controller) Exists(ctx context.Context, name string) (bool, error) {
	return hypervisor.Exists(ctx, c, name)
}

// StartInstance powers the instance on and waits for the operation.
func (c *Controller) StartInstance(ctx context.Context, name string) error {
	return c.mutate(ctx, "start", name, c.inst.Start)
}

// StopInstance stops the instance and waits for the operation.
func (c *Controller) StopInstance(ctx context.Context, name string) error {
	return c.mutate(ctx, "stop", name, c.inst.Stop)
}

// ResetInstance hard-resets the instance and waits for the operation.
func (c *Controller) ResetInstance(ctx context.Context, name string) error {
	return c.mutate(ctx, "reset", name, c.inst.Reset)
}

// DeleteInstance deletes the instance and waits for the operation.
func (c *Controller) DeleteInstance(ctx context.Context, name string) error {
	return c.mutate(ctx, "delete", name, c.inst.Delete)
}

type mutateFunc func(ctx context.Context, project, zone, name string) (*compute.Operation, error)

func (c *Controller) mutate(ctx context.Context, op, name string, issue mutateFunc) error {
	exists, err := c.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return faults.New(faults.KindNotFound, op, "instance %s does not exist in %s/%s", name, c.cfg.Project, c.cfg.Zone)
	}

	c.log.WithFields(logrus.Fields{"instance": name, "op": op}).Info("issuing instance operation")
	operation, err := issue(ctx, c.cfg.Project, c.cfg.Zone, name)
	if err != nil {
		return faults.Wrap(faults.KindTransport, op, err)
	}
	return c.waitOperation(ctx, op, operation)
}

// waitOperation polls the operation until DONE, in the operation's zone or
// globally when it has none. The context carries the overall deadline;
// callers without one wait indefinitely.
func (c *Controller) waitOperation(ctx context.Context, op string, operation *compute.Operation) error {
	zone := c.cfg.Zone
	if operation.Zone == "" {
		zone = ""
	}
	for {
		if operation.Status == "DONE" {
			return operationResult(op, operation)
		}
		select {
		case <-ctx.Done():
			return faults.Wrap(faults.KindTimeout, op, ctx.Err())
		case <-time.After(c.pollInterval):
		}
		current, err := c.ops.Get(ctx, c.cfg.Project, zone, operation.Name)
		if err != nil {
			return faults.Wrap(faults.KindTransport, op, err)
		}
		operation = current
	}
}

// operationResult converts a DONE operation's error payload, if any.
func operationResult(op string, operation *compute.Operation) error {
	if operation.Error == nil || len(operation.Error.Errors) == 0 {
		return nil
	}
	messages := make([]string, 0, len(operation.Error.Errors))
	for _, e := range operation.Error.Errors {
		messages = append(messages, e.Message)
	}
	return faults.New(faults.KindOperation, op, "operation %s failed: %s", operation.Name, strings.Join(messages, "; "))
}

// PublicIP returns the instance's external NAT address, or "" when it has
// none.
func (c *Controller) PublicIP(ctx context.Context, name string) (string, error) {
	instance, err := c.inst.Get(ctx, c.cfg.Project, c.cfg.Zone, name)
	if err != nil {
		return "", faults.Wrap(faults.KindTransport, "get", err)
	}
	for _, iface := range instance.NetworkInterfaces {
		for _, access := range iface.AccessConfigs {
			if access.NatIP != "" {
				return access.NatIP, nil
			}
		}
	}
	return "", nil
}
