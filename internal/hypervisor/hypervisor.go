// Package hypervisor declares the backend interface shared by the local KVM
// controller and the remote GCP controller. Lifecycle and resource managers
// depend only on this interface, never on a concrete backend.
package hypervisor

import "context"

// Instances partitions every known VM name by power state.
type Instances struct {
	Running []string
	Stopped []string
	Paused  []string
}

// Contains reports whether name is known to the backend in any state.
func (i Instances) Contains(name string) bool {
	for _, set := range [][]string{i.Running, i.Stopped, i.Paused} {
		for _, n := range set {
			if n == name {
				return true
			}
		}
	}
	return false
}

// IsRunning reports whether name is in the running partition.
func (i Instances) IsRunning(name string) bool {
	for _, n := range i.Running {
		if n == name {
			return true
		}
	}
	return false
}

// Backend is a VM lifecycle backend. Implementations block until the
// backend has accepted the operation and report expected failures as
// faults-classified errors.
type Backend interface {
	// Instances queries the backend inventory.
	Instances(ctx context.Context) (Instances, error)

	// StartInstance powers on a stopped VM.
	StartInstance(ctx context.Context, name string) error

	// StopInstance shuts a VM down.
	StopInstance(ctx context.Context, name string) error

	// ResetInstance hard-resets a running VM.
	ResetInstance(ctx context.Context, name string) error

	// DeleteInstance removes the VM and its resources.
	DeleteInstance(ctx context.Context, name string) error
}

// Exists is a derived membership test over the backend inventory.
func Exists(ctx context.Context, b Backend, name string) (bool, error) {
	instances, err := b.Instances(ctx)
	if err != nil {
		return false, err
	}
	return instances.Contains(name), nil
}
