// Package tasks wires the builtin task set into a registry.
package tasks

import (
	"github.com/aegis-sec/aegis/pkg/registry"
	"github.com/aegis-sec/aegis/pkg/tasks/discovery"
	"github.com/aegis-sec/aegis/pkg/tasks/execcmd"
	"github.com/aegis-sec/aegis/pkg/tasks/report"
)

// RegisterBuiltins registers every builtin task. It fails on the first
// registration error, which only happens when a caller already claimed one
// of the builtin names.
func RegisterBuiltins(reg *registry.Registry) error {
	descriptors := []registry.Descriptor{
		discovery.PingDescriptor(),
		discovery.TCPProbeDescriptor(),
		execcmd.Descriptor(),
		report.Descriptor(),
	}
	for _, d := range descriptors {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}
