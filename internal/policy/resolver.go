// Package policy maps a container's declared provision type to a concrete
// isolation policy: device access, capability posture, and passthrough
// mounts. Resolution is a pure one-shot lookup with no I/O.
package policy

import (
	"fmt"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/cmap"
)

// PassthroughMount is a host path bound into the container by the policy
// itself (driver libraries, device tooling), as opposed to user-declared
// bind mounts.
type PassthroughMount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// IsolationPolicy is the resolved posture for one container. The three
// provision types produce mutually exclusive policies.
type IsolationPolicy struct {
	Type         cmap.ProvisionType
	Unprivileged bool
	// Features is the hypervisor feature string applied at create time.
	Features string
	// DeviceAllow is the device cgroup allowlist, expressed with OCI
	// runtime-spec entries.
	DeviceAllow []specs.LinuxDeviceCgroup
	// PassthroughDevices are device nodes handed through to the container.
	PassthroughDevices []string
	// PassthroughMounts are policy-mandated bind mounts (GPU driver
	// libraries and tooling).
	PassthroughMounts []PassthroughMount
	// RequiresGPU marks the host precondition checked against the snapshot
	// at planning time.
	RequiresGPU bool
	// GPUDriverVersion is set only for the GPU posture.
	GPUDriverVersion string
}

func charDev(major, minor int64) specs.LinuxDeviceCgroup {
	m := minor
	return specs.LinuxDeviceCgroup{
		Allow:  true,
		Type:   "c",
		Major:  &major,
		Minor:  &m,
		Access: "rwm",
	}
}

// minimalDeviceAllowlist is the device set an unprivileged container needs:
// null, zero, full, random, urandom, tty, console, ptmx, and the pts range.
func minimalDeviceAllowlist() []specs.LinuxDeviceCgroup {
	allow := []specs.LinuxDeviceCgroup{
		charDev(1, 3),
		charDev(1, 5),
		charDev(1, 7),
		charDev(1, 8),
		charDev(1, 9),
		charDev(5, 0),
		charDev(5, 1),
		charDev(5, 2),
	}
	ptsMajor := int64(136)
	allow = append(allow, specs.LinuxDeviceCgroup{
		Allow:  true,
		Type:   "c",
		Major:  &ptsMajor,
		Access: "rwm",
	})
	return allow
}

func fullDeviceAccess() []specs.LinuxDeviceCgroup {
	return []specs.LinuxDeviceCgroup{{Allow: true, Access: "rwm"}}
}

// nvidiaDeviceNodes are the character devices handed through for GPU
// workloads.
var nvidiaDeviceNodes = []string{
	"/dev/nvidia0",
	"/dev/nvidiactl",
	"/dev/nvidia-uvm",
	"/dev/nvidia-uvm-tools",
	"/dev/nvidia-modeset",
}

// Resolve maps a provision type to its isolation policy. For the GPU posture
// the driver version must be supplied from the map root; the host-side driver
// precondition is enforced later against the probed snapshot.
func Resolve(pt cmap.ProvisionType, gpuDriverVersion string) (IsolationPolicy, error) {
	switch pt {
	case cmap.ProvisionUnprivileged, "":
		return IsolationPolicy{
			Type:         cmap.ProvisionUnprivileged,
			Unprivileged: true,
			Features:     "nesting=1",
			DeviceAllow:  minimalDeviceAllowlist(),
		}, nil
	case cmap.ProvisionPrivileged:
		return IsolationPolicy{
			Type:        cmap.ProvisionPrivileged,
			Features:    "nesting=1",
			DeviceAllow: fullDeviceAccess(),
		}, nil
	case cmap.ProvisionNvidiaGPU:
		if gpuDriverVersion == "" {
			return IsolationPolicy{}, fmt.Errorf("provision type %s requires a gpuDriverVersion", pt)
		}
		return IsolationPolicy{
			Type:               cmap.ProvisionNvidiaGPU,
			Features:           "nesting=1",
			DeviceAllow:        fullDeviceAccess(),
			PassthroughDevices: append([]string(nil), nvidiaDeviceNodes...),
			PassthroughMounts: []PassthroughMount{
				{HostPath: "/usr/lib/x86_64-linux-gnu/nvidia/current", ContainerPath: "/usr/lib/x86_64-linux-gnu/nvidia/current", ReadOnly: true},
				{HostPath: "/usr/bin/nvidia-smi", ContainerPath: "/usr/bin/nvidia-smi", ReadOnly: true},
			},
			RequiresGPU:      true,
			GPUDriverVersion: gpuDriverVersion,
		}, nil
	default:
		return IsolationPolicy{}, fmt.Errorf("unknown provision type %q", pt)
	}
}
