package cmap

// ProvisionType is the isolation/capability posture assigned to a container.
type ProvisionType string

const (
	// ProvisionUnprivileged runs the container with a minimal device allowlist
	ProvisionUnprivileged ProvisionType = "unprivileged"
	// ProvisionPrivileged runs the container with full device access
	ProvisionPrivileged ProvisionType = "privileged"
	// ProvisionNvidiaGPU runs the container privileged with GPU passthrough
	ProvisionNvidiaGPU ProvisionType = "nvidia-gpu"
)

// KnownProvisionTypes lists every provision type the resolver understands.
var KnownProvisionTypes = []ProvisionType{
	ProvisionUnprivileged,
	ProvisionPrivileged,
	ProvisionNvidiaGPU,
}

// BindMount maps a host directory into a container.
type BindMount struct {
	HostPath      string `yaml:"hostPath"`
	ContainerPath string `yaml:"containerPath"`
	ReadOnly      bool   `yaml:"readOnly"`
}

// RootFS selects the storage backend and size for a container's root filesystem.
type RootFS struct {
	Storage string `yaml:"storage"`
	SizeGb  int    `yaml:"sizeGb"`
}

// ContainerSpec is one desired container after the defaults merge. It is
// constructed once per run and immutable thereafter; the document is the sole
// source of truth.
type ContainerSpec struct {
	ID            int           `yaml:"id"`
	Host          string        `yaml:"host"`
	Hostname      string        `yaml:"hostname"`
	IPCidr        string        `yaml:"ipCidr"`
	RootFS        RootFS        `yaml:"rootfs"`
	ProvisionType ProvisionType `yaml:"provisionType"`
	MemoryMb      int           `yaml:"memoryMb"`
	Cores         int           `yaml:"cores"`
	Bridge        string        `yaml:"bridge"`
	VlanTag       *int          `yaml:"vlanTag"`
	Gateway       string        `yaml:"gateway"`
	DNS           string        `yaml:"dns"`
	Mounts        []BindMount   `yaml:"mounts"`
}

// Vlan returns the effective VLAN tag, 0 meaning untagged. The field is a
// pointer so an explicit `vlanTag: 0` can override a defaults-level tag.
func (c ContainerSpec) Vlan() int {
	if c.VlanTag == nil {
		return 0
	}
	return *c.VlanTag
}

// ContainerMap is the root desired-state document.
type ContainerMap struct {
	Defaults         *ContainerSpec  `yaml:"defaults"`
	Template         string          `yaml:"template"`
	GPUDriverVersion string          `yaml:"gpuDriverVersion"`
	Containers       []ContainerSpec `yaml:"containers"`
}

// DefaultTemplate is the OS template used when the map does not name one.
const DefaultTemplate = "ubuntu-22.04-standard_22.04-1_amd64.tar.zst"

// Hosts returns the distinct hosts referenced by the map, in first-use order.
func (m *ContainerMap) Hosts() []string {
	seen := make(map[string]bool)
	var hosts []string
	for _, ct := range m.Containers {
		if !seen[ct.Host] {
			seen[ct.Host] = true
			hosts = append(hosts, ct.Host)
		}
	}
	return hosts
}

// HostPathsByHost returns, per host, the distinct bind-mount host paths the
// map declares there. The prober verifies these in its read-only pass so the
// planner never touches a host itself.
func (m *ContainerMap) HostPathsByHost() map[string][]string {
	paths := make(map[string][]string)
	seen := make(map[string]map[string]bool)
	for _, ct := range m.Containers {
		for _, mnt := range ct.Mounts {
			if seen[ct.Host] == nil {
				seen[ct.Host] = make(map[string]bool)
			}
			if seen[ct.Host][mnt.HostPath] {
				continue
			}
			seen[ct.Host][mnt.HostPath] = true
			paths[ct.Host] = append(paths[ct.Host], mnt.HostPath)
		}
	}
	return paths
}

// NeedsGPU reports whether any container declares the GPU passthrough posture.
func (m *ContainerMap) NeedsGPU() bool {
	for _, ct := range m.Containers {
		if ct.ProvisionType == ProvisionNvidiaGPU {
			return true
		}
	}
	return false
}
