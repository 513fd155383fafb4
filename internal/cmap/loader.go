// Package cmap loads and validates the container-map document that declares
// the desired state of every container in a deployment.
package cmap

import (
	"fmt"
	"net/netip"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// hostnameRe matches DNS-safe labels joined by dots.
var hostnameRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)

// Load reads a container map from path, merges defaults into every entry, and
// validates the result. All validation runs before any host is contacted; an
// error here is terminal for the whole run.
func Load(path string) (*ContainerMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read container map %q: %w", path, err)
	}
	return LoadBytes(data, path)
}

// LoadBytes parses and validates a container map from raw YAML bytes. The
// source parameter is used only for error messages.
func LoadBytes(data []byte, source string) (*ContainerMap, error) {
	var m ContainerMap
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("container map %q: YAML parse error: %w", source, err)
	}
	mergeDefaults(&m)
	if m.Template == "" {
		m.Template = DefaultTemplate
	}
	if err := Validate(&m, source); err != nil {
		return nil, err
	}
	return &m, nil
}

// mergeDefaults fills every zero-valued field of each container entry from
// the map-level defaults block, then applies the built-in fallbacks. Maps
// without a defaults block go through the same path against empty defaults.
// vlanTag merges only when the entry omits the field, so an explicit
// `vlanTag: 0` overrides a defaults-level tag back to untagged.
func mergeDefaults(m *ContainerMap) {
	d := m.Defaults
	if d == nil {
		d = &ContainerSpec{}
	}
	for i := range m.Containers {
		ct := &m.Containers[i]
		if ct.Host == "" {
			ct.Host = d.Host
		}
		if ct.IPCidr == "" {
			ct.IPCidr = d.IPCidr
		}
		if ct.RootFS.Storage == "" {
			ct.RootFS.Storage = d.RootFS.Storage
		}
		if ct.RootFS.SizeGb == 0 {
			ct.RootFS.SizeGb = d.RootFS.SizeGb
		}
		if ct.ProvisionType == "" {
			ct.ProvisionType = d.ProvisionType
		}
		if ct.MemoryMb == 0 {
			ct.MemoryMb = d.MemoryMb
		}
		if ct.Cores == 0 {
			ct.Cores = d.Cores
		}
		if ct.Bridge == "" {
			ct.Bridge = d.Bridge
		}
		if ct.VlanTag == nil {
			ct.VlanTag = d.VlanTag
		}
		if ct.Gateway == "" {
			ct.Gateway = d.Gateway
		}
		if ct.DNS == "" {
			ct.DNS = d.DNS
		}
		if len(ct.Mounts) == 0 {
			ct.Mounts = append([]BindMount(nil), d.Mounts...)
		}
		if ct.ProvisionType == "" {
			ct.ProvisionType = ProvisionUnprivileged
		}
	}
}

// Validate checks a merged container map and returns a single error listing
// every problem found (fail-fast for the run, but complete for the operator).
func Validate(m *ContainerMap, source string) error {
	var errs []string

	if len(m.Containers) == 0 {
		errs = append(errs, "containers: at least one container is required")
	}

	seen := make(map[int]bool)
	needsGPU := false
	for i := range m.Containers {
		ct := &m.Containers[i]
		label := fmt.Sprintf("containers[%d] (id=%d)", i, ct.ID)

		if ct.ID <= 0 {
			errs = append(errs, fmt.Sprintf("%s: id must be a positive integer", label))
		} else if seen[ct.ID] {
			errs = append(errs, fmt.Sprintf("%s: duplicate container id %d", label, ct.ID))
		}
		seen[ct.ID] = true

		if ct.Host == "" {
			errs = append(errs, fmt.Sprintf("%s: host is required", label))
		}
		if ct.Hostname == "" {
			errs = append(errs, fmt.Sprintf("%s: hostname is required", label))
		} else if !hostnameRe.MatchString(ct.Hostname) {
			errs = append(errs, fmt.Sprintf("%s: hostname %q is not DNS-safe", label, ct.Hostname))
		}
		if ct.IPCidr == "" {
			errs = append(errs, fmt.Sprintf("%s: ipCidr is required", label))
		} else if _, err := netip.ParsePrefix(ct.IPCidr); err != nil {
			errs = append(errs, fmt.Sprintf("%s: ipCidr %q is not a valid address/prefix", label, ct.IPCidr))
		}
		if ct.RootFS.Storage == "" {
			errs = append(errs, fmt.Sprintf("%s: rootfs.storage is required", label))
		}
		if ct.RootFS.SizeGb <= 0 {
			errs = append(errs, fmt.Sprintf("%s: rootfs.sizeGb must be positive", label))
		}
		switch ct.ProvisionType {
		case ProvisionUnprivileged, ProvisionPrivileged:
		case ProvisionNvidiaGPU:
			needsGPU = true
		default:
			errs = append(errs, fmt.Sprintf("%s: unknown provisionType %q (known: unprivileged, privileged, nvidia-gpu)", label, ct.ProvisionType))
		}
		if ct.MemoryMb <= 0 {
			errs = append(errs, fmt.Sprintf("%s: memoryMb must be positive", label))
		}
		if ct.Cores <= 0 {
			errs = append(errs, fmt.Sprintf("%s: cores must be positive", label))
		}
		if ct.Bridge == "" {
			errs = append(errs, fmt.Sprintf("%s: bridge is required", label))
		}
		if tag := ct.Vlan(); tag < 0 || tag > 4094 {
			errs = append(errs, fmt.Sprintf("%s: vlanTag %d out of range (0 = untagged)", label, tag))
		}
		if ct.Gateway != "" {
			if _, err := netip.ParseAddr(ct.Gateway); err != nil {
				errs = append(errs, fmt.Sprintf("%s: gateway %q is not a valid address", label, ct.Gateway))
			}
		}
		for j, mnt := range ct.Mounts {
			if !strings.HasPrefix(mnt.HostPath, "/") {
				errs = append(errs, fmt.Sprintf("%s: mounts[%d].hostPath %q must be absolute", label, j, mnt.HostPath))
			}
			if !strings.HasPrefix(mnt.ContainerPath, "/") {
				errs = append(errs, fmt.Sprintf("%s: mounts[%d].containerPath %q must be absolute", label, j, mnt.ContainerPath))
			}
		}
	}

	if needsGPU && m.GPUDriverVersion == "" {
		errs = append(errs, "gpuDriverVersion is required when any container declares provisionType nvidia-gpu")
	}

	if len(errs) > 0 {
		return fmt.Errorf("container map %q is invalid:\n  - %s", source, strings.Join(errs, "\n  - "))
	}
	return nil
}
