package executor

import (
	"fmt"
	"strconv"
	"strings"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/cmap"
	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/policy"
)

// netConfig renders the net0 setting from the container's network placement.
func netConfig(ct cmap.ContainerSpec) string {
	parts := []string{
		"name=eth0",
		"bridge=" + ct.Bridge,
		"ip=" + ct.IPCidr,
	}
	if ct.Gateway != "" {
		parts = append(parts, "gw="+ct.Gateway)
	}
	if tag := ct.Vlan(); tag != 0 {
		parts = append(parts, "tag="+strconv.Itoa(tag))
	}
	return strings.Join(parts, ",")
}

// mountArgs renders the user-declared bind mounts followed by any
// policy-mandated passthrough mounts. Mount-point slots are assigned in
// declaration order, which keeps repeated configure calls stable.
func mountArgs(ct cmap.ContainerSpec, pol *policy.IsolationPolicy) []string {
	var args []string
	slot := 0
	add := func(hostPath, containerPath string, readOnly bool) {
		val := fmt.Sprintf("%s,mp=%s", hostPath, containerPath)
		if readOnly {
			val += ",ro=1"
		}
		args = append(args, fmt.Sprintf("--mp%d", slot), val)
		slot++
	}
	for _, mnt := range ct.Mounts {
		add(mnt.HostPath, mnt.ContainerPath, mnt.ReadOnly)
	}
	if pol != nil {
		for _, mnt := range pol.PassthroughMounts {
			add(mnt.HostPath, mnt.ContainerPath, mnt.ReadOnly)
		}
	}
	return args
}

// deviceArgs renders policy device passthrough entries.
func deviceArgs(pol *policy.IsolationPolicy) []string {
	if pol == nil {
		return nil
	}
	var args []string
	for i, dev := range pol.PassthroughDevices {
		args = append(args, fmt.Sprintf("--dev%d", i), "path="+dev)
	}
	return args
}

// createArgs builds the pct create argument list for a new container.
func createArgs(ct cmap.ContainerSpec, pol *policy.IsolationPolicy, imageRef string) []string {
	unprivileged := "0"
	if pol != nil && pol.Unprivileged {
		unprivileged = "1"
	}
	args := []string{
		"create", strconv.Itoa(ct.ID), imageRef,
		"--hostname", ct.Hostname,
		"--memory", strconv.Itoa(ct.MemoryMb),
		"--cores", strconv.Itoa(ct.Cores),
		"--rootfs", fmt.Sprintf("%s:%d", ct.RootFS.Storage, ct.RootFS.SizeGb),
		"--net0", netConfig(ct),
		"--unprivileged", unprivileged,
		"--onboot", "1",
	}
	if pol != nil && pol.Features != "" {
		args = append(args, "--features", pol.Features)
	}
	if ct.DNS != "" {
		args = append(args, "--nameserver", ct.DNS)
	}
	args = append(args, mountArgs(ct, pol)...)
	args = append(args, deviceArgs(pol)...)
	return args
}

// configureArgs builds the pct set argument list that reconciles an existing
// container in place: network placement, memory, cores, and mount points.
// Rootfs storage/size, hostname, and the id are deliberately absent.
func configureArgs(ct cmap.ContainerSpec, pol *policy.IsolationPolicy) []string {
	args := []string{
		"set", strconv.Itoa(ct.ID),
		"--memory", strconv.Itoa(ct.MemoryMb),
		"--cores", strconv.Itoa(ct.Cores),
		"--net0", netConfig(ct),
	}
	if ct.DNS != "" {
		args = append(args, "--nameserver", ct.DNS)
	}
	args = append(args, mountArgs(ct, pol)...)
	args = append(args, deviceArgs(pol)...)
	return args
}

// DeviceAllowLines renders a policy's device cgroup allowlist as raw
// container config lines. The executor appends them once at create time so
// the container's device access matches its posture exactly rather than
// inheriting whatever the hypervisor configures by default.
func DeviceAllowLines(pol *policy.IsolationPolicy) []string {
	if pol == nil {
		return nil
	}
	var lines []string
	for _, dev := range pol.DeviceAllow {
		lines = append(lines, "lxc.cgroup2.devices.allow: "+cgroupEntry(dev))
	}
	return lines
}

func cgroupEntry(dev specs.LinuxDeviceCgroup) string {
	if dev.Type == "" && dev.Major == nil && dev.Minor == nil {
		return "a *:* " + dev.Access
	}
	major := "*"
	if dev.Major != nil {
		major = strconv.FormatInt(*dev.Major, 10)
	}
	minor := "*"
	if dev.Minor != nil {
		minor = strconv.FormatInt(*dev.Minor, 10)
	}
	return fmt.Sprintf("%s %s:%s %s", dev.Type, major, minor, dev.Access)
}

// transientPhrases are hypervisor/transport failure modes worth retrying.
var transientPhrases = []string{
	"can't lock",
	"cant lock",
	"got lock timeout",
	"got timeout",
	"temporarily unavailable",
	"device or resource busy",
	"resource busy",
	"connection reset",
	"connection refused",
	"i/o timeout",
	"deadline exceeded",
}

// classify wraps a failed command's error as transient or terminal based on
// its output. Timeouts and cancellations from the context deadline are
// transient; everything unrecognized is terminal.
func classify(out string, err error) error {
	if err == nil {
		return nil
	}
	wrapped := err
	if strings.TrimSpace(out) != "" {
		wrapped = fmt.Errorf("%w: %s", err, strings.TrimSpace(out))
	}
	lower := strings.ToLower(out + " " + err.Error())
	for _, phrase := range transientPhrases {
		if strings.Contains(lower, phrase) {
			return Transient(wrapped)
		}
	}
	return Terminal(wrapped)
}
