// Package probe reads the actual state of hypervisor hosts: which container
// ids exist, which storage backends are available, and whether a functional
// GPU driver is present. Probing is strictly read-only.
package probe

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/transport"
)

// HostSnapshot is a point-in-time read of one host. It is rebuilt fresh every
// reconciliation run and never cached across runs.
type HostSnapshot struct {
	Host         string
	ContainerIDs map[int]bool
	StorageIDs   map[string]bool
	HasGPU       bool
	PathExists   map[string]bool
	// Err marks the whole probe as failed; every action targeting this host
	// is then skipped as unreachable.
	Err error
}

// Prober queries hosts through the transport layer.
type Prober struct {
	runners transport.Source
	logger  *logrus.Logger
}

// NewProber creates a new prober.
func NewProber(runners transport.Source, logger *logrus.Logger) *Prober {
	return &Prober{
		runners: runners,
		logger:  logger,
	}
}

// SnapshotAll probes every host concurrently. A failure on one host does not
// abort the others; the affected snapshot carries the error instead.
func (p *Prober) SnapshotAll(ctx context.Context, hosts []string, pathsByHost map[string][]string) map[string]*HostSnapshot {
	snapshots := make(map[string]*HostSnapshot, len(hosts))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, host := range hosts {
		wg.Add(1)
		go func(host string) {
			defer wg.Done()
			snap := p.Snapshot(ctx, host, pathsByHost[host])
			mu.Lock()
			snapshots[host] = snap
			mu.Unlock()
		}(host)
	}
	wg.Wait()

	return snapshots
}

// Snapshot probes a single host: existing container ids, available storage
// backends, GPU driver presence, and existence of the given bind-mount paths.
func (p *Prober) Snapshot(ctx context.Context, host string, wantPaths []string) *HostSnapshot {
	snap := &HostSnapshot{
		Host:         host,
		ContainerIDs: make(map[int]bool),
		StorageIDs:   make(map[string]bool),
		PathExists:   make(map[string]bool),
	}

	runner, err := p.runners(host)
	if err != nil {
		snap.Err = fmt.Errorf("probe %s: %w", host, err)
		p.logger.Warnf("Probe failed for host %s: %v", host, err)
		return snap
	}

	out, err := runner.Run(ctx, "pct", "list")
	if err != nil {
		snap.Err = fmt.Errorf("probe %s: pct list: %w", host, err)
		p.logger.Warnf("Probe failed for host %s: %v", host, snap.Err)
		return snap
	}
	snap.ContainerIDs = ParseContainerList(out)

	out, err = runner.Run(ctx, "pvesm", "status")
	if err != nil {
		snap.Err = fmt.Errorf("probe %s: pvesm status: %w", host, err)
		p.logger.Warnf("Probe failed for host %s: %v", host, snap.Err)
		return snap
	}
	snap.StorageIDs = ParseStorageStatus(out)

	// GPU absence is a capability result, not a probe failure.
	out, err = runner.Run(ctx, "nvidia-smi", "-L")
	snap.HasGPU = err == nil && strings.Contains(out, "GPU")

	for _, path := range wantPaths {
		_, err := runner.Run(ctx, "test", "-e", path)
		snap.PathExists[path] = err == nil
	}

	p.logger.Infof("Probed host %s: %d containers, %d storage backends, gpu=%v",
		host, len(snap.ContainerIDs), len(snap.StorageIDs), snap.HasGPU)

	return snap
}

// ParseContainerList extracts the set of container ids from `pct list`
// output. The first column of each data row is the VMID.
func ParseContainerList(out string) map[int]bool {
	ids := make(map[int]bool)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			// Header or malformed line.
			continue
		}
		ids[id] = true
	}
	return ids
}

// ParseStorageStatus extracts the set of active storage backend ids from
// `pvesm status` output. Disabled or inactive backends are not usable for a
// rootfs and are excluded.
func ParseStorageStatus(out string) map[string]bool {
	backends := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[0] == "Name" {
			continue
		}
		if strings.EqualFold(fields[2], "active") {
			backends[fields[0]] = true
		}
	}
	return backends
}
