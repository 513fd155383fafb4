// Package reconcile computes the idempotent action sequence needed to
// converge a host's actual container state to the desired state declared in
// the container map. Planning is pure: all host state arrives as snapshots.
package reconcile

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/cmap"
	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/policy"
	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/probe"
)

// Planner diffs desired against probed state and emits an ordered plan.
type Planner struct {
	logger *logrus.Logger
}

// NewPlanner creates a new planner.
func NewPlanner(logger *logrus.Logger) *Planner {
	return &Planner{logger: logger}
}

// Plan walks the map in document order and emits, per container, either a
// skip with a reason, a configure for an already-existing id, or a
// create+start pair. Containers are independent of each other; document
// order governs only log and report ordering.
//
// Configure reconciles network placement, memory, cores, and bind mounts in
// place. Rootfs storage and size, hostname, and the id itself are never
// changed on an existing container.
func (p *Planner) Plan(m *cmap.ContainerMap, snapshots map[string]*probe.HostSnapshot) *ActionPlan {
	plan := &ActionPlan{}

	for i := range m.Containers {
		ct := m.Containers[i]

		snap, ok := snapshots[ct.Host]
		if !ok || snap.Err != nil {
			p.skip(plan, ct, ReasonHostUnreachable)
			continue
		}

		// Storage presence is per-host: a backend valid on one host is not
		// assumed valid on another.
		if !snap.StorageIDs[ct.RootFS.Storage] {
			p.skip(plan, ct, ReasonStorageMissing)
			continue
		}

		missingPath := false
		for _, mnt := range ct.Mounts {
			if !snap.PathExists[mnt.HostPath] {
				p.skip(plan, ct, ReasonMountPathMissing)
				missingPath = true
				break
			}
		}
		if missingPath {
			continue
		}

		pol, err := policy.Resolve(ct.ProvisionType, m.GPUDriverVersion)
		if err != nil {
			p.logger.Warnf("Container %d: %v", ct.ID, err)
			p.skip(plan, ct, ReasonPolicyError)
			continue
		}
		if pol.RequiresGPU && !snap.HasGPU {
			p.skip(plan, ct, ReasonGPUDriverMissing)
			continue
		}

		if snap.ContainerIDs[ct.ID] {
			// Existing containers are reconciled in place, never recreated.
			plan.Actions = append(plan.Actions, Action{Kind: ActionConfigure, Target: ct, Policy: &pol})
			p.logger.Infof("Container %d on %s exists, will configure", ct.ID, ct.Host)
			continue
		}

		plan.Actions = append(plan.Actions, Action{Kind: ActionCreate, Target: ct, Policy: &pol})
		plan.Actions = append(plan.Actions, Action{Kind: ActionStart, Target: ct})
		p.logger.Infof("Container %d on %s absent, will create and start", ct.ID, ct.Host)
	}

	return plan
}

func (p *Planner) skip(plan *ActionPlan, ct cmap.ContainerSpec, reason string) {
	plan.Actions = append(plan.Actions, Action{Kind: ActionSkip, Target: ct, Reason: reason})
	p.logger.Warnf("Container %d on %s skipped: %s", ct.ID, ct.Host, reason)
}

// PlanDestroy is the inverse of Plan: it emits stop+destroy actions for
// exactly the container ids present in both the map and the host's existing
// set. Ids declared in the map but absent from the host are skipped as
// already absent, never treated as errors. Containers on the host that the
// map does not declare are ignored.
func (p *Planner) PlanDestroy(m *cmap.ContainerMap, snapshots map[string]*probe.HostSnapshot) *ActionPlan {
	plan := &ActionPlan{}

	for i := range m.Containers {
		ct := m.Containers[i]

		snap, ok := snapshots[ct.Host]
		if !ok || snap.Err != nil {
			p.skip(plan, ct, ReasonHostUnreachable)
			continue
		}
		if !snap.ContainerIDs[ct.ID] {
			p.skip(plan, ct, ReasonAlreadyAbsent)
			continue
		}

		plan.Actions = append(plan.Actions, Action{Kind: ActionStop, Target: ct})
		plan.Actions = append(plan.Actions, Action{Kind: ActionDestroy, Target: ct})
		p.logger.Infof("Container %d on %s will be stopped and destroyed", ct.ID, ct.Host)
	}

	return plan
}

// Summary renders a short human-readable plan description for confirmation
// prompts.
func Summary(plan *ActionPlan) string {
	counts := make(map[ActionKind]int)
	for _, a := range plan.Actions {
		counts[a.Kind]++
	}
	return fmt.Sprintf("%d create, %d configure, %d start, %d stop, %d destroy, %d skip",
		counts[ActionCreate], counts[ActionConfigure], counts[ActionStart],
		counts[ActionStop], counts[ActionDestroy], counts[ActionSkip])
}
