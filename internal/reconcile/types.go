package reconcile

import (
	"fmt"

	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/cmap"
	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/policy"
)

// ActionKind identifies one lifecycle operation in a plan.
type ActionKind string

const (
	// ActionCreate creates a container that does not yet exist
	ActionCreate ActionKind = "create"
	// ActionConfigure reconciles an existing container's settings in place
	ActionConfigure ActionKind = "configure"
	// ActionStart starts a container
	ActionStart ActionKind = "start"
	// ActionStop stops a container
	ActionStop ActionKind = "stop"
	// ActionDestroy removes a container from the host
	ActionDestroy ActionKind = "destroy"
	// ActionSkip records a planned non-action with a reason; not a failure
	ActionSkip ActionKind = "skip"
)

// Skip reasons. These surface verbatim in the outcome table.
const (
	ReasonHostUnreachable  = "host-unreachable"
	ReasonStorageMissing   = "storage-missing"
	ReasonMountPathMissing = "mount-path-missing"
	ReasonGPUDriverMissing = "gpu-driver-missing"
	ReasonPolicyError      = "policy-error"
	ReasonAlreadyAbsent    = "already-absent"
	ReasonRunCanceled      = "run-canceled"
)

// Action is one planned operation against one container.
type Action struct {
	Kind   ActionKind
	Target cmap.ContainerSpec
	// Policy is the resolved isolation policy, set on create/configure
	// actions so the executor never re-resolves.
	Policy *policy.IsolationPolicy
	// Reason qualifies skip actions.
	Reason string
}

func (a Action) String() string {
	if a.Kind == ActionSkip {
		return fmt.Sprintf("skip(%d, %s)", a.Target.ID, a.Reason)
	}
	return fmt.Sprintf("%s(%d)", a.Kind, a.Target.ID)
}

// ActionPlan is an ordered action sequence. It is produced once and executed
// once; execution appends results but never re-derives the plan.
type ActionPlan struct {
	Actions []Action
}

// ByHost groups action indices by target host, preserving plan order within
// each host. The executor serializes within a host and parallelizes across
// hosts, so index grouping (not action copying) keeps results addressable.
func (p *ActionPlan) ByHost() map[string][]int {
	byHost := make(map[string][]int)
	for i, a := range p.Actions {
		byHost[a.Target.Host] = append(byHost[a.Target.Host], i)
	}
	return byHost
}
