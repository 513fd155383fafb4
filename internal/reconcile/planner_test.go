package reconcile

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/cmap"
	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/probe"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

func testContainer(id int, host string) cmap.ContainerSpec {
	return cmap.ContainerSpec{
		ID:            id,
		Host:          host,
		Hostname:      "ct",
		IPCidr:        "10.0.0.10/24",
		RootFS:        cmap.RootFS{Storage: "local-lvm", SizeGb: 8},
		ProvisionType: cmap.ProvisionUnprivileged,
		MemoryMb:      2048,
		Cores:         2,
		Bridge:        "vmbr0",
	}
}

func emptySnapshot(host string) *probe.HostSnapshot {
	return &probe.HostSnapshot{
		Host:         host,
		ContainerIDs: map[int]bool{},
		StorageIDs:   map[string]bool{"local-lvm": true},
		PathExists:   map[string]bool{},
	}
}

func kinds(plan *ActionPlan) []ActionKind {
	out := make([]ActionKind, len(plan.Actions))
	for i, a := range plan.Actions {
		out[i] = a.Kind
	}
	return out
}

func TestPlan(t *testing.T) {
	planner := NewPlanner(testLogger())

	t.Run("AbsentContainerCreatedAndStarted", func(t *testing.T) {
		m := &cmap.ContainerMap{Containers: []cmap.ContainerSpec{testContainer(2001, "pve1")}}
		snaps := map[string]*probe.HostSnapshot{"pve1": emptySnapshot("pve1")}

		plan := planner.Plan(m, snaps)
		require.Equal(t, []ActionKind{ActionCreate, ActionStart}, kinds(plan))
		assert.Equal(t, 2001, plan.Actions[0].Target.ID)
		require.NotNil(t, plan.Actions[0].Policy)
		assert.True(t, plan.Actions[0].Policy.Unprivileged)
	})

	t.Run("ExistingContainerConfiguredNeverRecreated", func(t *testing.T) {
		m := &cmap.ContainerMap{Containers: []cmap.ContainerSpec{testContainer(2001, "pve1")}}
		snap := emptySnapshot("pve1")
		snap.ContainerIDs[2001] = true
		snaps := map[string]*probe.HostSnapshot{"pve1": snap}

		plan := planner.Plan(m, snaps)
		require.Equal(t, []ActionKind{ActionConfigure}, kinds(plan))
	})

	t.Run("SecondRunAfterConvergenceEmitsNoCreate", func(t *testing.T) {
		// First run: empty host, plan is create+start. Simulate convergence
		// by adding the id to the snapshot, re-plan: configure only.
		m := &cmap.ContainerMap{Containers: []cmap.ContainerSpec{testContainer(2001, "pve1")}}
		snaps := map[string]*probe.HostSnapshot{"pve1": emptySnapshot("pve1")}

		first := planner.Plan(m, snaps)
		require.Equal(t, []ActionKind{ActionCreate, ActionStart}, kinds(first))

		snaps["pve1"].ContainerIDs[2001] = true
		second := planner.Plan(m, snaps)
		for _, a := range second.Actions {
			assert.NotEqual(t, ActionCreate, a.Kind, "re-run must never duplicate a create")
		}
		require.Equal(t, []ActionKind{ActionConfigure}, kinds(second))
	})

	t.Run("ProbeFailureSkipsOnlyThatHost", func(t *testing.T) {
		m := &cmap.ContainerMap{Containers: []cmap.ContainerSpec{
			testContainer(2001, "pve1"),
			testContainer(2002, "pve2"),
		}}
		badSnap := emptySnapshot("pve2")
		badSnap.Err = assert.AnError
		snaps := map[string]*probe.HostSnapshot{
			"pve1": emptySnapshot("pve1"),
			"pve2": badSnap,
		}

		plan := planner.Plan(m, snaps)
		require.Equal(t, []ActionKind{ActionCreate, ActionStart, ActionSkip}, kinds(plan))
		assert.Equal(t, ReasonHostUnreachable, plan.Actions[2].Reason)
	})

	t.Run("StorageValidationIsPerHost", func(t *testing.T) {
		// Same backend id on two hosts, present only on pve1.
		m := &cmap.ContainerMap{Containers: []cmap.ContainerSpec{
			testContainer(2001, "pve1"),
			testContainer(2002, "pve2"),
		}}
		noStorage := emptySnapshot("pve2")
		noStorage.StorageIDs = map[string]bool{"other": true}
		snaps := map[string]*probe.HostSnapshot{
			"pve1": emptySnapshot("pve1"),
			"pve2": noStorage,
		}

		plan := planner.Plan(m, snaps)
		require.Equal(t, []ActionKind{ActionCreate, ActionStart, ActionSkip}, kinds(plan))
		assert.Equal(t, ReasonStorageMissing, plan.Actions[2].Reason)
	})

	t.Run("MissingMountPathSkips", func(t *testing.T) {
		ct := testContainer(2001, "pve1")
		ct.Mounts = []cmap.BindMount{{HostPath: "/tank/media", ContainerPath: "/media"}}
		m := &cmap.ContainerMap{Containers: []cmap.ContainerSpec{ct}}
		snap := emptySnapshot("pve1")
		snap.PathExists["/tank/media"] = false
		snaps := map[string]*probe.HostSnapshot{"pve1": snap}

		plan := planner.Plan(m, snaps)
		require.Equal(t, []ActionKind{ActionSkip}, kinds(plan))
		assert.Equal(t, ReasonMountPathMissing, plan.Actions[0].Reason)
	})

	t.Run("GPUContainerOnNonGPUHostSkipsNeverCreates", func(t *testing.T) {
		ct := testContainer(2001, "pve1")
		ct.ProvisionType = cmap.ProvisionNvidiaGPU
		m := &cmap.ContainerMap{
			GPUDriverVersion: "535.129",
			Containers:       []cmap.ContainerSpec{ct},
		}
		snap := emptySnapshot("pve1")
		snap.HasGPU = false
		snaps := map[string]*probe.HostSnapshot{"pve1": snap}

		plan := planner.Plan(m, snaps)
		require.Equal(t, []ActionKind{ActionSkip}, kinds(plan))
		assert.Equal(t, ReasonGPUDriverMissing, plan.Actions[0].Reason)
	})

	t.Run("GPUContainerOnGPUHostCreates", func(t *testing.T) {
		ct := testContainer(2001, "pve1")
		ct.ProvisionType = cmap.ProvisionNvidiaGPU
		m := &cmap.ContainerMap{
			GPUDriverVersion: "535.129",
			Containers:       []cmap.ContainerSpec{ct},
		}
		snap := emptySnapshot("pve1")
		snap.HasGPU = true
		snaps := map[string]*probe.HostSnapshot{"pve1": snap}

		plan := planner.Plan(m, snaps)
		require.Equal(t, []ActionKind{ActionCreate, ActionStart}, kinds(plan))
		assert.True(t, plan.Actions[0].Policy.RequiresGPU)
	})

	t.Run("DocumentOrderPreserved", func(t *testing.T) {
		m := &cmap.ContainerMap{Containers: []cmap.ContainerSpec{
			testContainer(2003, "pve1"),
			testContainer(2001, "pve1"),
			testContainer(2002, "pve1"),
		}}
		snaps := map[string]*probe.HostSnapshot{"pve1": emptySnapshot("pve1")}

		plan := planner.Plan(m, snaps)
		var ids []int
		for _, a := range plan.Actions {
			if a.Kind == ActionCreate {
				ids = append(ids, a.Target.ID)
			}
		}
		assert.Equal(t, []int{2003, 2001, 2002}, ids)
	})
}

func TestPlanDestroy(t *testing.T) {
	planner := NewPlanner(testLogger())

	t.Run("DestroysOnlyDeclaredAndPresent", func(t *testing.T) {
		// Map declares {10,11,12}; host has {10,12} plus an undeclared 99.
		m := &cmap.ContainerMap{Containers: []cmap.ContainerSpec{
			testContainer(10, "pve1"),
			testContainer(11, "pve1"),
			testContainer(12, "pve1"),
		}}
		snap := emptySnapshot("pve1")
		snap.ContainerIDs = map[int]bool{10: true, 12: true, 99: true}
		snaps := map[string]*probe.HostSnapshot{"pve1": snap}

		plan := planner.PlanDestroy(m, snaps)
		require.Equal(t, []ActionKind{ActionStop, ActionDestroy, ActionSkip, ActionStop, ActionDestroy}, kinds(plan))
		assert.Equal(t, 10, plan.Actions[0].Target.ID)
		assert.Equal(t, 11, plan.Actions[2].Target.ID)
		assert.Equal(t, ReasonAlreadyAbsent, plan.Actions[2].Reason)
		assert.Equal(t, 12, plan.Actions[3].Target.ID)

		// The undeclared container 99 is never touched.
		for _, a := range plan.Actions {
			assert.NotEqual(t, 99, a.Target.ID)
		}
	})

	t.Run("UnreachableHostSkips", func(t *testing.T) {
		m := &cmap.ContainerMap{Containers: []cmap.ContainerSpec{testContainer(10, "pve1")}}
		plan := planner.PlanDestroy(m, map[string]*probe.HostSnapshot{})
		require.Equal(t, []ActionKind{ActionSkip}, kinds(plan))
		assert.Equal(t, ReasonHostUnreachable, plan.Actions[0].Reason)
	})
}

func TestByHost(t *testing.T) {
	plan := &ActionPlan{Actions: []Action{
		{Kind: ActionCreate, Target: testContainer(1, "pve1")},
		{Kind: ActionCreate, Target: testContainer(2, "pve2")},
		{Kind: ActionStart, Target: testContainer(1, "pve1")},
	}}
	byHost := plan.ByHost()
	assert.Equal(t, []int{0, 2}, byHost["pve1"])
	assert.Equal(t, []int{1}, byHost["pve2"])
}
