package executor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/cmap"
	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/policy"
)

func TestNetConfig(t *testing.T) {
	ct := testContainer(2001, "pve1")
	assert.Equal(t, "name=eth0,bridge=vmbr0,ip=10.0.0.10/24,gw=10.0.0.1", netConfig(ct))

	t.Run("VlanTagAppended", func(t *testing.T) {
		tag := 42
		tagged := ct
		tagged.VlanTag = &tag
		assert.Equal(t, "name=eth0,bridge=vmbr0,ip=10.0.0.10/24,gw=10.0.0.1,tag=42", netConfig(tagged))
	})

	t.Run("ZeroTagMeansUntagged", func(t *testing.T) {
		zero := 0
		untagged := ct
		untagged.VlanTag = &zero
		assert.NotContains(t, netConfig(ct), "tag=")
		assert.NotContains(t, netConfig(untagged), "tag=")
	})
}

func TestMountArgs(t *testing.T) {
	ct := testContainer(2001, "pve1")
	ct.Mounts = []cmap.BindMount{
		{HostPath: "/tank/media", ContainerPath: "/media", ReadOnly: true},
		{HostPath: "/tank/data", ContainerPath: "/data"},
	}

	args := mountArgs(ct, nil)
	require.Equal(t, []string{
		"--mp0", "/tank/media,mp=/media,ro=1",
		"--mp1", "/tank/data,mp=/data",
	}, args)

	t.Run("PolicyMountsFollowUserMounts", func(t *testing.T) {
		pol, err := policy.Resolve(cmap.ProvisionNvidiaGPU, "535.129")
		require.NoError(t, err)

		args := mountArgs(ct, &pol)
		assert.Contains(t, args, "--mp2")
		joined := strings.Join(args, " ")
		assert.Contains(t, joined, "nvidia")
	})
}

func TestCreateArgs(t *testing.T) {
	ct := testContainer(2001, "pve1")
	ct.DNS = "10.0.0.1"
	pol := unprivilegedPolicy(t)

	args := createArgs(ct, pol, "local:vztmpl/ubuntu-22.04.tar.zst")
	joined := strings.Join(args, " ")

	assert.Equal(t, "create", args[0])
	assert.Equal(t, "2001", args[1])
	assert.Equal(t, "local:vztmpl/ubuntu-22.04.tar.zst", args[2])
	assert.Contains(t, joined, "--rootfs local-lvm:8")
	assert.Contains(t, joined, "--unprivileged 1")
	assert.Contains(t, joined, "--features nesting=1")
	assert.Contains(t, joined, "--nameserver 10.0.0.1")

	t.Run("PrivilegedFlag", func(t *testing.T) {
		priv, err := policy.Resolve(cmap.ProvisionPrivileged, "")
		require.NoError(t, err)
		joined := strings.Join(createArgs(ct, &priv, "ref"), " ")
		assert.Contains(t, joined, "--unprivileged 0")
	})

	t.Run("GPUDevicesPassedThrough", func(t *testing.T) {
		gpu, err := policy.Resolve(cmap.ProvisionNvidiaGPU, "535.129")
		require.NoError(t, err)
		joined := strings.Join(createArgs(ct, &gpu, "ref"), " ")
		assert.Contains(t, joined, "--dev0 path=/dev/nvidia0")
	})
}

func TestConfigureArgs(t *testing.T) {
	ct := testContainer(2001, "pve1")
	args := configureArgs(ct, unprivilegedPolicy(t))
	joined := strings.Join(args, " ")

	assert.Equal(t, "set", args[0])
	assert.Equal(t, "2001", args[1])
	assert.Contains(t, joined, "--memory 2048")
	assert.Contains(t, joined, "--net0 ")

	// Immutable-in-place fields must never be reconciled.
	assert.NotContains(t, joined, "--rootfs")
	assert.NotContains(t, joined, "--hostname")
}

func TestDeviceAllowLines(t *testing.T) {
	t.Run("Unprivileged", func(t *testing.T) {
		lines := DeviceAllowLines(unprivilegedPolicy(t))
		require.NotEmpty(t, lines)
		assert.Contains(t, lines, "lxc.cgroup2.devices.allow: c 1:3 rwm")
		assert.Contains(t, lines, "lxc.cgroup2.devices.allow: c 136:* rwm")
	})

	t.Run("PrivilegedBlanket", func(t *testing.T) {
		pol, err := policy.Resolve(cmap.ProvisionPrivileged, "")
		require.NoError(t, err)
		lines := DeviceAllowLines(&pol)
		require.Len(t, lines, 1)
		assert.Equal(t, "lxc.cgroup2.devices.allow: a *:* rwm", lines[0])
	})

	t.Run("NilPolicy", func(t *testing.T) {
		assert.Empty(t, DeviceAllowLines(nil))
	})
}
