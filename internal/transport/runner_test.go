package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/inventory"
)

func TestJoinCommand(t *testing.T) {
	t.Run("NoArgs", func(t *testing.T) {
		assert.Equal(t, "'pct'", joinCommand("pct", nil))
	})

	t.Run("ArgsQuoted", func(t *testing.T) {
		assert.Equal(t, "'pct' 'list'", joinCommand("pct", []string{"list"}))
	})

	t.Run("SingleQuotesEscaped", func(t *testing.T) {
		got := joinCommand("sh", []string{"-c", "echo 'hi'"})
		assert.Equal(t, `'sh' '-c' 'echo '"'"'hi'"'"''`, got)
	})

	t.Run("EmptyArg", func(t *testing.T) {
		assert.Equal(t, "'echo' ''", joinCommand("echo", []string{""}))
	})
}

func TestSSHRunnerAddress(t *testing.T) {
	t.Run("DefaultPort", func(t *testing.T) {
		addr, err := SSHRunner{Host: "pve1.lan"}.address()
		require.NoError(t, err)
		assert.Equal(t, "pve1.lan:22", addr)
	})

	t.Run("ExplicitPort", func(t *testing.T) {
		addr, err := SSHRunner{Host: "pve1.lan", Port: "2222"}.address()
		require.NoError(t, err)
		assert.Equal(t, "pve1.lan:2222", addr)
	})

	t.Run("HostAlreadyHasPort", func(t *testing.T) {
		addr, err := SSHRunner{Host: "pve1.lan:2022"}.address()
		require.NoError(t, err)
		assert.Equal(t, "pve1.lan:2022", addr)
	})

	t.Run("EmptyHostRejected", func(t *testing.T) {
		_, err := SSHRunner{}.address()
		assert.Error(t, err)
	})
}

func TestInventorySource(t *testing.T) {
	inv := &inventory.Inventory{Hosts: []inventory.Host{
		{Name: "pve1", Address: "192.168.1.10", User: "root", KeyPath: "/k"},
		{Name: "self", Address: "local", User: "root"},
	}}
	source := InventorySource(inv, 0)

	t.Run("SSHForRemote", func(t *testing.T) {
		r, err := source("pve1")
		require.NoError(t, err)
		sshRunner, ok := r.(SSHRunner)
		require.True(t, ok)
		assert.Equal(t, "192.168.1.10", sshRunner.Host)
	})

	t.Run("LocalForLocalAddress", func(t *testing.T) {
		r, err := source("self")
		require.NoError(t, err)
		_, ok := r.(LocalRunner)
		assert.True(t, ok)
	})

	t.Run("UnknownHostRejected", func(t *testing.T) {
		_, err := source("pve9")
		assert.Error(t, err)
	})
}
