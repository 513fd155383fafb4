package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/cmap"
	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/transport"
)

type fakeRunner struct {
	responses map[string]string
	errors    map[string]error
	calls     []string
}

func (f *fakeRunner) Run(ctx context.Context, cmd string, args ...string) (string, error) {
	key := strings.Join(append([]string{cmd}, args...), " ")
	f.calls = append(f.calls, key)
	if err, ok := f.errors[key]; ok {
		return "", err
	}
	return f.responses[key], nil
}

func sourceFor(r transport.Runner) transport.Source {
	return func(host string) (transport.Runner, error) { return r, nil }
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

func TestEnsureImage(t *testing.T) {
	ctx := context.Background()
	const template = "ubuntu-22.04-standard_22.04-1_amd64.tar.zst"

	t.Run("CachedTemplateNotRedownloaded", func(t *testing.T) {
		runner := &fakeRunner{responses: map[string]string{
			"pveam list local": "local:vztmpl/" + template + "  120MB",
		}}
		m := NewImageManager(sourceFor(runner), testLogger())

		ref, err := m.EnsureImage(ctx, "pve1", template)
		require.NoError(t, err)
		assert.Equal(t, "local:vztmpl/"+template, ref)
		assert.Len(t, runner.calls, 1)
	})

	t.Run("MissingTemplateDownloaded", func(t *testing.T) {
		runner := &fakeRunner{responses: map[string]string{
			"pveam list local": "local:vztmpl/other.tar.zst  90MB",
		}}
		m := NewImageManager(sourceFor(runner), testLogger())

		ref, err := m.EnsureImage(ctx, "pve1", template)
		require.NoError(t, err)
		assert.Equal(t, "local:vztmpl/"+template, ref)
		assert.Contains(t, runner.calls, "pveam update")
		assert.Contains(t, runner.calls, "pveam download local "+template)
	})

	t.Run("DownloadFailureSurfaces", func(t *testing.T) {
		runner := &fakeRunner{
			responses: map[string]string{"pveam list local": ""},
			errors:    map[string]error{"pveam download local " + template: errors.New("404")},
		}
		m := NewImageManager(sourceFor(runner), testLogger())

		_, err := m.EnsureImage(ctx, "pve1", template)
		assert.Error(t, err)
	})
}

func TestHarden(t *testing.T) {
	ctx := context.Background()

	t.Run("RunsAllStepsInsideContainer", func(t *testing.T) {
		runner := &fakeRunner{}
		h := NewHardener(sourceFor(runner), "ssh-ed25519 AAAA test-key", testLogger())

		require.NoError(t, h.Harden(ctx, "pve1", 2001))
		require.NotEmpty(t, runner.calls)
		for _, call := range runner.calls {
			assert.True(t, strings.HasPrefix(call, "pct exec 2001 --"), call)
		}
		joined := strings.Join(runner.calls, "\n")
		assert.Contains(t, joined, "openssh-server")
		assert.Contains(t, joined, "authorized_keys")
		assert.Contains(t, joined, "ufw")
	})

	t.Run("StepFailureStopsSequence", func(t *testing.T) {
		runner := &fakeRunner{errors: map[string]error{
			"pct exec 2001 -- sh -c apt-get update -qq": errors.New("exit status 100"),
		}}
		h := NewHardener(sourceFor(runner), "", testLogger())

		err := h.Harden(ctx, "pve1", 2001)
		require.Error(t, err)
		assert.Len(t, runner.calls, 1)
	})
}

func TestEnsureKeyPair(t *testing.T) {
	dir := t.TempDir()

	pair, err := EnsureKeyPair(dir)
	require.NoError(t, err)
	assert.FileExists(t, pair.PrivateKeyPath)
	assert.FileExists(t, pair.PublicKeyPath)
	assert.True(t, strings.HasPrefix(pair.AuthorizedKey, "ssh-ed25519 "))

	// Second call reuses the existing pair.
	again, err := EnsureKeyPair(dir)
	require.NoError(t, err)
	assert.Equal(t, pair.AuthorizedKey, again.AuthorizedKey)
}

func TestScaffoldEmit(t *testing.T) {
	dir := t.TempDir()
	s := NewScaffold(dir, "/keys/id_ed25519", testLogger())

	containers := []cmap.ContainerSpec{
		{ID: 2001, Hostname: "web-01", Host: "pve1", IPCidr: "10.0.0.11/24"},
		{ID: 2002, Hostname: "db-01", Host: "pve2", IPCidr: "10.0.0.12/24"},
	}

	path, err := s.Emit("homelab", containers)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "homelab"), path)

	inv, err := os.ReadFile(filepath.Join(path, "inventory.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(inv), "web-01")
	assert.Contains(t, string(inv), "10.0.0.11")
	assert.NotContains(t, string(inv), "10.0.0.11/24", "scaffold addresses drop the prefix")

	stub, err := os.ReadFile(filepath.Join(path, "connect.sh"))
	require.NoError(t, err)
	assert.Contains(t, string(stub), "db-01")

	t.Run("RemoveDeletesScaffold", func(t *testing.T) {
		require.NoError(t, s.Remove("homelab"))
		assert.NoDirExists(t, filepath.Join(dir, "homelab"))
	})
}
