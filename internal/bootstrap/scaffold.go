package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/cmap"
)

// Scaffold emits the deployment artifacts for a successful run: a resolved
// inventory of the provisioned containers and per-container connection
// stubs. The output path is returned to the caller; nothing reads it back
// from a well-known location.
type Scaffold struct {
	outputDir string
	keyPath   string
	logger    *logrus.Logger
}

// NewScaffold creates a scaffold generator writing under outputDir.
func NewScaffold(outputDir, keyPath string, logger *logrus.Logger) *Scaffold {
	return &Scaffold{
		outputDir: outputDir,
		keyPath:   keyPath,
		logger:    logger,
	}
}

type scaffoldEntry struct {
	ID       int    `yaml:"id"`
	Hostname string `yaml:"hostname"`
	Host     string `yaml:"host"`
	Address  string `yaml:"address"`
}

type scaffoldInventory struct {
	Deployment string          `yaml:"deployment"`
	KeyPath    string          `yaml:"keyPath"`
	Containers []scaffoldEntry `yaml:"containers"`
}

// Emit writes the scaffold for the given containers and returns the
// directory it was written to.
func (s *Scaffold) Emit(deploymentName string, containers []cmap.ContainerSpec) (string, error) {
	dir := filepath.Join(s.outputDir, deploymentName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create scaffold dir: %w", err)
	}

	inv := scaffoldInventory{
		Deployment: deploymentName,
		KeyPath:    s.keyPath,
	}
	for _, ct := range containers {
		addr := ct.IPCidr
		if i := strings.IndexByte(addr, '/'); i >= 0 {
			addr = addr[:i]
		}
		inv.Containers = append(inv.Containers, scaffoldEntry{
			ID:       ct.ID,
			Hostname: ct.Hostname,
			Host:     ct.Host,
			Address:  addr,
		})
	}

	data, err := yaml.Marshal(&inv)
	if err != nil {
		return "", fmt.Errorf("marshal scaffold inventory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "inventory.yaml"), data, 0o644); err != nil {
		return "", fmt.Errorf("write scaffold inventory: %w", err)
	}

	var b strings.Builder
	b.WriteString("#!/bin/sh\n# Connect to a provisioned container: ./connect.sh <hostname>\n")
	b.WriteString("case \"$1\" in\n")
	for _, entry := range inv.Containers {
		fmt.Fprintf(&b, "  %s) exec ssh -i %s root@%s ;;\n", entry.Hostname, s.keyPath, entry.Address)
	}
	b.WriteString("  *) echo \"unknown container: $1\" >&2; exit 1 ;;\nesac\n")
	if err := os.WriteFile(filepath.Join(dir, "connect.sh"), []byte(b.String()), 0o755); err != nil {
		return "", fmt.Errorf("write connect stub: %w", err)
	}

	s.logger.Infof("Scaffold for deployment %s written to %s", deploymentName, dir)
	return dir, nil
}

// Remove deletes a previously emitted scaffold. Used by nuke unless the
// keep-artifacts flag is set.
func (s *Scaffold) Remove(deploymentName string) error {
	return os.RemoveAll(filepath.Join(s.outputDir, deploymentName))
}
