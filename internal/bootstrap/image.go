// Package bootstrap holds the procedural collaborators invoked around the
// reconciler: template image acquisition, in-container OS hardening, SSH key
// generation, and deployment scaffold emission. Each is a single-shot
// sequential step with no state machine of its own.
package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/transport"
)

// ImageManager ensures the OS template is cached on a host before a create.
type ImageManager struct {
	runners transport.Source
	logger  *logrus.Logger
	// storage is the template storage id, "local" on a stock hypervisor.
	storage string
}

// NewImageManager creates a new image manager.
func NewImageManager(runners transport.Source, logger *logrus.Logger) *ImageManager {
	return &ImageManager{
		runners: runners,
		logger:  logger,
		storage: "local",
	}
}

// WithTemplateStorage overrides the storage backend templates are cached on.
func (m *ImageManager) WithTemplateStorage(storage string) *ImageManager {
	m.storage = storage
	return m
}

// EnsureImage checks the host's template cache for the named template and
// downloads it on a miss. It returns the volume reference usable by create.
func (m *ImageManager) EnsureImage(ctx context.Context, host, template string) (string, error) {
	runner, err := m.runners(host)
	if err != nil {
		return "", err
	}

	ref := fmt.Sprintf("%s:vztmpl/%s", m.storage, template)

	out, err := runner.Run(ctx, "pveam", "list", m.storage)
	if err != nil {
		return "", fmt.Errorf("list templates on %s: %w", host, err)
	}
	if strings.Contains(out, template) {
		m.logger.Debugf("Template %s already cached on %s", template, host)
		return ref, nil
	}

	m.logger.Infof("Downloading template %s on %s", template, host)
	if out, err := runner.Run(ctx, "pveam", "update"); err != nil {
		return "", fmt.Errorf("refresh template index on %s: %w: %s", host, err, strings.TrimSpace(out))
	}
	if out, err := runner.Run(ctx, "pveam", "download", m.storage, template); err != nil {
		return "", fmt.Errorf("download template %s on %s: %w: %s", template, host, err, strings.TrimSpace(out))
	}

	return ref, nil
}
