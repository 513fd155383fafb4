package bootstrap

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/transport"
)

// Hardener applies the in-container OS bootstrap after a container starts:
// package refresh, SSH daemon, deployment key installation, and firewall
// rules. It runs outside the reconciler's state machine.
type Hardener struct {
	runners   transport.Source
	logger    *logrus.Logger
	publicKey string
}

// NewHardener creates a new hardener. publicKey is the authorized-keys line
// installed for the deployment user.
func NewHardener(runners transport.Source, publicKey string, logger *logrus.Logger) *Hardener {
	return &Hardener{
		runners:   runners,
		logger:    logger,
		publicKey: strings.TrimSpace(publicKey),
	}
}

// hardenSteps are executed inside the container via pct exec, in order. Each
// step must be idempotent so a re-run after a partial failure converges.
func (h *Hardener) hardenSteps() [][]string {
	steps := [][]string{
		{"sh", "-c", "apt-get update -qq"},
		{"sh", "-c", "DEBIAN_FRONTEND=noninteractive apt-get install -y -qq openssh-server ufw"},
		{"sh", "-c", "systemctl enable --now ssh"},
	}
	if h.publicKey != "" {
		steps = append(steps,
			[]string{"sh", "-c", "mkdir -p /root/.ssh && chmod 700 /root/.ssh"},
			[]string{"sh", "-c", fmt.Sprintf("grep -qxF %q /root/.ssh/authorized_keys 2>/dev/null || echo %q >> /root/.ssh/authorized_keys", h.publicKey, h.publicKey)},
			[]string{"sh", "-c", "chmod 600 /root/.ssh/authorized_keys"},
		)
	}
	steps = append(steps,
		[]string{"sh", "-c", "ufw allow OpenSSH"},
		[]string{"sh", "-c", "ufw --force enable"},
	)
	return steps
}

// Harden runs the bootstrap steps inside the container.
func (h *Hardener) Harden(ctx context.Context, host string, vmid int) error {
	runner, err := h.runners(host)
	if err != nil {
		return err
	}

	h.logger.Infof("Hardening container %d on %s", vmid, host)
	for _, step := range h.hardenSteps() {
		args := append([]string{"exec", strconv.Itoa(vmid), "--"}, step...)
		if out, err := runner.Run(ctx, "pct", args...); err != nil {
			return fmt.Errorf("harden step %q in container %d: %w: %s",
				strings.Join(step, " "), vmid, err, strings.TrimSpace(out))
		}
	}

	return nil
}
