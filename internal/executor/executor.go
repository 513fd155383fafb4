// Package executor applies a planned action sequence to hypervisor hosts.
// Actions on distinct hosts run in parallel; actions on the same host run
// strictly in plan order, since the hypervisor's own state store arbitrates
// id allocation and storage locks.
package executor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/reconcile"
	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/transport"
)

// ImageManager is the template acquisition collaborator, invoked before a
// create when the referenced image may not be cached on the host yet.
type ImageManager interface {
	EnsureImage(ctx context.Context, host, template string) (string, error)
}

// Hardener is the OS-bootstrap collaborator, invoked after a successful
// start, outside the reconciler's own state machine.
type Hardener interface {
	Harden(ctx context.Context, host string, vmid int) error
}

// ActionResult is the terminal outcome of one dispatched action.
type ActionResult struct {
	Action   reconcile.Action
	Success  bool
	Message  string
	Attempts int
	// Canceled marks actions never dispatched because the run was canceled.
	// They are reported as skipped, not failed.
	Canceled bool
}

// Executor applies actions against hosts.
type Executor struct {
	runners   transport.Source
	logger    *logrus.Logger
	retry     *RetryPolicy
	images    ImageManager
	hardener  Hardener
	opTimeout time.Duration
}

// NewExecutor creates a new executor with the default retry policy.
func NewExecutor(runners transport.Source, logger *logrus.Logger) *Executor {
	return &Executor{
		runners: runners,
		logger:  logger,
		retry:   NewRetryPolicy("executor", DefaultBackoffConfig()),
	}
}

// WithImageManager sets the template acquisition collaborator.
func (e *Executor) WithImageManager(images ImageManager) *Executor {
	e.images = images
	return e
}

// WithHardener sets the OS-bootstrap collaborator.
func (e *Executor) WithHardener(hardener Hardener) *Executor {
	e.hardener = hardener
	return e
}

// WithBackoff replaces the retry policy configuration.
func (e *Executor) WithBackoff(config BackoffConfig) *Executor {
	e.retry = NewRetryPolicy("executor", config)
	return e
}

// WithOperationTimeout bounds each individual host operation.
func (e *Executor) WithOperationTimeout(d time.Duration) *Executor {
	e.opTimeout = d
	return e
}

// Apply executes the plan and returns one terminal result per action, in
// plan order. Once execution has begun, every dispatched action reaches a
// terminal result even if the context is canceled; actions not yet
// dispatched at cancellation are reported as skipped.
func (e *Executor) Apply(ctx context.Context, plan *reconcile.ActionPlan, template string) []ActionResult {
	results := make([]ActionResult, len(plan.Actions))
	byHost := plan.ByHost()

	var wg sync.WaitGroup
	for host, indices := range byHost {
		wg.Add(1)
		go func(host string, indices []int) {
			defer wg.Done()
			e.applyHost(ctx, host, plan, indices, results, template)
		}(host, indices)
	}
	wg.Wait()

	return results
}

// applyHost runs one host's actions serially in plan order.
func (e *Executor) applyHost(ctx context.Context, host string, plan *reconcile.ActionPlan, indices []int, results []ActionResult, template string) {
	runner, err := e.runners(host)
	if err != nil {
		for _, i := range indices {
			a := plan.Actions[i]
			if a.Kind == reconcile.ActionSkip {
				results[i] = ActionResult{Action: a, Success: true, Message: a.Reason}
				continue
			}
			results[i] = ActionResult{Action: a, Success: false, Message: err.Error()}
		}
		return
	}

	for _, i := range indices {
		a := plan.Actions[i]

		if a.Kind == reconcile.ActionSkip {
			results[i] = ActionResult{Action: a, Success: true, Message: a.Reason}
			continue
		}
		if ctx.Err() != nil {
			results[i] = ActionResult{Action: a, Success: true, Message: reconcile.ReasonRunCanceled, Canceled: true}
			continue
		}

		results[i] = e.applyAction(ctx, runner, host, a, template)
	}
}

func (e *Executor) applyAction(ctx context.Context, runner transport.Runner, host string, a reconcile.Action, template string) ActionResult {
	var message string
	attempts, err := e.retry.Execute(ctx, func(ctx context.Context) error {
		if e.opTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.opTimeout)
			defer cancel()
		}
		msg, err := e.applyOnce(ctx, runner, host, a, template)
		message = msg
		return err
	})

	if err != nil {
		e.logger.Errorf("Action %s on %s failed after %d attempt(s): %v", a, host, attempts, err)
		return ActionResult{Action: a, Success: false, Message: err.Error(), Attempts: attempts}
	}

	e.logger.Infof("Action %s on %s succeeded: %s", a, host, message)
	return ActionResult{Action: a, Success: true, Message: message, Attempts: attempts}
}

// containerState reports the live state of a container id on the host:
// "running", "stopped", or "absent". Live checks back every verb so a re-run
// against an already-converged host is a sequence of no-ops.
func (e *Executor) containerState(ctx context.Context, runner transport.Runner, vmid int) (string, error) {
	out, err := runner.Run(ctx, "pct", "status", strconv.Itoa(vmid))
	if err != nil {
		lower := strings.ToLower(out + " " + err.Error())
		if strings.Contains(lower, "does not exist") || strings.Contains(lower, "no such") {
			return "absent", nil
		}
		return "", classify(out, err)
	}
	if strings.Contains(out, "running") {
		return "running", nil
	}
	return "stopped", nil
}

func (e *Executor) applyOnce(ctx context.Context, runner transport.Runner, host string, a reconcile.Action, template string) (string, error) {
	ct := a.Target
	vmid := strconv.Itoa(ct.ID)

	switch a.Kind {
	case reconcile.ActionCreate:
		state, err := e.containerState(ctx, runner, ct.ID)
		if err != nil {
			return "", err
		}
		if state != "absent" {
			return fmt.Sprintf("container %d already exists", ct.ID), nil
		}

		imageRef := template
		if e.images != nil {
			ref, err := e.images.EnsureImage(ctx, host, template)
			if err != nil {
				return "", Transient(fmt.Errorf("ensure image: %w", err))
			}
			imageRef = ref
		}

		out, err := runner.Run(ctx, "pct", createArgs(ct, a.Policy, imageRef)...)
		if err != nil {
			return "", classify(out, err)
		}
		if lines := DeviceAllowLines(a.Policy); len(lines) > 0 {
			conf := "/etc/pve/lxc/" + vmid + ".conf"
			script := "printf '%s\\n' " + shellQuoteAll(lines) + " >> " + conf
			out, err := runner.Run(ctx, "sh", "-c", script)
			if err != nil {
				return "", classify(out, err)
			}
		}
		return fmt.Sprintf("container %d created", ct.ID), nil

	case reconcile.ActionConfigure:
		state, err := e.containerState(ctx, runner, ct.ID)
		if err != nil {
			return "", err
		}
		if state == "absent" {
			return "", Terminal(fmt.Errorf("container %d vanished between probe and configure", ct.ID))
		}
		out, err := runner.Run(ctx, "pct", configureArgs(ct, a.Policy)...)
		if err != nil {
			return "", classify(out, err)
		}
		return fmt.Sprintf("container %d configured", ct.ID), nil

	case reconcile.ActionStart:
		state, err := e.containerState(ctx, runner, ct.ID)
		if err != nil {
			return "", err
		}
		if state == "running" {
			return fmt.Sprintf("container %d already running", ct.ID), nil
		}
		out, err := runner.Run(ctx, "pct", "start", vmid)
		if err != nil {
			return "", classify(out, err)
		}
		if e.hardener != nil {
			if err := e.hardener.Harden(ctx, host, ct.ID); err != nil {
				return "", Terminal(fmt.Errorf("harden container %d: %w", ct.ID, err))
			}
		}
		return fmt.Sprintf("container %d started", ct.ID), nil

	case reconcile.ActionStop:
		state, err := e.containerState(ctx, runner, ct.ID)
		if err != nil {
			return "", err
		}
		if state != "running" {
			return fmt.Sprintf("container %d already stopped", ct.ID), nil
		}
		out, err := runner.Run(ctx, "pct", "stop", vmid)
		if err != nil {
			return "", classify(out, err)
		}
		return fmt.Sprintf("container %d stopped", ct.ID), nil

	case reconcile.ActionDestroy:
		state, err := e.containerState(ctx, runner, ct.ID)
		if err != nil {
			return "", err
		}
		if state == "absent" {
			return fmt.Sprintf("container %d already absent", ct.ID), nil
		}
		out, err := runner.Run(ctx, "pct", "destroy", vmid, "--purge")
		if err != nil {
			return "", classify(out, err)
		}
		return fmt.Sprintf("container %d destroyed", ct.ID), nil

	default:
		return "", Terminal(fmt.Errorf("unknown action kind %q", a.Kind))
	}
}

func shellQuoteAll(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + strings.ReplaceAll(v, "'", `'"'"'`) + "'"
	}
	return strings.Join(quoted, " ")
}
