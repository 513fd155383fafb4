// Package report aggregates per-action results into a per-container outcome
// table, derives the process exit code, and records run history.
package report

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/executor"
	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/reconcile"
)

// Outcome is the final per-container state a run reports.
type Outcome string

const (
	// OutcomeCreated means the container was created but not started
	OutcomeCreated Outcome = "created"
	// OutcomeConfigured means an existing container was reconciled in place
	OutcomeConfigured Outcome = "configured"
	// OutcomeStarted means the container was created (or existed) and started
	OutcomeStarted Outcome = "started"
	// OutcomeStopped means the container was stopped
	OutcomeStopped Outcome = "stopped"
	// OutcomeDestroyed means the container was removed from its host
	OutcomeDestroyed Outcome = "destroyed"
	// OutcomeSkipped means no action was taken, with a recorded reason
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed means an action failed terminally for this container
	OutcomeFailed Outcome = "failed"
)

// Entry is one row of the outcome table.
type Entry struct {
	ID       int
	Hostname string
	Host     string
	Outcome  Outcome
	Detail   string
}

// FromResults folds action results into one entry per container, preserving
// document order. A failure on any of a container's actions wins over its
// other outcomes; cancellation reports as skipped, never failed.
func FromResults(results []executor.ActionResult) []Entry {
	var order []int
	byID := make(map[int]*Entry)

	for _, res := range results {
		ct := res.Action.Target
		entry, ok := byID[ct.ID]
		if !ok {
			entry = &Entry{ID: ct.ID, Hostname: ct.Hostname, Host: ct.Host}
			byID[ct.ID] = entry
			order = append(order, ct.ID)
		}
		if entry.Outcome == OutcomeFailed {
			continue
		}

		switch {
		case !res.Success:
			entry.Outcome = OutcomeFailed
			entry.Detail = res.Message
		case res.Canceled:
			entry.Outcome = OutcomeSkipped
			entry.Detail = reconcile.ReasonRunCanceled
		case res.Action.Kind == reconcile.ActionSkip:
			entry.Outcome = OutcomeSkipped
			entry.Detail = res.Action.Reason
		case res.Action.Kind == reconcile.ActionCreate:
			entry.Outcome = OutcomeCreated
			entry.Detail = res.Message
		case res.Action.Kind == reconcile.ActionConfigure:
			entry.Outcome = OutcomeConfigured
			entry.Detail = res.Message
		case res.Action.Kind == reconcile.ActionStart:
			entry.Outcome = OutcomeStarted
			entry.Detail = res.Message
		case res.Action.Kind == reconcile.ActionStop:
			entry.Outcome = OutcomeStopped
			entry.Detail = res.Message
		case res.Action.Kind == reconcile.ActionDestroy:
			entry.Outcome = OutcomeDestroyed
			entry.Detail = res.Message
		}
	}

	entries := make([]Entry, 0, len(order))
	for _, id := range order {
		entries = append(entries, *byID[id])
	}
	return entries
}

// PrintTable writes the outcome table to w.
func PrintTable(w io.Writer, entries []Entry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tHOSTNAME\tHOST\tOUTCOME\tDETAIL")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", e.ID, e.Hostname, e.Host, e.Outcome, e.Detail)
	}
	tw.Flush()
}

// ExitCode is non-zero iff any entry failed. Skips are not failures.
func ExitCode(entries []Entry) int {
	for _, e := range entries {
		if e.Outcome == OutcomeFailed {
			return 1
		}
	}
	return 0
}
