package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/bootstrap"
	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/cmap"
	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/executor"
	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/inventory"
	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/probe"
	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/reconcile"
	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/report"
	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/transport"
)

var (
	// Version is set during build
	Version = "dev"
	// BuildTime is set during build
	BuildTime = "unknown"
	// Default data directory
	defaultDataDir = "/var/lib/lxc-provisioner"
)

type options struct {
	inventoryPath string
	dataDir       string
	logLevel      string
	timeout       time.Duration
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// Data directory default can come from the environment.
	defaultDir := defaultDataDir
	if env := os.Getenv("PROVISIONER_DATA_DIR"); env != "" {
		defaultDir = env
	}

	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "provisioner",
		Short: "Declarative LXC container provisioner for Proxmox hosts",
		Long: `provisioner reads a declarative container map, probes the actual state
of the target hosts, and converges them: containers declared but absent are
created and started, containers already present are reconciled in place.
One convergence pass per invocation; re-running is always safe.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level, err := logrus.ParseLevel(opts.logLevel)
			if err != nil {
				level = logrus.InfoLevel
			}
			log.SetLevel(level)
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.inventoryPath, "inventory", "inventory.yaml", "Host inventory file")
	rootCmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", defaultDir, "Data directory (can also be set via PROVISIONER_DATA_DIR env var)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Per-operation timeout for remote host commands")

	rootCmd.AddCommand(newProvisionCmd(log, opts))
	rootCmd.AddCommand(newNukeCmd(log, opts))

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("provisioner %s (built at %s)\n", Version, BuildTime)
		},
	})

	// A signal cancels the run context: dispatched actions still reach a
	// terminal result before the final report is printed.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatalf("Failed to execute command: %v", err)
	}
}

func newProvisionCmd(log *logrus.Logger, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "provision <map>",
		Short: "Converge hosts to the state declared in a container map",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runProvision(cmd.Context(), log, opts, args[0]))
		},
	}
}

func newNukeCmd(log *logrus.Logger, opts *options) *cobra.Command {
	var yes bool
	var keepArtifacts bool

	cmd := &cobra.Command{
		Use:   "nuke <map>",
		Short: "Stop and destroy exactly the containers a map declares",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runNuke(cmd.Context(), log, opts, args[0], yes, keepArtifacts))
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Skip the confirmation prompt")
	cmd.Flags().BoolVar(&keepArtifacts, "keep-artifacts", false, "Preserve the deployment scaffold and keys")
	return cmd
}

// setup performs the shared front half of both commands: map validation,
// inventory resolution, and host probing. Validation failures return before
// any host is contacted.
func setup(ctx context.Context, log *logrus.Logger, opts *options, mapPath string) (*cmap.ContainerMap, map[string]*probe.HostSnapshot, transport.Source, error) {
	m, err := cmap.Load(mapPath)
	if err != nil {
		return nil, nil, nil, err
	}

	inv, err := inventory.Load(opts.inventoryPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if missing := inv.Covers(m.Hosts()); len(missing) > 0 {
		return nil, nil, nil, fmt.Errorf("container map references hosts absent from inventory: %s", strings.Join(missing, ", "))
	}

	runners := transport.InventorySource(inv, opts.timeout)
	prober := probe.NewProber(runners, log)
	snapshots := prober.SnapshotAll(ctx, m.Hosts(), m.HostPathsByHost())

	return m, snapshots, runners, nil
}

func deploymentName(mapPath string) string {
	base := filepath.Base(mapPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func runProvision(ctx context.Context, log *logrus.Logger, opts *options, mapPath string) int {
	started := time.Now()

	m, snapshots, runners, err := setup(ctx, log, opts, mapPath)
	if err != nil {
		log.Errorf("Provision aborted: %v", err)
		return 2
	}

	plan := reconcile.NewPlanner(log).Plan(m, snapshots)
	log.Infof("Plan: %s", reconcile.Summary(plan))

	name := deploymentName(mapPath)
	keys, err := bootstrap.EnsureKeyPair(filepath.Join(opts.dataDir, "keys", name))
	if err != nil {
		log.Errorf("Provision aborted: %v", err)
		return 2
	}

	exec := executor.NewExecutor(runners, log).
		WithImageManager(bootstrap.NewImageManager(runners, log)).
		WithHardener(bootstrap.NewHardener(runners, keys.AuthorizedKey, log)).
		WithOperationTimeout(opts.timeout)

	results := exec.Apply(ctx, plan, m.Template)
	entries := report.FromResults(results)
	code := report.ExitCode(entries)

	// The scaffold is emitted once per successful run, after every action
	// has reached a terminal result.
	if code == 0 {
		scaffold := bootstrap.NewScaffold(filepath.Join(opts.dataDir, "deployments"), keys.PrivateKeyPath, log)
		if path, err := scaffold.Emit(name, m.Containers); err != nil {
			log.Warnf("Scaffold generation failed: %v", err)
		} else {
			log.Infof("Deployment scaffold: %s", path)
		}
	}

	recordRun(log, opts, "provision", mapPath, started, entries)
	report.PrintTable(os.Stdout, entries)
	return code
}

func runNuke(ctx context.Context, log *logrus.Logger, opts *options, mapPath string, yes, keepArtifacts bool) int {
	started := time.Now()

	m, snapshots, runners, err := setup(ctx, log, opts, mapPath)
	if err != nil {
		log.Errorf("Nuke aborted: %v", err)
		return 2
	}

	plan := reconcile.NewPlanner(log).PlanDestroy(m, snapshots)
	log.Infof("Plan: %s", reconcile.Summary(plan))

	if !yes && !confirmDestroy(plan) {
		log.Info("Nuke canceled by operator")
		return 2
	}

	exec := executor.NewExecutor(runners, log).WithOperationTimeout(opts.timeout)
	results := exec.Apply(ctx, plan, m.Template)
	entries := report.FromResults(results)
	code := report.ExitCode(entries)

	if code == 0 && !keepArtifacts {
		name := deploymentName(mapPath)
		scaffold := bootstrap.NewScaffold(filepath.Join(opts.dataDir, "deployments"), "", log)
		if err := scaffold.Remove(name); err != nil {
			log.Warnf("Failed to remove scaffold: %v", err)
		}
		if err := os.RemoveAll(filepath.Join(opts.dataDir, "keys", name)); err != nil {
			log.Warnf("Failed to remove deployment keys: %v", err)
		}
	}

	recordRun(log, opts, "nuke", mapPath, started, entries)
	report.PrintTable(os.Stdout, entries)
	return code
}

// confirmDestroy gates destructive execution on an interactive "yes". A
// non-interactive stdin without --yes refuses to proceed.
func confirmDestroy(plan *reconcile.ActionPlan) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, "refusing to nuke without a terminal; pass --yes to confirm")
		return false
	}

	fmt.Printf("About to execute: %s\nType 'yes' to continue: ", reconcile.Summary(plan))
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}
	return strings.TrimSpace(scanner.Text()) == "yes"
}

func recordRun(log *logrus.Logger, opts *options, command, mapPath string, started time.Time, entries []report.Entry) {
	store, err := report.NewStore(opts.dataDir, log)
	if err != nil {
		log.Warnf("Run history unavailable: %v", err)
		return
	}
	defer store.Close()

	if _, err := store.RecordRun(command, mapPath, started, entries); err != nil {
		log.Warnf("Failed to record run: %v", err)
	}
}
