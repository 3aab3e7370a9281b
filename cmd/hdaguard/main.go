// Package main is the CLI entry point for hdaguard.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/hdaguard/internal/config"
	"github.com/eliteGoblin/focusd/hdaguard/internal/domain"
	"github.com/eliteGoblin/focusd/hdaguard/internal/infra"
	"github.com/eliteGoblin/focusd/hdaguard/internal/logging"
	"github.com/eliteGoblin/focusd/hdaguard/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hdaguard",
	Short: "Keeps NVIDIA HD Audio outputs disabled",
	Long: `hdaguard watches the host's device list and disables every audio
output matching the configured name pattern (NVIDIA High Definition Audio
by default) whenever the OS turns one back on.

It reacts to device change notifications and also polls on a fixed
interval, so outputs re-enabled by driver updates, sleep/wake or reboot
are caught either way.`,
	Version:      Version,
	SilenceUsage: true,
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install and start the hdaguard service",
	Long: `Copies the binary to its system location, writes a default config if
none exists, and registers hdaguard with the service manager (systemd unit
or Windows service) so it starts at boot and restarts after a crash.

Running install again updates an existing registration.`,
	RunE: runInstall,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop and remove the hdaguard service",
	RunE:  runUninstall,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show watchdog status and recent passes",
	RunE:  runStatus,
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print the last lines of the log file",
	RunE:  runLogs,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one forced pass now",
	Long: `Enumerates devices and disables every output matching the pattern,
whatever its current status. Useful right after a driver update.`,
	RunE: runCheck,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List audio devices and whether the pattern matches them",
	Long:  `Shows what a pass would act on without disabling anything.`,
	RunE:  runList,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

// Hidden run command - started by the service manager
var runCmd = &cobra.Command{
	Use:    "run",
	Hidden: true,
	RunE:   runWatchdog,
}

var (
	configPath  string
	jsonOutput  bool
	logLines    int
	passHistory int
	listAll     bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML config file")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	logsCmd.Flags().IntVarP(&logLines, "lines", "n", 50, "Number of lines to print")
	statusCmd.Flags().IntVar(&passHistory, "passes", 5, "Number of recent passes to show")
	listCmd.Flags().BoolVar(&listAll, "all", false, "Include devices the pattern does not match")

	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
}

// loadConfig reads --config over the platform defaults.
func loadConfig() (*config.Config, *infra.Layout, error) {
	layout := infra.DetectLayout()
	cfg, err := config.Load(configPath, config.Default(layout.DataDir, layout.LogPath))
	if err != nil {
		return nil, nil, err
	}
	return cfg, layout, nil
}

func requireElevated(action string) error {
	if infra.HasElevatedPrivilege() {
		return nil
	}
	if infra.DetectLayout().OS == "windows" {
		return fmt.Errorf("%s: %w (run from an elevated prompt)", action, domain.ErrNotElevated)
	}
	return fmt.Errorf("%s: %w (run with sudo)", action, domain.ErrNotElevated)
}

func runInstall(cmd *cobra.Command, args []string) error {
	if err := requireElevated("install"); err != nil {
		return err
	}
	layout := infra.DetectLayout()

	currentExecPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// Copy binary to its system location if not already there
	binaryPath := layout.BinaryPath
	if currentExecPath != binaryPath {
		if err := os.MkdirAll(filepath.Dir(binaryPath), 0755); err != nil {
			return fmt.Errorf("failed to create binary directory: %w", err)
		}
		if err := copyBinary(currentExecPath, binaryPath); err != nil {
			return fmt.Errorf("failed to copy binary to %s: %w", binaryPath, err)
		}
		fmt.Printf("Installed binary to %s\n", binaryPath)
	}

	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = layout.ConfigPath
		err := config.Default(layout.DataDir, layout.LogPath).Save(cfgPath)
		switch {
		case err == nil:
			fmt.Printf("Wrote default config to %s\n", cfgPath)
		case !errors.Is(err, os.ErrExist):
			return fmt.Errorf("failed to write default config: %w", err)
		}
	}
	if cfgPath, err = filepath.Abs(cfgPath); err != nil {
		return err
	}
	// Refuse to register a service that would fail on its first start.
	if _, err := config.Load(cfgPath, config.Default(layout.DataDir, layout.LogPath)); err != nil {
		return err
	}

	sm := infra.NewServiceManager()
	switch {
	case !sm.IsInstalled():
		if err := sm.Install(binaryPath, cfgPath); err != nil {
			return fmt.Errorf("failed to install service: %w", err)
		}
		fmt.Printf("Installed %s\n", sm.Describe())
	case sm.NeedsUpdate(binaryPath, cfgPath):
		if err := sm.Update(binaryPath, cfgPath); err != nil {
			return fmt.Errorf("failed to update service: %w", err)
		}
		fmt.Printf("Updated %s\n", sm.Describe())
	default:
		fmt.Printf("%s is already installed and up to date\n", sm.Describe())
	}

	fmt.Println("\n=== hdaguard Installed ===")
	fmt.Printf("Binary: %s\n", binaryPath)
	fmt.Printf("Config: %s\n", cfgPath)
	fmt.Println("The service starts at boot and restarts if it crashes.")
	fmt.Println("==========================")
	return nil
}

// copyBinary copies the executable to dst.
// Writes to temp file first, syncs, chmods, then renames to avoid corruption.
func copyBinary(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	// Create temp file in same directory for atomic rename
	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".hdaguard-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err = io.Copy(tmpFile, sourceFile); err != nil {
		tmpFile.Close()
		return err
	}
	if err = tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err = os.Chmod(tmpPath, 0755); err != nil {
		return err
	}
	if err = os.Rename(tmpPath, dst); err != nil {
		return err
	}

	success = true
	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	if err := requireElevated("uninstall"); err != nil {
		return err
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	sm := infra.NewServiceManager()
	if !sm.IsInstalled() {
		fmt.Println("hdaguard service is not installed")
	} else {
		if err := sm.Uninstall(); err != nil {
			return fmt.Errorf("failed to uninstall service: %w", err)
		}
		fmt.Printf("Removed %s\n", sm.Describe())
	}

	store, err := infra.OpenStateStore(cfg.DataDir, infra.NewProcessManager(), zap.NewNop())
	if err == nil {
		_ = store.ClearWatchdog()
		store.Close()
	}

	fmt.Println("Disabled outputs stay disabled until re-enabled in Device Manager or by rebinding the driver.")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, layout, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Println("\n=== hdaguard Status ===")

	sm := infra.NewServiceManager()
	if sm.IsInstalled() {
		fmt.Printf("Service: installed (%s)\n", sm.Describe())
		if sm.NeedsUpdate(layout.BinaryPath, serviceConfigPath(configPath, layout)) {
			fmt.Println("         registration is outdated, run 'hdaguard install' to update")
		}
	} else {
		fmt.Println("Service: not installed")
	}

	store, err := infra.OpenStateStore(cfg.DataDir, infra.NewProcessManager(), zap.NewNop())
	if err != nil {
		fmt.Printf("State: unavailable (%v)\n", err)
		fmt.Println("=======================")
		return nil
	}
	defer store.Close()

	rec, err := store.GetWatchdog()
	switch {
	case err != nil:
		fmt.Printf("Watchdog: unknown (%v)\n", err)
	case rec == nil:
		fmt.Println("Watchdog: NOT RUNNING (never started)")
	default:
		alive, aliveErr := store.IsWatchdogAlive()
		switch {
		case aliveErr != nil:
			fmt.Printf("Watchdog: unknown (last PID %d: %v)\n", rec.PID, aliveErr)
		case alive:
			fmt.Printf("Watchdog: RUNNING (PID %d, version %s)\n", rec.PID, rec.AppVersion)
		default:
			fmt.Printf("Watchdog: NOT RUNNING (last PID %d)\n", rec.PID)
		}
		fmt.Printf("Started: %s\n", rec.StartedAt.Format(time.RFC3339))
		fmt.Printf("Last heartbeat: %s ago\n", time.Since(rec.LastHeartbeat).Round(time.Second))
		fmt.Printf("Notifications: %s\n", rec.SubscriberState)
		if rec.SubscriberError != "" {
			fmt.Printf("  last registration error: %s\n", rec.SubscriberError)
		}
	}

	passes, err := store.RecentPasses(passHistory)
	if err != nil {
		fmt.Printf("\nPass history unavailable: %v\n", err)
	} else if len(passes) > 0 {
		fmt.Println("\nRecent passes:")
		for _, p := range passes {
			line := fmt.Sprintf("  %s  %-7s disabled=%d compliant=%d errored=%d (%dms)",
				p.StartedAt.Format("2006-01-02 15:04:05"), p.Trigger,
				p.Disabled, p.AlreadyCompliant, p.Errored, p.DurationMs)
			if p.Error != "" {
				line += "  aborted: " + p.Error
			}
			fmt.Println(line)
		}
	}
	fmt.Println("=======================")
	return nil
}

// serviceConfigPath is the absolute --config the installed service runs
// with: the flag when given, otherwise the layout default install writes.
func serviceConfigPath(flag string, layout *infra.Layout) string {
	path := flag
	if path == "" {
		path = layout.ConfigPath
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Log.Path == "" {
		return errors.New("no log file configured")
	}
	return logging.Tail(cfg.Log.Path, logLines, os.Stdout)
}

func runCheck(cmd *cobra.Command, args []string) error {
	if err := requireElevated("check"); err != nil {
		return err
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	pol, err := cfg.Policy()
	if err != nil {
		return err
	}

	logger := logging.NewOrFallback(logging.Options{Path: cfg.Log.Path, Level: cfg.Log.Level})
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("command", "check"))

	reconciler := usecase.NewReconciler(infra.NewPlatformInventory(logger), pol, logger)
	if store, err := infra.OpenStateStore(cfg.DataDir, infra.NewProcessManager(), logger); err == nil {
		defer store.Close()
		reconciler.AddObserver(store)
	}

	fmt.Println("\n=== Running Forced Pass ===")
	summary, err := reconciler.RunPass(context.Background(), domain.TriggerManual, true)
	if err != nil {
		return fmt.Errorf("pass aborted: %w", err)
	}

	if len(summary.Outcomes) == 0 {
		fmt.Printf("\nNo devices match %q.\n", pol.Pattern())
	}
	for _, o := range summary.Outcomes {
		line := fmt.Sprintf("  %-18s %s", o.Kind, o.DisplayName)
		if o.Message != "" {
			line += "  (" + o.Message + ")"
		}
		fmt.Println(line)
	}
	fmt.Printf("\nTotal: %d disabled, %d already compliant, %d errored\n",
		summary.Disabled, summary.AlreadyCompliant, summary.Errored)
	fmt.Println("===========================")

	if summary.Errored > 0 {
		return fmt.Errorf("%d device(s) could not be disabled", summary.Errored)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	pol, err := cfg.Policy()
	if err != nil {
		return err
	}

	devices, err := infra.NewPlatformInventory(zap.NewNop()).ListDevices(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("\n=== Devices (pattern %q) ===\n", pol.Pattern())
	shown := 0
	for _, d := range devices {
		matched := pol.Matches(d)
		if !matched && !listAll {
			continue
		}
		shown++
		mark := " "
		switch {
		case pol.RequiresAction(d, false):
			mark = "!"
		case matched:
			mark = "*"
		}
		fmt.Printf("%s %-9s %s\n    %s\n", mark, d.Status, d.DisplayName, d.ID)
	}
	if shown == 0 {
		fmt.Println("No matching devices.")
	}
	fmt.Println("\n* matched  ! matched and would be disabled by the next pass")
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("hdaguard %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
