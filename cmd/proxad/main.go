// Package main is the CLI entry point for proxad — an intercepting
// TCP/TLS/HTTP reverse proxy built for attack-defense CTF traffic
// inspection.
//
// proxad sits between a CTF team's service and the network and relays
// every byte through a hot-reloadable filter module chain. It keeps a
// hash-chained audit log, which the running proxy writes at start/stop
// and on dashboard kill requests (the flow engines write no entries), and
// serves a dashboard whose kill switch records a kill without closing the
// flow.
//
// Architecture overview:
//
//	Attacker/client --> proxad listener(s) --> upstream service
//	                      |                        |
//	                      +-- relay chunk/request --+
//	                      |-- dispatch to filter module
//	                      |-- passthrough/replace/kill decision
//	                      +-- forward (possibly rewritten) to the other side
//
// CLI commands (cobra):
//
//	proxad                    - Interactive first-run setup
//	proxad run                - Run the proxy (foreground or daemon)
//	proxad stop               - Stop the proxy
//	proxad status             - Show proxy status + flow counts
//	proxad filters list       - List filter module files on disk
//	proxad filters test       - Load a module and run one chunk through it
//	proxad audit              - Query/verify the audit log
//	proxad config             - View/initialize proxy configuration
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/simoneerrigo/proxad/internal/audit"
	"github.com/simoneerrigo/proxad/internal/config"
	"github.com/simoneerrigo/proxad/internal/dashboard"
	"github.com/simoneerrigo/proxad/internal/filterhost"
	"github.com/simoneerrigo/proxad/internal/flow"
	"github.com/simoneerrigo/proxad/internal/listener"
	"github.com/simoneerrigo/proxad/internal/registry"
)

// Build-time variables injected via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123 -X main.buildDate=2026-02-10"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// defaultConfigDir returns the path to ~/.proxad/ where all runtime state
// lives: config.yaml, the audit/ directory, and the PID/log files.
func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".proxad"
	}
	return filepath.Join(home, ".proxad")
}

// main is the entry point. It builds the cobra command tree and executes it.
// All commands share a common config directory (--config-dir flag on root).
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ============================================================================
// Root command
// ============================================================================

// configDir is the global flag for the proxad config/state directory.
var configDir string

var rootCmd = &cobra.Command{
	Use:   "proxad",
	Short: "proxad — intercepting reverse proxy for CTF traffic inspection",
	Long: `proxad relays raw TCP/TLS or HTTP traffic between clients and an
upstream service through a hot-reloadable filter module chain, with a
hash-chained audit log of proxy start/stop and dashboard kill requests.

Run 'proxad run' to start the proxy, or run 'proxad' with no arguments
for interactive first-run setup.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFirstTimeSetup(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&configDir,
		"config-dir",
		defaultConfigDir(),
		"Path to proxad config and state directory",
	)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(filtersCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(configCmd)
}

// ============================================================================
// proxad run — Run the proxy
// ============================================================================

var daemonMode bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the proxad proxy",
	Long: `Run the proxad proxy. Binds every listener declared in config.yaml,
relaying traffic through the configured filter chain. When audit is
enabled, proxy start and stop are recorded in the audit log.

By default runs in the foreground. Use -d for daemon/background mode.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRun(cmd, args)
	},
}

func init() {
	runCmd.Flags().BoolVarP(&daemonMode, "daemon", "d", false, "Run proxy in daemon/background mode")
}

// runRun initializes every subsystem and blocks until shutdown.
//
//  1. Handle daemon mode (re-exec as background process if -d)
//  2. Load config from <config-dir>/config.yaml
//  3. Initialize the filter host (loads the configured module + hot-watch)
//  4. Initialize the audit log (hash-chained JSONL + SQLite index)
//  5. Initialize the flow registry + manual kill switch
//  6. Resolve listener specs (TLS config, dial targets) and bind them
//  7. Mount the dashboard on its own listener (if enabled in config)
//  8. Write PID file for process management
//  9. Start a config file watcher that reports config.yaml changes (applied on restart)
//  10. Block until SIGINT/SIGTERM or the dashboard's /shutdown endpoint
func runRun(cmd *cobra.Command, args []string) error {
	if daemonMode && os.Getenv("PROXAD_DAEMONIZED") != "1" {
		return spawnDaemon()
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// --- Filter host ---
	// Each configured path is resolved to one or more compiled modules
	// (a direct .so file, or a directory expanded to its *.so entries in
	// lexical order) and loaded as an ordered chain: spec.md §4.1's Chain
	// runner applies every loaded module to each chunk/pair in this
	// declared order.
	host, err := filterhost.NewHost(filterPathsFor(cfg))
	if err != nil {
		return fmt.Errorf("failed to initialize filter host: %w", err)
	}
	defer host.Close()
	if mods := host.Status(); len(mods) > 0 {
		names := make([]string, len(mods))
		for i, m := range mods {
			names[i] = m.Name
		}
		fmt.Printf("[proxad] Loaded filter chain (%d): %s\n", len(mods), strings.Join(names, " -> "))
	} else {
		fmt.Println("[proxad] No filter module loaded — traffic relays unmodified")
	}

	// --- Audit log ---
	var auditLog *audit.AuditLog
	if cfg.Audit.Enabled {
		auditDir := cfg.Audit.Dir
		if !filepath.IsAbs(auditDir) {
			auditDir = filepath.Join(configDir, auditDir)
		}
		auditLog, err = audit.New(auditDir)
		if err != nil {
			return fmt.Errorf("failed to initialize audit log: %w", err)
		}
		defer auditLog.Close()
		auditLog.LogReload("proxad", true, fmt.Sprintf("proxy started, version=%s commit=%s", version, commit))
	}

	// --- Flow registry + manual kill switch ---
	reg := registry.NewRegistry()
	killSwitch := registry.NewKillSwitch()

	// --- Resolve and bind listeners ---
	specs, err := config.ResolveListeners(cfg)
	if err != nil {
		return fmt.Errorf("failed to resolve listeners: %w", err)
	}
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}

	mgr := listener.NewManager(host)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := mgr.Bind(ctx, specs); err != nil {
		return fmt.Errorf("failed to bind listeners: %w", err)
	}

	// --- Dashboard (its own listener, separate from intercepted traffic) ---
	var dashServer *http.Server
	shutdownCh := make(chan struct{}, 1)
	if cfg.Dashboard.Enabled {
		dash := dashboard.New(dashboard.Options{
			AuditLog:      auditLog,
			Registry:      reg,
			KillSwitch:    killSwitch,
			Host:          host,
			ListenerNames: names,
		})

		mux := http.NewServeMux()
		mux.Handle("/dashboard", dash)
		mux.Handle("/dashboard/", dash)
		mux.Handle("/dashboard/ws", dash.WebSocketHandler())
		mux.Handle("/api/", dash.APIHandler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok","version":"%s"}`, version)
		})
		mux.HandleFunc("/shutdown", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "POST only", http.StatusMethodNotAllowed)
				return
			}
			if !isLoopback(r.RemoteAddr) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `{"status":"shutting_down"}`)
			select {
			case shutdownCh <- struct{}{}:
			default:
			}
		})

		dashServer = &http.Server{
			Addr:              cfg.Dashboard.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	pidFile := filepath.Join(configDir, "proxad.pid")
	if err := writePIDFile(pidFile); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer removePIDFile(pidFile)

	watcher, err := config.NewWatcher(configDir, config.WatchTargets{
		OnConfigChange: func() {
			fmt.Println("[proxad] config.yaml changed on disk — restart the proxy to apply listener/TLS changes")
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start config watcher: %w", err)
	}
	defer watcher.Close()

	errCh := make(chan error, 1)
	if dashServer != nil {
		go func() {
			fmt.Printf("[proxad] Dashboard at http://%s/dashboard\n", dashServer.Addr)
			errCh <- dashServer.ListenAndServe()
		}()
	}
	for _, s := range specs {
		fmt.Printf("[proxad] Listener %q bound on %s (%s)\n", s.Name, s.Addr, modeLabel(s.Mode))
	}
	if !daemonMode {
		fmt.Println("[proxad] Press Ctrl+C to stop")
	}

	select {
	case <-ctx.Done():
		fmt.Println("\n[proxad] Shutting down (signal received)...")
	case <-shutdownCh:
		fmt.Println("[proxad] Shutting down (stop command received)...")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("dashboard server error: %w", err)
		}
	}

	mgr.Shutdown(10 * time.Second)

	if dashServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := dashServer.Shutdown(shutdownCtx); shutdownErr != nil {
			fmt.Fprintf(os.Stderr, "[proxad] Dashboard shutdown error: %v\n", shutdownErr)
		}
	}

	if auditLog != nil {
		auditLog.LogReload("proxad", true, "proxy stopped")
	}

	fmt.Println("[proxad] Stopped")
	return nil
}

func modeLabel(m listener.Mode) string {
	if m == listener.ModeHTTP {
		return "http"
	}
	return "raw"
}

// spawnDaemon re-executes the proxad binary as a detached background
// process. The parent process prints the child PID and exits immediately.
func spawnDaemon() error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to find executable path: %w", err)
	}

	logPath := filepath.Join(configDir, "proxad.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	daemonArgs := []string{"run"}
	if configDir != defaultConfigDir() {
		daemonArgs = append(daemonArgs, "--config-dir", configDir)
	}

	child := exec.Command(exePath, daemonArgs...)
	child.Stdout = logFile
	child.Stderr = logFile
	child.Env = append(os.Environ(), "PROXAD_DAEMONIZED=1")

	if err := child.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Printf("[proxad] Proxy started in background (PID %d)\n", child.Process.Pid)
	fmt.Printf("[proxad] Log file: %s\n", logPath)
	fmt.Println("[proxad] Use 'proxad stop' to stop the proxy")

	if err := child.Process.Release(); err != nil {
		fmt.Fprintf(os.Stderr, "[proxad] Warning: failed to release child process: %v\n", err)
	}

	logFile.Close()
	return nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func removePIDFile(path string) {
	os.Remove(path)
}

// isLoopback checks if a remote address is a loopback address (127.x.x.x or ::1).
func isLoopback(remoteAddr string) bool {
	host := remoteAddr
	if idx := strings.LastIndex(remoteAddr, ":"); idx != -1 {
		host = remoteAddr[:idx]
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	return host == "127.0.0.1" || host == "::1" || strings.HasPrefix(host, "127.")
}

// ============================================================================
// proxad stop — Stop the proxy
// ============================================================================

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running proxad proxy",
	Long: `Stop a running proxad proxy. Tries HTTP shutdown via the dashboard
first (cross-platform), then falls back to PID file + SIGTERM on Unix.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(cmd, args)
	},
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	addr := "http://" + cfg.Dashboard.Addr
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(addr+"/shutdown", "application/json", nil)
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			fmt.Println("[proxad] Stop signal sent to proxy")
			os.Remove(filepath.Join(configDir, "proxad.pid"))
			return nil
		}
	}

	if runtime.GOOS == "windows" {
		return fmt.Errorf("proxy is not responding at %s — cannot stop", addr)
	}

	pidFile := filepath.Join(configDir, "proxad.pid")
	pidBytes, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("proxy is not running (no PID file and HTTP unreachable)")
		}
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidBytes)))
	if err != nil {
		return fmt.Errorf("invalid PID in %s: %w", pidFile, err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		os.Remove(pidFile)
		return fmt.Errorf("failed to stop proxy (PID %d): %w", pid, err)
	}

	os.Remove(pidFile)
	fmt.Printf("[proxad] Sent stop signal to proxy (PID %d)\n", pid)
	return nil
}

// ============================================================================
// proxad status — Show proxy status
// ============================================================================

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show proxy status and flow counts",
	Long: `Display whether proxad is running, its dashboard address, and a
summary of tracked flows. Queries the live proxy process for accurate
real-time data.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd, args)
	},
}

// statusJSON is the subset of GET /api/status we decode for display.
type statusJSON struct {
	Status    string   `json:"status"`
	Listeners []string `json:"listeners"`
	Flows     int      `json:"flows"`
	Killed    int      `json:"killed"`
	Filters   []struct {
		Name string `json:"name"`
	} `json:"filters"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	addr := "http://" + cfg.Dashboard.Addr
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(addr + "/health")
	if err != nil {
		fmt.Println("[proxad] Status: NOT RUNNING")
		fmt.Printf("[proxad] Expected dashboard at: %s\n", addr)
		return nil
	}
	resp.Body.Close()

	fmt.Println("[proxad] Status: RUNNING")
	fmt.Printf("[proxad] Dashboard at: %s\n", addr)

	statusResp, err := client.Get(addr + "/api/status")
	if err != nil {
		fmt.Println("[proxad] Could not query status data (dashboard API may be disabled)")
		return nil
	}
	defer statusResp.Body.Close()

	body, err := io.ReadAll(statusResp.Body)
	if err != nil {
		fmt.Println("[proxad] Could not read status data")
		return nil
	}

	var st statusJSON
	if err := json.Unmarshal(body, &st); err != nil {
		fmt.Println("[proxad] Could not parse status data")
		return nil
	}

	fmt.Printf("[proxad] Listeners: %s\n", strings.Join(st.Listeners, ", "))
	fmt.Printf("[proxad] Flows tracked: %d (killed: %d)\n", st.Flows, st.Killed)
	if len(st.Filters) > 0 {
		names := make([]string, len(st.Filters))
		for i, f := range st.Filters {
			names[i] = f.Name
		}
		fmt.Printf("[proxad] Filter chain: %s\n", strings.Join(names, " -> "))
	} else {
		fmt.Println("[proxad] Filter chain: none loaded")
	}
	return nil
}

// ============================================================================
// proxad filters — Inspect and test filter modules
// ============================================================================

var filtersCmd = &cobra.Command{
	Use:   "filters",
	Short: "List and test filter modules",
	Long: `Filter modules are -buildmode=plugin shared objects, hot-reloaded by
the running proxy. 'filters list' shows what's on disk; 'filters test'
loads a module and runs one chunk through its ClientRawFilter hook
without a live proxy, for quick iteration.`,
}

func init() {
	filtersCmd.AddCommand(filtersListCmd)
	filtersCmd.AddCommand(filtersTestCmd)
}

var filtersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List filter module files in the configured directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if len(cfg.Filters.Paths) == 0 {
			fmt.Println("No filter paths configured.")
			return nil
		}

		found := 0
		for _, dir := range filterPathsFor(cfg) {
			entries, err := os.ReadDir(dir)
			if err != nil {
				fmt.Printf("%s: %v\n", dir, err)
				continue
			}
			for _, e := range entries {
				if e.IsDir() || filepath.Ext(e.Name()) != ".so" {
					continue
				}
				info, err := e.Info()
				size := int64(0)
				if err == nil {
					size = info.Size()
				}
				fmt.Printf("%-40s %10d bytes\n", filepath.Join(dir, e.Name()), size)
				found++
			}
		}
		if found == 0 {
			fmt.Println("No compiled (.so) filter modules found.")
		}
		return nil
	},
}

var filtersTestChunk string

var filtersTestCmd = &cobra.Command{
	Use:   "test <module.so>",
	Short: "Run one chunk through a module's ClientRawFilter hook",
	Long: `Load a compiled filter module and pass a single chunk through its
ClientRawFilter hook, printing the resulting verdict (and replacement
data, if any). Useful for testing a filter without a live upstream.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := filterhost.LoadModule(args[0])
		if err != nil {
			return fmt.Errorf("failed to load module: %w", err)
		}
		if m.ClientRaw == nil {
			fmt.Println("[proxad] Module does not implement ClientRawFilter — nothing to test")
			return nil
		}

		f := flow.New(flow.Endpoint{Network: "tcp"}, flow.Endpoint{Network: "tcp"})
		out := m.ClientRaw(flow.NewAttrs(), f, []byte(filtersTestChunk))

		fmt.Printf("[proxad] Verdict: %s\n", out.Verdict)
		if out.Verdict == filterhost.Replace {
			fmt.Printf("[proxad] Replacement data: %q\n", out.Data)
		}
		return nil
	},
}

func init() {
	filtersTestCmd.Flags().StringVar(&filtersTestChunk, "chunk", "PING\n", "Chunk of bytes to run through ClientRawFilter")
}

// ============================================================================
// proxad audit — Query and verify the audit log
// ============================================================================

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query and verify the audit log",
	Long: `The audit log holds entries of kind open/close/kill/error/reload.
The running proxy writes a reload entry at start and stop and a kill
entry for each dashboard kill request; the flow engines write none.
Entries are hash-chained: each entry's hash depends on the previous
entry, making tampering detectable.`,
}

var auditFollowMode bool
var auditTailLimit int

func init() {
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditQueryCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditExportCmd)
}

// filterPathsFor resolves each relative filters.paths entry against the
// config directory, the same way auditDirFor resolves audit.dir.
func filterPathsFor(cfg *config.Config) []string {
	paths := make([]string, len(cfg.Filters.Paths))
	for i, p := range cfg.Filters.Paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(configDir, p)
		}
		paths[i] = p
	}
	return paths
}

func auditDirFor(cfg *config.Config) string {
	dir := cfg.Audit.Dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(configDir, dir)
	}
	return dir
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent audit entries",
	Long:  `Show the most recent audit log entries. Use -f to follow in real-time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		auditLog, err := audit.New(auditDirFor(cfg))
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer auditLog.Close()

		entries, err := auditLog.Tail(auditTailLimit)
		if err != nil {
			return fmt.Errorf("failed to read audit log: %w", err)
		}
		for _, entry := range entries {
			printAuditEntry(entry)
		}

		if auditFollowMode {
			return auditLog.Follow(context.Background(), printAuditEntry)
		}
		return nil
	},
}

func init() {
	auditTailCmd.Flags().BoolVarP(&auditFollowMode, "follow", "f", false, "Follow new entries in real-time")
	auditTailCmd.Flags().IntVarP(&auditTailLimit, "limit", "n", 20, "Number of recent entries to show")
}

var (
	auditQueryFlowID string
	auditQueryKind   string
	auditQuerySince  string
	auditQueryLimit  int
)

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query audit entries with filters",
	Long: `Query the audit log with filters. Supports filtering by flow ID,
event kind (open/close/kill/error/reload), and a since timestamp.

Examples:
  proxad audit query --flow 6f3a... --kind kill
  proxad audit query --kind error --limit 100`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		auditLog, err := audit.New(auditDirFor(cfg))
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer auditLog.Close()

		entries, err := auditLog.Query(audit.QueryParams{
			FlowID: auditQueryFlowID,
			Kind:   auditQueryKind,
			Since:  auditQuerySince,
			Limit:  auditQueryLimit,
		})
		if err != nil {
			return fmt.Errorf("audit query failed: %w", err)
		}

		if len(entries) == 0 {
			fmt.Println("No matching audit entries found.")
			return nil
		}
		for _, entry := range entries {
			printAuditEntry(entry)
		}
		fmt.Printf("\n%d entries found.\n", len(entries))
		return nil
	},
}

func init() {
	auditQueryCmd.Flags().StringVar(&auditQueryFlowID, "flow", "", "Filter by flow ID")
	auditQueryCmd.Flags().StringVar(&auditQueryKind, "kind", "", "Filter by event kind (open/close/kill/error/reload)")
	auditQueryCmd.Flags().StringVar(&auditQuerySince, "since", "", "Show entries with timestamp >= this ISO value")
	auditQueryCmd.Flags().IntVar(&auditQueryLimit, "limit", 50, "Maximum number of entries to return")
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify hash chain integrity",
	Long: `Verify the integrity of the audit log hash chain. Each entry's hash
is computed as SHA-256(prev_hash | seq | timestamp | flow_id | kind | detail).
If any entry has been tampered with, the chain breaks and this command
reports where the inconsistency was detected.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		auditLog, err := audit.New(auditDirFor(cfg))
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer auditLog.Close()

		result, err := auditLog.VerifyChain()
		if err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}

		if result.Valid {
			fmt.Printf("[proxad] Hash chain VALID (%d entries verified)\n", result.EntriesChecked)
		} else {
			fmt.Printf("[proxad] Hash chain BROKEN at entry #%d\n", result.BrokenAt)
			fmt.Printf("  Expected hash: %s\n", result.ExpectedHash)
			fmt.Printf("  Actual hash:   %s\n", result.ActualHash)
			return fmt.Errorf("audit chain integrity violation detected")
		}
		return nil
	},
}

var auditExportFormat string

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit log",
	Long: `Export the full audit log to stdout in the specified format.
Supported formats: csv, json, jsonl.

Example:
  proxad audit export --format csv > audit_export.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		auditLog, err := audit.New(auditDirFor(cfg))
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer auditLog.Close()

		return auditLog.Export(os.Stdout, auditExportFormat)
	},
}

func init() {
	auditExportCmd.Flags().StringVar(&auditExportFormat, "format", "jsonl", "Export format: csv, json, jsonl")
}

// printAuditEntry formats and prints a single audit entry to stdout.
func printAuditEntry(e audit.Entry) {
	detail, _ := json.Marshal(e.Detail)
	fmt.Printf("[%s] flow=%-36s kind=%-7s detail=%s\n",
		e.Timestamp, e.FlowID, e.Kind, detail)
}

// ============================================================================
// proxad config — Configuration management
// ============================================================================

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View and initialize proxy configuration",
	Long: `Manage the proxad configuration. The config file lives at
<config-dir>/config.yaml and defines front-facing listeners, upstream
dial targets, TLS settings, filter module paths, and dashboard/audit
toggles.`,
}

func init() {
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configEditCmd)
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := filepath.Join(configDir, "config.yaml")
		data, err := os.ReadFile(configPath)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Printf("No config file found at %s\n", configPath)
				fmt.Println("Run 'proxad config init' to write a default config.")
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
		fmt.Println(string(data))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config.yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(configDir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		configPath := filepath.Join(configDir, "config.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config already exists at %s", configPath)
		}
		if err := config.WriteDefault(configPath); err != nil {
			return fmt.Errorf("failed to write default config: %w", err)
		}
		fmt.Printf("[proxad] Wrote default config to %s\n", configPath)
		return nil
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config in editor",
	Long:  `Open the proxad config file in your default editor ($EDITOR or $VISUAL).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := filepath.Join(configDir, "config.yaml")

		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = os.Getenv("VISUAL")
		}
		if editor == "" {
			if runtime.GOOS == "windows" {
				editor = "notepad"
			} else {
				editor = "vi"
			}
		}

		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			if err := config.WriteDefault(configPath); err != nil {
				return fmt.Errorf("failed to create default config: %w", err)
			}
		}

		fmt.Printf("[proxad] Opening %s in %s...\n", configPath, editor)
		editorCmd := exec.Command(editor, configPath)
		editorCmd.Stdin = os.Stdin
		editorCmd.Stdout = os.Stdout
		editorCmd.Stderr = os.Stderr
		return editorCmd.Run()
	},
}

// ============================================================================
// First-run interactive setup
// ============================================================================

// runFirstTimeSetup runs when 'proxad' is invoked with no subcommand.
func runFirstTimeSetup(cmd *cobra.Command, args []string) error {
	fmt.Println("=== proxad — First-Time Setup ===")
	fmt.Println()

	configPath := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", configPath)
		fmt.Println("Use 'proxad run' to start the proxy.")
		fmt.Println("Use 'proxad config edit' to modify the configuration.")
		return nil
	}

	fmt.Printf("Creating config directory: %s\n", configDir)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	fmt.Println("Writing default config.yaml...")
	if err := config.WriteDefault(configPath); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}

	filtersDir := filepath.Join(configDir, "filters")
	fmt.Printf("Creating filter module directory: %s\n", filtersDir)
	if err := os.MkdirAll(filtersDir, 0o755); err != nil {
		return fmt.Errorf("failed to create filters directory: %w", err)
	}

	auditDir := filepath.Join(configDir, "audit")
	if err := os.MkdirAll(auditDir, 0o755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}

	fmt.Println()
	fmt.Println("Setup complete! Next steps:")
	fmt.Println()
	fmt.Println("  1. Build a filter module and drop the .so into:")
	fmt.Printf("     %s\n", filtersDir)
	fmt.Println()
	fmt.Println("  2. Start the proxy:")
	fmt.Println("     proxad run")
	fmt.Println()
	fmt.Println("  3. View the dashboard:")
	fmt.Println("     http://127.0.0.1:8081/dashboard")
	fmt.Println()
	return nil
}
