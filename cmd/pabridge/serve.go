package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pabridge-dev/pabridge/internal/bridge"
	"github.com/pabridge-dev/pabridge/internal/config"
	"github.com/pabridge-dev/pabridge/internal/devserver"
	"github.com/pabridge-dev/pabridge/internal/eventbus"
	"github.com/pabridge-dev/pabridge/internal/procutil"
	"github.com/pabridge-dev/pabridge/internal/runtime"
	"github.com/pabridge-dev/pabridge/internal/server"
	"github.com/pabridge-dev/pabridge/internal/state"
	"github.com/pabridge-dev/pabridge/internal/validate"
	pabridgeversion "github.com/pabridge-dev/pabridge/internal/version"
)

// historyKeep bounds the launch-history table; older rows are pruned on
// startup.
const historyKeep = 100

// writerSink adapts an io.Writer to the PTY output sink interface so dev
// server output lands in the bridge's own log stream.
type writerSink struct {
	w io.Writer
}

func (s writerSink) Write(data []byte) error {
	_, err := s.w.Write(data)
	return err
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "serve",
		Short:         "Run the bridge in the foreground",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	cmd.Flags().String("project", ".", "Project directory containing the power config")
	cmd.Flags().String("config", "", "Path to the power config file (default <project>/power.config.json)")
	cmd.Flags().String("listen", "127.0.0.1:5173", "Address to listen on")
	cmd.Flags().String("upstream", "", "Base URL of the dev server to proxy unmatched requests to")
	cmd.Flags().String("dev-command", "", "Command to run as the managed dev server (via the shell)")
	cmd.Flags().String("tls-cert", "", "TLS certificate file (enables HTTPS together with --tls-key)")
	cmd.Flags().String("tls-key", "", "TLS key file")
	cmd.Flags().String("player-origin", "", "Override the hosted player origin")
	cmd.Flags().StringArray("allow-origin", nil, "Additional origin granted CORS access (repeatable)")
	cmd.Flags().String("log-file", "", "Log file path (default ~/.pabridge/logs/pabridge.log)")
	cmd.Flags().Bool("no-history", false, "Do not record launches in the local history database")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	projectFlag, _ := cmd.Flags().GetString("project")
	configFlag, _ := cmd.Flags().GetString("config")
	listen, _ := cmd.Flags().GetString("listen")
	upstream, _ := cmd.Flags().GetString("upstream")
	devCommand, _ := cmd.Flags().GetString("dev-command")
	tlsCert, _ := cmd.Flags().GetString("tls-cert")
	tlsKey, _ := cmd.Flags().GetString("tls-key")
	playerOrigin, _ := cmd.Flags().GetString("player-origin")
	allowOrigins, _ := cmd.Flags().GetStringArray("allow-origin")
	logFile, _ := cmd.Flags().GetString("log-file")
	noHistory, _ := cmd.Flags().GetBool("no-history")

	projectDir, err := filepath.Abs(config.ExpandPath(projectFlag))
	if err != nil {
		return fmt.Errorf("resolve project directory: %w", err)
	}

	configPath, err := config.ResolveConfigPath(projectDir, configFlag)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	if upstream != "" {
		if err := validate.HTTPURL(upstream); err != nil {
			return fmt.Errorf("invalid --upstream: %w", err)
		}
		if err := validate.LoopbackURL(upstream); err != nil {
			return fmt.Errorf("invalid --upstream: %w", err)
		}
	}

	paths, err := config.EnsureBridgeDirs()
	if err != nil {
		return fmt.Errorf("prepare bridge directories: %w", err)
	}

	logWriter, err := setupLogging(logFile, paths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logging: %v\n", err)
		logWriter = os.Stdout
	}

	if pid, err := runtime.ReadPIDFile(paths.PID); err == nil && procutil.IsProcessAlive(pid) {
		return fmt.Errorf("bridge already running (pid %d)", pid)
	}
	if err := runtime.WritePIDFile(paths.PID, os.Getpid()); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer runtime.RemovePIDFile(paths.PID)

	bus := eventbus.New()
	defer bus.Shutdown()

	var store *state.Store
	if !noHistory {
		store, err = state.Open(state.Options{DBPath: paths.StateDB})
		if err != nil {
			log.Printf("launch history disabled: %v", err)
			store = nil
		} else {
			defer store.Close()
			pruneHistory(store)
		}
	}

	var runner *devserver.Runner
	if devCommand != "" {
		runner = devserver.NewRunner(devserver.Config{
			Command: "/bin/sh",
			Args:    []string{"-c", devCommand},
			Dir:     projectDir,
		}, bus)
		runner.AddSink(writerSink{w: logWriter})
	}

	buildPath := resolveBuildPath(upstream, configPath, projectDir)

	srvOpts := server.Options{
		Addr:        listen,
		TLSCertPath: tlsCert,
		TLSKeyPath:  tlsKey,
		Upstream:    upstream,
		BuildPath:   buildPath,
		Version:     pabridgeversion.String(),
		Bus:         bus,
	}
	if runner != nil {
		srvOpts.DevServer = runner
	}

	srv, err := server.New(srvOpts)
	if err != nil {
		return err
	}

	bridgeOpts := bridge.Options{
		ConfigPath:   configPath,
		ProjectDir:   projectDir,
		PlayerOrigin: playerOrigin,
		ExtraOrigins: allowOrigins,
		Bus:          bus,
	}
	if store != nil {
		bridgeOpts.History = store
	}

	b, err := bridge.New(srv, bridgeOpts)
	if err != nil {
		return err
	}
	srv.SetBridge(b)
	b.Attach()

	lifecycle := runtime.NewLifecycle()
	srv.SetShutdownFunc(func(ctx context.Context) error {
		lifecycle.Shutdown()
		return nil
	})

	host := runtime.NewServiceHost()
	if runner != nil {
		if err := host.Register("devserver", func(ctx context.Context) (runtime.Service, error) {
			return runner, nil
		}, runtime.WithShutdownTimeout(15*time.Second)); err != nil {
			return err
		}
	}
	if err := host.Register("server", func(ctx context.Context) (runtime.Service, error) {
		return srv, nil
	}); err != nil {
		return err
	}

	if err := host.Start(context.Background()); err != nil {
		return err
	}

	log.Printf("pabridge started (pid %d)", os.Getpid())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		log.Printf("received signal %s, shutting down", sig)
	case <-lifecycle.Done():
		log.Printf("shutdown requested, shutting down")
	case err := <-host.Errors():
		log.Printf("service error: %v", err)
		runErr = err
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := host.Stop(stopCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}

	finishLaunch(store, b.SessionID())

	log.Printf("pabridge stopped")
	return runErr
}

// setupLogging tees the standard logger to stdout and the bridge log file.
func setupLogging(logFile string, paths config.BridgePaths) (io.Writer, error) {
	if logFile == "" {
		logFile = paths.LogFile
	}
	logFile = config.ExpandPath(logFile)

	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	multi := io.MultiWriter(os.Stdout, f)
	log.SetOutput(multi)
	log.SetFlags(log.LstdFlags)

	log.Printf("=== pabridge starting (pid %d) ===", os.Getpid())
	log.Printf("log file: %s", logFile)
	return multi, nil
}

// resolveBuildPath finds built app output to serve when no upstream dev
// server is configured. Best-effort: a missing or broken config simply
// means nothing is mounted on the catch-all route.
func resolveBuildPath(upstream, configPath, projectDir string) string {
	if upstream != "" {
		return ""
	}

	cfg, err := config.Load(configPath)
	if err != nil || cfg.BuildPath == "" {
		return ""
	}

	buildPath := config.ExpandPath(cfg.BuildPath)
	if !filepath.IsAbs(buildPath) {
		buildPath = filepath.Join(projectDir, buildPath)
	}

	info, err := os.Stat(buildPath)
	if err != nil || !info.IsDir() {
		return ""
	}
	return buildPath
}

func pruneHistory(store *state.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if deleted, err := store.PruneLaunches(ctx, historyKeep); err != nil {
		log.Printf("prune launch history: %v", err)
	} else if deleted > 0 {
		log.Printf("pruned %d old launch records", deleted)
	}
}

// finishLaunch stamps the end time on this run's history row. The row only
// exists if a player URL was resolved at least once.
func finishLaunch(store *state.Store, sessionID string) {
	if store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := store.FinishLaunch(ctx, sessionID, time.Now().UTC()); err != nil && !state.IsNotFound(err) {
		log.Printf("finish launch record: %v", err)
	}
}
