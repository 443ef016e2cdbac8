package config

import (
	"os"
	"path/filepath"
)

// DefaultFileName is the config file the bridge looks for in a project
// directory when no explicit path is given.
const DefaultFileName = "power.config.json"

// BridgePaths contains the per-user paths the bridge writes to.
type BridgePaths struct {
	Home    string // Bridge home directory (~/.pabridge)
	StateDB string // Launch history database path
	PID     string // PID file for the running bridge
	Logs    string // Logs directory
	LogFile string // Default bridge log file
}

// GetBridgePaths returns the per-user bridge paths under ~/.pabridge.
func GetBridgePaths() BridgePaths {
	home := GetBridgeHome()

	return BridgePaths{
		Home:    home,
		StateDB: filepath.Join(home, "state.db"),
		PID:     filepath.Join(home, "pabridge.pid"),
		Logs:    filepath.Join(home, "logs"),
		LogFile: filepath.Join(home, "logs", "pabridge.log"),
	}
}

// GetBridgeHome returns the bridge home directory (~/.pabridge).
func GetBridgeHome() string {
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, ".pabridge")
}

// ExpandPath resolves a leading ~ against the user home directory.
func ExpandPath(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) == 1 {
			return home
		}
		if path[1] == '/' || path[1] == os.PathSeparator {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// EnsureBridgeDirs creates the bridge directory structure if it does not exist.
func EnsureBridgeDirs() (BridgePaths, error) {
	paths := GetBridgePaths()

	dirs := []string{
		paths.Home,
		paths.Logs,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return paths, err
		}
	}

	return paths, nil
}

// ResolveConfigPath turns a --config flag value into an absolute path.
// An empty value resolves to power.config.json in the project directory;
// a relative value is resolved against the project directory.
func ResolveConfigPath(projectDir, flagValue string) (string, error) {
	if projectDir == "" {
		projectDir = "."
	}
	path := ExpandPath(flagValue)
	if path == "" {
		path = DefaultFileName
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(projectDir, path)
	}
	return filepath.Abs(path)
}
