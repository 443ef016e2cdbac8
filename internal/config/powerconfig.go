package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pabridge-dev/pabridge/internal/validate"
)

// Loading errors. Callers classify with errors.Is; the variants mirror the
// three ways a local config can be unusable.
var (
	// ErrMissing indicates the backing file does not exist.
	ErrMissing = errors.New("power config not found")
	// ErrMalformed indicates the file content could not be parsed.
	ErrMalformed = errors.New("power config is not valid JSON")
	// ErrInvalid indicates the parsed config failed validation.
	ErrInvalid = errors.New("power config is invalid")
)

// PowerConfig is the project configuration record shared between local
// tooling and the hosted player. A loaded record is always fully valid;
// loading fails outright rather than returning a partial record.
type PowerConfig struct {
	EnvironmentID   string `json:"environmentId"`
	AppID           string `json:"appId,omitempty"`
	AppDisplayName  string `json:"appDisplayName,omitempty"`
	Description     string `json:"description,omitempty"`
	BuildPath       string `json:"buildPath,omitempty"`
	BuildEntryPoint string `json:"buildEntryPoint,omitempty"`
	LogoPath        string `json:"logoPath,omitempty"`
	LocalAppURL     string `json:"localAppUrl,omitempty"`

	// Connection and database references are written by platform tooling
	// and consumed by the player; the bridge passes them through untouched.
	ConnectionReferences json.RawMessage `json:"connectionReferences,omitempty"`
	DatabaseReferences   json.RawMessage `json:"databaseReferences,omitempty"`
}

// Load reads and validates the config file at path. Paths ending in .js are
// evaluated as a script exporting the config object; everything else is
// parsed as JSON.
func Load(path string) (*PowerConfig, error) {
	if strings.EqualFold(filepath.Ext(path), ".js") {
		return loadScript(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: %s: %w (run `pabridge init` to create one)", path, ErrMissing)
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	return Parse(path, data)
}

// Parse validates raw JSON bytes as a PowerConfig. The path is used only for
// error messages.
func Parse(path string, data []byte) (*PowerConfig, error) {
	var cfg PowerConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, fmt.Errorf("config: %s: %w: field %q has the wrong type", path, ErrInvalid, typeErr.Field)
		}
		return nil, fmt.Errorf("config: %s: %w: %v", path, ErrMalformed, err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	return &cfg, nil
}

func validateConfig(cfg *PowerConfig) error {
	if strings.TrimSpace(cfg.EnvironmentID) == "" {
		return fmt.Errorf("%w: environmentId must be a non-empty string", ErrInvalid)
	}
	if cfg.LocalAppURL != "" {
		if err := validate.HTTPURL(cfg.LocalAppURL); err != nil {
			return fmt.Errorf("%w: localAppUrl: %v", ErrInvalid, err)
		}
	}
	return nil
}
