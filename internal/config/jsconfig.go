package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dop251/goja"
)

// loadScript evaluates a power.config.js file and validates whatever it
// assigns to module.exports. Both `module.exports = {...}` and
// `exports.environmentId = ...` styles work. The exported object goes
// through the same validation as the JSON form, so the error taxonomy is
// identical for both.
func loadScript(path string) (*PowerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: %s: %w (run `pabridge init` to create one)", path, ErrMissing)
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	vm := goja.New()
	module := vm.NewObject()
	exports := vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, fmt.Errorf("config: %s: prepare script scope: %w", path, err)
	}
	if err := vm.Set("module", module); err != nil {
		return nil, fmt.Errorf("config: %s: prepare script scope: %w", path, err)
	}
	if err := vm.Set("exports", exports); err != nil {
		return nil, fmt.Errorf("config: %s: prepare script scope: %w", path, err)
	}

	if _, err := vm.RunString(string(data)); err != nil {
		return nil, fmt.Errorf("config: %s: %w: %v", path, ErrMalformed, err)
	}

	// The script may have reassigned module.exports wholesale.
	exported := module.Get("exports")
	if exported == nil || goja.IsUndefined(exported) || goja.IsNull(exported) {
		return nil, fmt.Errorf("config: %s: %w: script exports nothing", path, ErrMalformed)
	}

	obj, ok := exported.Export().(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("config: %s: %w: script must export an object", path, ErrMalformed)
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w: exported object is not serializable: %v", path, ErrMalformed, err)
	}

	return Parse(path, raw)
}
