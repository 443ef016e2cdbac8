// Package version carries the build version stamped into the binary and
// the mismatch check the CLI runs against a live bridge.
package version

import (
	"fmt"
	"regexp"
	"strings"
)

// Release builds override this via -ldflags "-X ...=<git describe>".
var version = "dev"

// String returns the version baked into this binary.
func String() string {
	return version
}

// FormatVersion makes a version presentable: bare semvers gain a "v"
// prefix, sentinel values like "dev" and "" pass through untouched.
func FormatVersion(v string) string {
	if v == "" || v == "dev" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// gitDescribeSuffix matches the "-N-gHASH" tail git describe appends to
// commits past a tag, as in "0.3.0-5-gabcdef".
var gitDescribeSuffix = regexp.MustCompile(`-\d+-g[0-9a-f]+$`)

// normalizeVersion reduces a version to its comparable core: the "v"
// prefix and any git-describe tail are dropped, so "v0.3.0-5-gabcdef"
// and "0.3.0" compare as equal.
func normalizeVersion(v string) string {
	return gitDescribeSuffix.ReplaceAllString(strings.TrimPrefix(v, "v"), "")
}

// unversioned reports whether v is a placeholder rather than a release:
// development builds plus the 0.0.0 stamped when no git tag exists.
func unversioned(v string) bool {
	return v == "" || v == "dev" || v == "0.0.0"
}

// CheckVersionMismatch compares the local build version against the
// version a running bridge reports on its control endpoint. A non-empty
// return is a warning for the user. Placeholder versions on either side
// suppress it, since development builds mix freely.
func CheckVersionMismatch(bridgeVersion string) string {
	local := version
	if unversioned(local) || unversioned(bridgeVersion) {
		return ""
	}
	if normalizeVersion(local) == normalizeVersion(bridgeVersion) {
		return ""
	}
	return fmt.Sprintf(
		"WARNING: pabridge CLI %s talking to bridge %s — version mismatch, restart the bridge or reinstall",
		FormatVersion(local), FormatVersion(bridgeVersion),
	)
}

// ForTesting swaps the package version and returns a restore func. Not
// safe for concurrent use.
func ForTesting(v string) func() {
	original := version
	version = v
	return func() { version = original }
}
