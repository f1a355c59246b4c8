package version

import (
	"runtime/debug"
	"strings"
)

// buildVersion is set via -ldflags "-X github.com/Siddhant412/chatgpt-notes-app/internal/version.buildVersion=...".
var buildVersion = ""

// fallback is reported by development builds without module version info. It
// is also the version announced in the MCP initialize response.
const fallback = "0.1.0"

// Current returns the best available version string.
func Current() string {
	if v := strings.TrimSpace(buildVersion); v != "" {
		return strings.TrimPrefix(v, "v")
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := strings.TrimSpace(info.Main.Version); v != "" && v != "(devel)" {
			return strings.TrimPrefix(v, "v")
		}
	}
	return fallback
}

const defaultModule = "github.com/Siddhant412/chatgpt-notes-app"

// Module returns the module path from build info when available.
func Module() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if p := strings.TrimSpace(info.Main.Path); p != "" {
			return p
		}
	}
	return defaultModule
}
