// Package version reports build information injected with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/longkey1/llmrelay/internal/version.Version=v0.1.0"
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	Version   = "dev"
	CommitSHA = ""
	BuildTime = ""
)

// Short returns the version number only
func Short() string {
	if Version == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return Version
}

// Info returns the full version description
func Info() string {
	commit := CommitSHA
	if commit == "" {
		commit = vcsSetting("vcs.revision")
	}
	built := BuildTime
	if built == "" {
		built = vcsSetting("vcs.time")
	}
	return fmt.Sprintf("llmrelay %s\n  commit: %s\n  built:  %s\n  go:     %s %s/%s",
		Short(), orUnknown(commit), orUnknown(built), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func vcsSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
