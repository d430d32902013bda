package workflow

import (
	"runtime"
	"strconv"
)

// Execution plugin names understood by the executor.
const (
	PluginLinear    = "Linear"
	PluginMultiProc = "MultiProc"
	PluginCluster   = "Cluster"
)

// Plugins lists the supported execution plugins.
var Plugins = []string{PluginLinear, PluginMultiProc, PluginCluster}

// PluginSettings selects the execution backend and its options.
type PluginSettings struct {
	Plugin string
	Args   map[string]string
}

// Parallelism returns how many sibling nodes the plugin may run at once.
func (p PluginSettings) Parallelism() int {
	switch p.Plugin {
	case PluginLinear, "":
		return 1
	case PluginCluster:
		if n := p.intArg("max_jobs"); n > 0 {
			return n
		}
	}
	if n := p.intArg("n_procs"); n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// Arg returns a plugin argument or the empty string.
func (p PluginSettings) Arg(key string) string {
	if p.Args == nil {
		return ""
	}
	return p.Args[key]
}

func (p PluginSettings) intArg(key string) int {
	n, err := strconv.Atoi(p.Arg(key))
	if err != nil {
		return 0
	}
	return n
}

// IsSupportedPlugin reports whether name is a known execution plugin.
func IsSupportedPlugin(name string) bool {
	for _, candidate := range Plugins {
		if candidate == name {
			return true
		}
	}
	return false
}
