package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Container marker variables baked into the qsiprep images.
const (
	containerEnvVar     = "IS_DOCKER_8395080871"
	dockerWrapperEnvVar = "DOCKER_VERSION_8395080871"
	defaultCgroupPath   = "/proc/1/cgroup"
)

// NewRunUUID returns a run identifier of the form YYYYMMDD-HHMMSS_<uuid4>.
func NewRunUUID() string {
	return newRunUUIDAt(time.Now())
}

func newRunUUIDAt(now time.Time) string {
	return fmt.Sprintf("%s_%s", now.Format("20060102-150405"), uuid.NewString())
}

// DetectExecEnv labels the execution environment. It is cosmetic: the label
// only affects log messages, telemetry tags and path rewriting.
func DetectExecEnv() string {
	return detectExecEnv(os.Getenv, defaultCgroupPath)
}

func detectExecEnv(getenv func(string) string, cgroupPath string) string {
	if getenv(containerEnvVar) == "" {
		return "posix"
	}
	env := "singularity"
	if data, err := os.ReadFile(cgroupPath); err == nil && strings.Contains(string(data), "docker") {
		env = "docker"
		if getenv(dockerWrapperEnvVar) != "" {
			env = "qsiprep-docker"
		}
	}
	return env
}
