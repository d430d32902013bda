package subprocess

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/pennlinc/qsiprep/internal/infrastructure/logging"
	"github.com/pennlinc/qsiprep/internal/ports"
)

// ChildCommand is the hidden CLI subcommand that runs an entrypoint.
const ChildCommand = "__child"

// Entrypoints run inside the isolated child.
const (
	EntrypointBuildWorkflow    = "build-workflow"
	EntrypointBuildBoilerplate = "build-boilerplate"
)

// Entrypoint is a unit of work executed in a child process. It receives the
// path of the persisted configuration and returns its retval. An error makes
// the child exit non-zero without writing a retval.
type Entrypoint func(ctx context.Context, configPath string) (Retval, error)

// Runner spawns isolated children of the current executable.
type Runner struct {
	// Executable defaults to os.Executable().
	Executable string
	// Args are inserted before the child subcommand. Tests use them to
	// re-enter the test binary.
	Args   []string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
	Logger ports.Logger
}

// NewRunner returns a runner that re-executes the current binary.
func NewRunner(logger ports.Logger) (*Runner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Runner{Executable: exe, Stdout: os.Stdout, Stderr: os.Stderr, Logger: logger}, nil
}

// RunIsolated runs entrypoint in a new process and blocks until it exits.
// There is no timeout: a hung child blocks the parent. The retval is read
// once after the child exits; a non-zero exit status always wins over
// whatever the child wrote.
func (r *Runner) RunIsolated(ctx context.Context, entrypoint, configPath string) (Retval, error) {
	retvalPath := RetvalPath(configPath, entrypoint)
	if err := os.Remove(retvalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Retval{}, fmt.Errorf("clear stale retval: %w", err)
	}

	args := append(append([]string(nil), r.Args...), ChildCommand, entrypoint, "--config", configPath, "--retval", retvalPath)
	cmd := exec.Command(r.Executable, args...)
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}

	logger := r.logger()
	logger.Debug(ctx, "starting isolated process", "entrypoint", entrypoint, "config", configPath)

	exitCode := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Retval{}, fmt.Errorf("start %s: %w", entrypoint, err)
		}
		exitCode = exitStatus(exitErr)
	}

	rv, err := ReadRetval(retvalPath)
	if err != nil {
		if exitCode == 0 {
			return Retval{}, err
		}
		logger.Warn(ctx, "ignoring unreadable retval of failed child", "entrypoint", entrypoint, "error", err)
		rv = Retval{}
	}
	if exitCode != 0 {
		rv = rv.WithCode(exitCode)
		rv.ProcessExit = exitCode
		logger.Error(ctx, "isolated process failed", "entrypoint", entrypoint, "exit_code", exitCode)
	}
	return rv, nil
}

// Serve runs entry inside the child and writes its retval. It returns the
// exit code the child process should terminate with.
func Serve(ctx context.Context, logger ports.Logger, entry Entrypoint, configPath, retvalPath string) int {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	rv, err := entry(ctx, configPath)
	if err != nil {
		logger.Critical(ctx, "isolated process failed", "error", err)
		return 1
	}
	if err := WriteRetval(retvalPath, rv); err != nil {
		logger.Critical(ctx, "could not hand result to parent", "error", err)
		return 1
	}
	return 0
}

// RunInProcess runs entry without isolation. It is used for post-mortem
// debugging, where a separate process would hide the failing frame.
func RunInProcess(ctx context.Context, entry Entrypoint, configPath string) Retval {
	rv, err := entry(ctx, configPath)
	if err != nil {
		return rv.WithCode(1)
	}
	return rv
}

func (r *Runner) logger() ports.Logger {
	if r.Logger == nil {
		return logging.NewNoOpLogger()
	}
	return r.Logger
}

func exitStatus(err *exec.ExitError) int {
	if status, ok := err.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	if code := err.ExitCode(); code > 0 {
		return code
	}
	return 1
}
