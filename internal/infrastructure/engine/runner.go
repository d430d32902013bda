package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/pennlinc/qsiprep/internal/domain/workflow"
	"github.com/pennlinc/qsiprep/internal/ports"
)

// LocalRunner executes commands as child processes of qsiprep, mirroring
// their output to the configured writers while capturing it.
type LocalRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

// RunCommand runs args inside workDir.
func (r LocalRunner) RunCommand(ctx context.Context, workDir string, args []string) (ports.CommandOutput, error) {
	if len(args) == 0 {
		return ports.CommandOutput{}, fmt.Errorf("no command given")
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = workDir

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	if r.Stdout != nil {
		cmd.Stdout = io.MultiWriter(r.Stdout, &stdoutBuf)
	}
	if r.Stderr != nil {
		cmd.Stderr = io.MultiWriter(r.Stderr, &stderrBuf)
	}

	err := cmd.Run()
	out := ports.CommandOutput{
		Stdout: strings.TrimSpace(stdoutBuf.String()),
		Stderr: strings.TrimSpace(stderrBuf.String()),
	}
	if err != nil {
		return out, fmt.Errorf("%s: %w: %s", strings.Join(args, " "), err, PrimaryOutput(out))
	}
	return out, nil
}

// ClusterRunner wraps every command in a scheduler submission command that
// blocks until the job finishes (e.g. "srun" or "qsub -sync y").
type ClusterRunner struct {
	Submit []string
	Local  LocalRunner
}

// RunCommand submits args through the scheduler.
func (r ClusterRunner) RunCommand(ctx context.Context, workDir string, args []string) (ports.CommandOutput, error) {
	if len(args) == 0 {
		return ports.CommandOutput{}, fmt.Errorf("no command given")
	}
	full := append(append([]string(nil), r.Submit...), args...)
	return r.Local.RunCommand(ctx, workDir, full)
}

// DefaultSubmitCommand is used by the Cluster plugin when no submit_cmd
// plugin argument is supplied.
const DefaultSubmitCommand = "srun"

// NewCommandRunner selects the command runner for the execution plugin.
func NewCommandRunner(settings workflow.PluginSettings, local LocalRunner) ports.CommandRunner {
	if settings.Plugin != workflow.PluginCluster {
		return local
	}
	submit := strings.Fields(settings.Arg("submit_cmd"))
	if len(submit) == 0 {
		submit = []string{DefaultSubmitCommand}
	}
	submit = append(submit, strings.Fields(settings.Arg("submit_args"))...)
	return ClusterRunner{Submit: submit, Local: local}
}

// PrimaryOutput returns stderr if present, otherwise stdout.
func PrimaryOutput(out ports.CommandOutput) string {
	if out.Stderr != "" {
		return out.Stderr
	}
	return out.Stdout
}
