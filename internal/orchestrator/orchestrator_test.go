package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pennlinc/qsiprep/internal/bids"
	"github.com/pennlinc/qsiprep/internal/config"
	"github.com/pennlinc/qsiprep/internal/domain/workflow"
	"github.com/pennlinc/qsiprep/internal/infrastructure/engine"
	"github.com/pennlinc/qsiprep/internal/infrastructure/logging"
	"github.com/pennlinc/qsiprep/internal/ports"
	"github.com/pennlinc/qsiprep/internal/subprocess"
	"github.com/pennlinc/qsiprep/internal/workflows"
)

const graphPath = "/run/workflow.yml"

type fakeIsolator struct {
	calls   []string
	retvals map[string]subprocess.Retval
	// mutate simulates a child rewriting the persisted configuration.
	mutate func(cfg *config.Config)
}

func (f *fakeIsolator) RunIsolated(_ context.Context, entrypoint, configPath string) (subprocess.Retval, error) {
	f.calls = append(f.calls, entrypoint)
	if f.mutate != nil && entrypoint == subprocess.EntrypointBuildWorkflow {
		cfg, err := config.Load(configPath)
		if err != nil {
			return subprocess.Retval{}, err
		}
		f.mutate(cfg)
		if err := cfg.ToFilename(configPath); err != nil {
			return subprocess.Retval{}, err
		}
	}
	rv := f.retvals[entrypoint]
	if entrypoint == subprocess.EntrypointBuildBoilerplate && rv.Code() == 0 {
		cfg, err := config.Load(configPath)
		if err != nil {
			return subprocess.Retval{}, err
		}
		if err := os.MkdirAll(filepath.Dir(cfg.CitationPath()), 0o755); err != nil {
			return subprocess.Retval{}, err
		}
		if err := os.WriteFile(cfg.CitationPath(), []byte("# Citation\n"), 0o644); err != nil {
			return subprocess.Retval{}, err
		}
	}
	return rv, nil
}

type fakeStore struct {
	graphs map[string]*workflow.Workflow
}

func (f *fakeStore) Save(context.Context, *workflow.Workflow, string) error { return nil }

func (f *fakeStore) Load(_ context.Context, path string) (*workflow.Workflow, error) {
	wf, ok := f.graphs[path]
	if !ok {
		return nil, errors.New("graph not found")
	}
	return wf, nil
}

type fakeExecutor struct {
	calls  int
	plugin workflow.PluginSettings
	err    error
}

func (f *fakeExecutor) Run(_ context.Context, wf *workflow.Workflow, plugin workflow.PluginSettings) ([]workflow.NodeResult, error) {
	f.calls++
	f.plugin = plugin
	results := make([]workflow.NodeResult, 0, len(wf.Nodes()))
	for _, n := range wf.Nodes() {
		results = append(results, workflow.NodeResult{NodeID: n.ID(), Status: workflow.StatusSuccess})
	}
	return results, f.err
}

type fakeReports struct {
	calls  int
	labels []string
	failed int
}

func (f *fakeReports) GenerateReports(_ context.Context, labels []string, _, _ string) int {
	f.calls++
	f.labels = append([]string(nil), labels...)
	return f.failed
}

type fakeDerivatives struct {
	descriptions int
	ignores      int
}

func (f *fakeDerivatives) WriteDerivativeDescription(string, string, bids.DescriptionOptions) error {
	f.descriptions++
	return nil
}

func (f *fakeDerivatives) WriteBidsignore(string) error {
	f.ignores++
	return nil
}

type fakeTelemetry struct {
	mu         sync.Mutex
	tags       map[string]string
	messages   []string
	exceptions []error
	crashfiles []string
}

func (f *fakeTelemetry) Enabled() bool { return true }

func (f *fakeTelemetry) SetTag(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tags == nil {
		f.tags = map[string]string{}
	}
	f.tags[key] = value
}

func (f *fakeTelemetry) AddBreadcrumb(string, ports.TelemetryLevel) {}

func (f *fakeTelemetry) CaptureMessage(message string, _ ports.TelemetryLevel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
}

func (f *fakeTelemetry) CaptureException(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exceptions = append(f.exceptions, err)
}

func (f *fakeTelemetry) ProcessCrashfile(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.crashfiles = append(f.crashfiles, path)
	return nil
}

func (f *fakeTelemetry) Flush() {}

type harness struct {
	cfg         *config.Config
	isolator    *fakeIsolator
	executor    *fakeExecutor
	reports     *fakeReports
	derivatives *fakeDerivatives
	telemetry   *fakeTelemetry
	orch        *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Environment.Version = "1.0.0"
	cfg.Execution.BIDSDir = filepath.Join(root, "bids")
	cfg.Execution.OutputDir = filepath.Join(root, "out")
	cfg.Execution.WorkDir = filepath.Join(root, "work")
	cfg.Execution.ParticipantLabel = []string{"01", "02"}
	cfg.Init()

	wf := workflow.New(workflows.QsiprepWorkflowName)
	wf.Add(workflow.NewNode("identity", "inputnode", nil))

	h := &harness{
		cfg: cfg,
		isolator: &fakeIsolator{retvals: map[string]subprocess.Retval{
			subprocess.EntrypointBuildWorkflow: {Workflow: graphPath},
		}},
		executor:    &fakeExecutor{},
		reports:     &fakeReports{},
		derivatives: &fakeDerivatives{},
		telemetry:   &fakeTelemetry{},
	}
	h.orch = &Orchestrator{
		Isolator:    h.isolator,
		Store:       &fakeStore{graphs: map[string]*workflow.Workflow{graphPath: wf}},
		Executor:    h.executor,
		Reports:     h.reports,
		Derivatives: h.derivatives,
		Telemetry:   h.telemetry,
	}
	return h
}

func (h *harness) run(t *testing.T) (*Outcome, error) {
	t.Helper()
	return h.orch.Run(context.Background(), h.cfg)
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	return exitErr.Code
}

func (h *harness) assertCleanupOnce(t *testing.T) {
	t.Helper()
	assert.Equal(t, 1, h.derivatives.descriptions)
	assert.Equal(t, 1, h.derivatives.ignores)
}

func TestRunSuccess(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	out, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, 0, out.ExitCode)
	assert.Equal(t, []string{subprocess.EntrypointBuildWorkflow, subprocess.EntrypointBuildBoilerplate}, h.isolator.calls)
	assert.Equal(t, 1, h.executor.calls)
	assert.Equal(t, 1, h.reports.calls)
	h.assertCleanupOnce(t)
	assert.Len(t, out.Results, 1)
	assert.Equal(t, h.cfg.CitationPath(), out.CitationPath)

	assert.Equal(t, h.cfg.Execution.RunUUID, h.telemetry.tags["run_uuid"])
	assert.Equal(t, "2", h.telemetry.tags["npart"])
	assert.Equal(t, []string{"QSIPrep started", "QSIPrep finished without errors"}, h.telemetry.messages)
	assert.FileExists(t, h.cfg.Path())
}

func TestRunExitCodeCombinesRunAndReportFailures(t *testing.T) {
	t.Parallel()

	execErr := errors.New("node exploded")
	cases := []struct {
		name          string
		execErr       error
		failedReports int
		want          int
	}{
		{name: "clean", want: 0},
		{name: "reports failed", failedReports: 2, want: 1},
		{name: "run failed", execErr: execErr, want: 1},
		{name: "both failed", execErr: execErr, failedReports: 1, want: 1},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			h.executor.err = tc.execErr
			h.reports.failed = tc.failedReports

			out, err := h.run(t)
			assert.Equal(t, tc.want, exitCode(t, err))
			assert.Equal(t, tc.want, out.ExitCode)
			assert.Equal(t, tc.failedReports, out.FailedReports)
			h.assertCleanupOnce(t)
			if tc.execErr != nil {
				assert.ErrorIs(t, err, tc.execErr)
			}
			if tc.failedReports > 0 {
				assert.Contains(t, h.telemetry.messages, fmt.Sprintf("Report generation failed for %d subjects", tc.failedReports))
			}
		})
	}
}

func TestRunBuilderFailureExitsWithChildCode(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.isolator.retvals[subprocess.EntrypointBuildWorkflow] = subprocess.Retval{}.WithCode(3)

	out, err := h.run(t)
	assert.Equal(t, 3, exitCode(t, err))
	assert.Equal(t, 3, out.ExitCode)
	assert.Equal(t, 0, h.executor.calls)
	assert.Equal(t, 0, h.reports.calls)
	assert.Equal(t, []string{subprocess.EntrypointBuildWorkflow}, h.isolator.calls)
}

func TestRunWithoutGraphIsSoftwareError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.isolator.retvals[subprocess.EntrypointBuildWorkflow] = subprocess.Retval{}

	_, err := h.run(t)
	assert.Equal(t, ExSoftware, exitCode(t, err))
	assert.Equal(t, 0, h.executor.calls)

	h = newHarness(t)
	h.isolator.retvals[subprocess.EntrypointBuildWorkflow] = subprocess.Retval{Workflow: "/run/missing.yml"}
	_, err = h.run(t)
	assert.Equal(t, ExSoftware, exitCode(t, err))
}

func TestRunReportsOnly(t *testing.T) {
	t.Parallel()

	for code, want := range map[int]int{0: 0, 2: 1} {
		h := newHarness(t)
		h.cfg.Execution.ReportsOnly = true
		h.isolator.retvals[subprocess.EntrypointBuildWorkflow] = subprocess.Retval{}.WithCode(code)

		out, err := h.run(t)
		assert.Equal(t, want, exitCode(t, err))
		assert.Equal(t, code, out.FailedReports)
		assert.Equal(t, 0, h.executor.calls)
		assert.Equal(t, 0, h.reports.calls, "reports are generated by the builder")
		assert.Equal(t, []string{subprocess.EntrypointBuildWorkflow}, h.isolator.calls)
		h.assertCleanupOnce(t)
	}
}

func TestRunReportsOnlyCrashedBuilderCountsNoReports(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cfg.Execution.ReportsOnly = true
	h.isolator.retvals[subprocess.EntrypointBuildWorkflow] = subprocess.Retval{ProcessExit: 137}.WithCode(137)

	out, err := h.run(t)
	assert.Equal(t, 1, exitCode(t, err))
	assert.Zero(t, out.FailedReports)
	h.assertCleanupOnce(t)
}

func TestRunBoilerplateOnly(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cfg.Execution.BoilerplateOnly = true

	_, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, 0, h.executor.calls)
	assert.Equal(t, 1, h.reports.calls)
	assert.Equal(t, []string{subprocess.EntrypointBuildWorkflow, subprocess.EntrypointBuildBoilerplate}, h.isolator.calls)
	h.assertCleanupOnce(t)
}

func writeCrash(t *testing.T, dir, node string) string {
	t.Helper()
	path, err := engine.WriteCrashFile(dir, engine.CrashRecord{Node: node, Error: "boom"})
	require.NoError(t, err)
	return path
}

func TestRunForwardsOnlyRunScopedCrashFiles(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.executor.err = workflow.ErrWorkflowFailed
	want := []string{
		writeCrash(t, h.cfg.CrashDir("01"), "conform"),
		writeCrash(t, h.cfg.CrashDir("02"), "denoise"),
	}
	writeCrash(t, h.cfg.CrashDir("03"), "not_a_participant")
	writeCrash(t, filepath.Join(h.cfg.Execution.QsiprepDir, "sub-01", "log", "older-run"), "stale")
	require.NoError(t, os.WriteFile(filepath.Join(h.cfg.CrashDir("01"), "report.txt"), []byte("x"), 0o644))

	_, err := h.run(t)
	assert.Equal(t, 1, exitCode(t, err))
	assert.ErrorIs(t, err, workflow.ErrWorkflowFailed)
	assert.ElementsMatch(t, want, h.telemetry.crashfiles)
	assert.Empty(t, h.telemetry.exceptions, "workflow failures are reported through crash files only")
	h.assertCleanupOnce(t)
}

func TestRunCapturesUnexpectedExecutorErrors(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	execErr := errors.New("plugin crashed")
	h.executor.err = execErr

	_, err := h.run(t)
	assert.ErrorIs(t, err, execErr)
	assert.Equal(t, []error{execErr}, h.telemetry.exceptions)
}

func TestRunNotrackSkipsTelemetry(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cfg.Execution.Notrack = true
	h.executor.err = errors.New("plugin crashed")
	h.reports.failed = 1
	writeCrash(t, h.cfg.CrashDir("01"), "conform")

	_, err := h.run(t)
	assert.Equal(t, 1, exitCode(t, err))
	assert.Empty(t, h.telemetry.crashfiles)
	assert.Empty(t, h.telemetry.exceptions)
	assert.Empty(t, h.telemetry.messages)
	assert.Empty(t, h.telemetry.tags)
}

func TestRunReloadsConfigurationFromChild(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cfg.Execution.ParticipantLabel = nil
	h.isolator.mutate = func(cfg *config.Config) {
		cfg.Execution.ParticipantLabel = []string{"07"}
	}
	var logs bytes.Buffer
	logger, err := logging.New(logging.Options{Writer: &logs, Level: "debug"})
	require.NoError(t, err)
	h.orch.Logger = logger

	out, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, []string{"07"}, out.Config.Execution.ParticipantLabel)
	assert.Equal(t, []string{"07"}, h.reports.labels)
	assert.Equal(t, "1", h.telemetry.tags["npart"])
	assert.Contains(t, logs.String(), "configuration updated by workflow builder")
	assert.Contains(t, logs.String(), "participant_label")
}

func TestRunPersistFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	h.cfg.Execution.WorkDir = filepath.Join(blocker, "work")

	_, err := h.run(t)
	assert.Equal(t, 1, exitCode(t, err))
	assert.Empty(t, h.isolator.calls)
	assert.Equal(t, 0, h.reports.calls)
}

func TestRunPostMortemBuildsInProcess(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cfg.Execution.Debug = []string{"pdb"}
	inProcess := 0
	h.orch.Entrypoints = map[string]subprocess.Entrypoint{
		subprocess.EntrypointBuildWorkflow: func(context.Context, string) (subprocess.Retval, error) {
			inProcess++
			return subprocess.Retval{Workflow: graphPath}, nil
		},
	}

	_, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, 1, inProcess)
	assert.Equal(t, []string{subprocess.EntrypointBuildBoilerplate}, h.isolator.calls)
	assert.Equal(t, workflow.PluginLinear, h.executor.plugin.Plugin)
}

func TestRunWritesGraphAndLookupTables(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cfg.Execution.WriteGraph = true
	h.cfg.Workflow.RunReconall = true

	_, err := h.run(t)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(h.cfg.RunDir(), workflows.GraphFileName))
	for _, name := range bids.SegmentationLUTs {
		assert.FileExists(t, filepath.Join(h.cfg.Execution.QsiprepDir, name))
	}
}

func TestRunOmitsCitationWhenBoilerplateMissing(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "info", Writer: &buf})
	require.NoError(t, err)

	h := newHarness(t)
	h.orch.Logger = logger
	h.isolator.retvals[subprocess.EntrypointBuildBoilerplate] = subprocess.Retval{}.WithCode(1)

	out, err := h.run(t)
	require.NoError(t, err)
	assert.Empty(t, out.CitationPath)
	assert.NoFileExists(t, h.cfg.CitationPath())
	assert.NotContains(t, buf.String(), "boilerplate text found in")
	assert.Contains(t, buf.String(), "QSIPrep finished successfully!")
}

func TestCitationLocation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	assert.Equal(t, h.cfg.CitationPath(), citationLocation(h.cfg))

	h.cfg.Environment.ExecEnv = "docker"
	assert.Equal(t, filepath.Join("<OUTPUT_PATH>", "qsiprep", "logs", "CITATION.md"), citationLocation(h.cfg))
}

func TestExitError(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := exitFor(1, cause)
	assert.EqualError(t, err, "exit status 1: boom")
	assert.ErrorIs(t, err, cause)
	assert.NoError(t, exitFor(0, cause))
	assert.EqualError(t, exitFor(70, nil), "exit status 70")
}
