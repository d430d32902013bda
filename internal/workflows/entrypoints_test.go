package workflows

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pennlinc/qsiprep/internal/config"
	"github.com/pennlinc/qsiprep/internal/infrastructure/graphstore"
	"github.com/pennlinc/qsiprep/internal/infrastructure/interfaces"
)

type fakeReports struct {
	failed int
	labels []string
}

func (f *fakeReports) GenerateReports(_ context.Context, labels []string, _, _ string) int {
	f.labels = append([]string(nil), labels...)
	return f.failed
}

func newBuilder(reports *fakeReports) *Builder {
	return &Builder{
		Store:     graphstore.NewYAMLStore(nil),
		Describer: interfaces.NewDefaultRegistry(),
		Reports:   reports,
	}
}

func persisted(t *testing.T, cfg *config.Config) string {
	t.Helper()
	require.NoError(t, cfg.ToFilename(cfg.Path()))
	return cfg.Path()
}

func TestBuildWorkflowDiscoversParticipants(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Execution.ParticipantLabel = nil
	path := persisted(t, cfg)

	rv, err := newBuilder(&fakeReports{}).BuildWorkflow(context.Background(), path)
	require.NoError(t, err)
	assert.Nil(t, rv.ReturnCode)
	assert.Equal(t, GraphPath(cfg), rv.Workflow)
	assert.FileExists(t, rv.Workflow)

	reloaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"01", "02"}, reloaded.Execution.ParticipantLabel)
}

func TestBuildWorkflowFailureIsReturnCode(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Execution.ParticipantLabel = []string{"99"}
	path := persisted(t, cfg)

	rv, err := newBuilder(&fakeReports{}).BuildWorkflow(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, rv.Code())
	assert.Empty(t, rv.Workflow)
	assert.NoFileExists(t, GraphPath(cfg))
}

func TestBuildWorkflowReportsOnly(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Execution.ReportsOnly = true
	path := persisted(t, cfg)
	reports := &fakeReports{failed: 2}

	rv, err := newBuilder(reports).BuildWorkflow(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, rv.Code())
	assert.Empty(t, rv.Workflow)
	assert.Equal(t, []string{"01", "02"}, reports.labels)
	assert.NoFileExists(t, GraphPath(cfg))
}

func TestBuildWorkflowRejectsMissingConfig(t *testing.T) {
	t.Parallel()

	_, err := newBuilder(&fakeReports{}).BuildWorkflow(context.Background(), "/nonexistent/config.toml")
	require.Error(t, err)
}

func TestBuildBoilerplate(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	path := persisted(t, cfg)
	b := newBuilder(&fakeReports{})

	_, err := b.BuildBoilerplate(context.Background(), path)
	require.Error(t, err, "no graph has been built yet")

	_, err = b.BuildWorkflow(context.Background(), path)
	require.NoError(t, err)
	rv, err := b.BuildBoilerplate(context.Background(), path)
	require.NoError(t, err)
	assert.Nil(t, rv.ReturnCode)
	assert.FileExists(t, cfg.CitationPath())
}

func TestEntrypoints(t *testing.T) {
	t.Parallel()

	entries := newBuilder(nil).Entrypoints()
	assert.Len(t, entries, 2)
	assert.Contains(t, entries, "build-workflow")
	assert.Contains(t, entries, "build-boilerplate")
}
