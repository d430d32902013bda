package engine

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/pennlinc/qsiprep/pkg/errors"
)

func TestCrashFileName(t *testing.T) {
	at := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)
	name := CrashFileName(at, "qsiprep", "sub_01_wf.denoise")
	assert.True(t, strings.HasPrefix(name, "crash-20240309-140506-qsiprep-sub_01_wf.denoise-"), name)
	assert.True(t, strings.HasSuffix(name, ".toml"), name)
	matched, err := filepath.Match(CrashPattern, name)
	require.NoError(t, err)
	assert.True(t, matched)
}

func TestWriteAndReadCrashFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "log")
	record := newCrashRecord("sub_01_wf.estimate_fod", "mrtrix.dwi2fod", "/work", map[string]interface{}{"extent": 5}, errors.New("line one\nline two"))

	path, err := WriteCrashFile(dir, record)
	require.NoError(t, err)

	loaded, err := ReadCrashFile(path)
	require.NoError(t, err)
	assert.Equal(t, record.Node, loaded.Node)
	assert.Equal(t, "5", loaded.Inputs["extent"])
	assert.Equal(t, []string{"line one", "line two"}, loaded.Traceback)
	assert.True(t, record.Time.Equal(loaded.Time))
	assert.Contains(t, loaded.Summary(), "sub_01_wf.estimate_fod")
}

func TestReadCrashFileInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crash-bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("node = [unterminated"), 0o644))

	_, err := ReadCrashFile(path)
	var perr *pkgerrors.ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, path, perr.Path)
}

func TestFindCrashFilesMissingDir(t *testing.T) {
	files, err := FindCrashFiles(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, files)
}
