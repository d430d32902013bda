package engine

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	pkgerrors "github.com/pennlinc/qsiprep/pkg/errors"
)

// CrashPattern matches the crash files written by the executor.
const CrashPattern = "crash*"

// CrashRecord is the content of a crash file. It records enough about a failed
// node to reproduce the failure without the working directory.
type CrashRecord struct {
	Node      string            `toml:"node"`
	Interface string            `toml:"interface"`
	Time      time.Time         `toml:"time"`
	User      string            `toml:"user"`
	Hostname  string            `toml:"hostname"`
	WorkDir   string            `toml:"work_dir"`
	Inputs    map[string]string `toml:"inputs"`
	Error     string            `toml:"error"`
	Traceback []string          `toml:"traceback"`
}

// Summary returns a one-line description of the failure.
func (r CrashRecord) Summary() string {
	return fmt.Sprintf("node %s (%s) failed: %s", r.Node, r.Interface, r.Error)
}

// CrashFileName builds crash-<timestamp>-<user>-<node>-<uuid>.toml.
func CrashFileName(at time.Time, username, nodeID string) string {
	return fmt.Sprintf("crash-%s-%s-%s-%s.toml", at.Format("20060102-150405"), username, nodeID, uuid.NewString())
}

// WriteCrashFile persists the record under dir and returns the file path.
func WriteCrashFile(dir string, record CrashRecord) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create crash dir %s: %w", dir, err)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(record); err != nil {
		return "", fmt.Errorf("encode crash record: %w", err)
	}
	path := filepath.Join(dir, CrashFileName(record.Time, record.User, record.Node))
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write crash file %s: %w", path, err)
	}
	return path, nil
}

// ReadCrashFile loads a crash file written by WriteCrashFile.
func ReadCrashFile(path string) (CrashRecord, error) {
	var record CrashRecord
	data, err := os.ReadFile(path)
	if err != nil {
		return record, fmt.Errorf("read crash file %s: %w", path, err)
	}
	if _, err := toml.Decode(string(data), &record); err != nil {
		var perr toml.ParseError
		if errors.As(err, &perr) {
			return record, pkgerrors.NewParseError(path, perr.Position.Line, err)
		}
		return record, pkgerrors.NewParseError(path, 0, err)
	}
	return record, nil
}

// FindCrashFiles returns the sorted crash files in dir. A missing directory
// yields no files.
func FindCrashFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, CrashPattern))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

func newCrashRecord(nodeID, iface, workDir string, inputs map[string]interface{}, runErr error) CrashRecord {
	host, _ := os.Hostname()
	record := CrashRecord{
		Node:      nodeID,
		Interface: iface,
		Time:      time.Now().UTC().Truncate(time.Second),
		User:      currentUser(),
		Hostname:  host,
		WorkDir:   workDir,
		Inputs:    make(map[string]string, len(inputs)),
	}
	for k, v := range inputs {
		record.Inputs[k] = fmt.Sprint(v)
	}
	if runErr != nil {
		record.Error = runErr.Error()
		record.Traceback = strings.Split(strings.TrimSpace(runErr.Error()), "\n")
	}
	return record
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return sanitizeNamePart(u.Username)
	}
	if name := os.Getenv("USER"); name != "" {
		return sanitizeNamePart(name)
	}
	return "unknown"
}

func sanitizeNamePart(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ' ' {
			return '_'
		}
		return r
	}, s)
}
