package testutil

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// CheckGeneratedFiles compares the tree under outputDir with the listing in
// expectedFile. Paths containing "figures" and paths with a "log" component
// are ignored, as are hidden entries. Unexpected files listed in
// optionalFile (which may be empty) are tolerated.
func CheckGeneratedFiles(outputDir, expectedFile, optionalFile string) error {
	found, err := listOutputs(outputDir)
	if err != nil {
		return err
	}
	expected, err := readLines(expectedFile)
	if err != nil {
		return err
	}
	var optional []string
	if optionalFile != "" {
		if optional, err = readLines(optionalFile); err != nil {
			return err
		}
	}

	expectedNotFound := difference(expected, found)
	foundNotExpected := difference(difference(found, expected), optional)

	var msg strings.Builder
	if len(expectedNotFound) > 0 {
		msg.WriteString("\nExpected but not found:\n\t")
		msg.WriteString(strings.Join(expectedNotFound, "\n\t"))
	}
	if len(foundNotExpected) > 0 {
		msg.WriteString("\nFound but not expected:\n\t")
		msg.WriteString(strings.Join(foundNotExpected, "\n\t"))
	}
	if msg.Len() > 0 {
		return fmt.Errorf("%s", msg.String())
	}
	return nil
}

// ReorderExpectedOutputs sorts and deduplicates the lines of every
// *_outputs.txt file in dir.
func ReorderExpectedOutputs(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*_outputs.txt"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, file := range files {
		lines, err := readLines(file)
		if err != nil {
			return err
		}
		lines = unique(lines)
		content := strings.Join(lines, "\n")
		if len(lines) > 0 {
			content += "\n"
		}
		if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func listOutputs(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if strings.Contains(rel, "figures") || hasComponent(rel, "log") {
			return nil
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return unique(out), nil
}

func hasComponent(path, name string) bool {
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if part == name {
			return true
		}
	}
	return false
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimRight(scanner.Text(), " \t\r"); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func difference(a, b []string) []string {
	drop := make(map[string]struct{}, len(b))
	for _, s := range b {
		drop[s] = struct{}{}
	}
	var out []string
	for _, s := range unique(a) {
		if _, ok := drop[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}

func unique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
