package interfaces

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

func requiredString(inputs map[string]interface{}, key string) (string, error) {
	value := optionalString(inputs, key)
	if value == "" {
		return "", fmt.Errorf("missing required input %q", key)
	}
	return value, nil
}

func optionalString(inputs map[string]interface{}, key string) string {
	raw, ok := inputs[key]
	if !ok || raw == nil {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func optionalInt(inputs map[string]interface{}, key string, fallback int) int {
	switch v := inputs[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func stringMap(raw interface{}) map[string]string {
	out := make(map[string]string)
	switch m := raw.(type) {
	case map[string]string:
		for k, v := range m {
			out[k] = v
		}
	case map[string]interface{}:
		for k, v := range m {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

var imageExtensions = []string{".nii.gz", ".nii", ".mif.gz", ".mif"}

// stem strips the directory and any known image extension from path.
func stem(path string) string {
	base := filepath.Base(path)
	for _, ext := range imageExtensions {
		if strings.HasSuffix(base, ext) {
			return strings.TrimSuffix(base, ext)
		}
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func threadArgs(inputs map[string]interface{}) []string {
	if n := optionalInt(inputs, "nthreads", 0); n > 0 {
		return []string{"-nthreads", strconv.Itoa(n)}
	}
	return nil
}
