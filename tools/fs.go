package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rhettg/agentloop"
)

const defaultMaxLines = 100

type PathArgs struct {
	Path     string `json:"path"`
	MaxLines int    `json:"max_lines"`
}

// resolve maps path onto base and refuses anything that escapes it.
func resolve(base, path string) (string, error) {
	if path == "" {
		path = "."
	}

	var full string
	if filepath.IsAbs(path) {
		full = filepath.Clean(path)
	} else {
		full = filepath.Join(base, path)
	}

	rel, err := filepath.Rel(base, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside %s", path, base)
	}

	return full, nil
}

// ListDirectory lists directories below base.
func ListDirectory(base string) agentloop.Tool {
	base = filepath.Clean(base)

	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The directory path to list (absolute or relative to the root directory)",
			},
		},
		"required": []string{"path"},
	}

	return Func("list_directory", "List files and directories in a given path", params, func(ctx context.Context, args PathArgs) (any, error) {
		dir, err := resolve(base, args.Path)
		if err != nil {
			return nil, err
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("error reading directory %s: %w", args.Path, err)
		}

		var result strings.Builder
		fmt.Fprintf(&result, "Contents of %s:\n", dir)

		for _, entry := range entries {
			if entry.IsDir() {
				fmt.Fprintf(&result, "  %s/\n", entry.Name())
				continue
			}

			info, err := entry.Info()
			if err == nil {
				fmt.Fprintf(&result, "  %s (%d bytes)\n", entry.Name(), info.Size())
			} else {
				fmt.Fprintf(&result, "  %s\n", entry.Name())
			}
		}

		return result.String(), nil
	})
}

// ReadFile reads files below base, truncated to max_lines (default 100).
func ReadFile(base string) agentloop.Tool {
	base = filepath.Clean(base)

	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The file path to read (absolute or relative to the root directory)",
			},
			"max_lines": map[string]any{
				"type":        "number",
				"description": "Maximum number of lines to read (default: 100)",
			},
		},
		"required": []string{"path"},
	}

	return Func("read_file", "Read the contents of a file", params, func(ctx context.Context, args PathArgs) (any, error) {
		path, err := resolve(base, args.Path)
		if err != nil {
			return nil, err
		}

		maxLines := args.MaxLines
		if maxLines <= 0 {
			maxLines = defaultMaxLines
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading file %s: %w", args.Path, err)
		}

		lines := strings.Split(string(content), "\n")
		if len(lines) > maxLines {
			lines = lines[:maxLines]
			lines = append(lines, fmt.Sprintf("... (truncated at %d lines)", maxLines))
		}

		return fmt.Sprintf("Contents of %s:\n%s", path, strings.Join(lines, "\n")), nil
	})
}

// Filesystem returns the read-only filesystem tools rooted at base.
func Filesystem(base string) *Tools {
	return New().Add(ListDirectory(base), ReadFile(base))
}
