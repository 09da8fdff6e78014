package tool

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileOptions configures the file access tools.
type FileOptions struct {
	// Root is the directory all paths are resolved against. Paths that
	// escape it are rejected.
	Root string

	// MaxReadBytes limits file read size. Default: 512KB.
	MaxReadBytes int64

	// MaxReadLines limits line count for text files. Default: 2000.
	MaxReadLines int
}

// defaults fills zero-valued options.
func (o FileOptions) defaults() FileOptions {
	if o.Root == "" {
		o.Root = "."
	}
	if o.MaxReadBytes == 0 {
		o.MaxReadBytes = 512 * 1024
	}
	if o.MaxReadLines == 0 {
		o.MaxReadLines = 2000
	}
	return o
}

// resolve joins a relative path to the root and rejects traversal
// outside it.
func (o FileOptions) resolve(path string) (string, error) {
	root, err := filepath.Abs(o.Root)
	if err != nil {
		return "", err
	}
	resolved := filepath.Join(root, path)
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the allowed root", path)
	}
	return resolved, nil
}

// ReadFile reads a file scoped to a root directory, with byte and line
// limits applied the same way for every caller.
type ReadFile struct {
	opts FileOptions
}

// NewReadFile creates the file read tool.
func NewReadFile(opts FileOptions) *ReadFile {
	return &ReadFile{opts: opts.defaults()}
}

func (t *ReadFile) Name() string  { return "read_file" }
func (t *ReadFile) Label() string { return "Read File" }

func (t *ReadFile) Description() string {
	return "Read the contents of a text file. Large files are truncated by byte and line limits."
}

func (t *ReadFile) Params() []Param {
	return []Param{
		{Name: "path", Type: "string", Description: "Path to the file, relative to the working root", Required: true},
		{Name: "limit", Type: "integer", Description: "Maximum number of lines to return", Required: false},
	}
}

func (t *ReadFile) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	resolved, err := t.opts.resolve(path)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", err
	}

	if int64(len(data)) > t.opts.MaxReadBytes {
		data = data[:t.opts.MaxReadBytes]
	}

	limit := t.opts.MaxReadLines
	if v, ok := args["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), int(t.opts.MaxReadBytes))
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) >= limit {
			lines = append(lines, "... (truncated)")
			break
		}
	}

	return strings.Join(lines, "\n"), nil
}

// ListFiles lists a directory scoped to the same root as ReadFile.
type ListFiles struct {
	opts FileOptions
}

// NewListFiles creates the directory listing tool.
func NewListFiles(opts FileOptions) *ListFiles {
	return &ListFiles{opts: opts.defaults()}
}

func (t *ListFiles) Name() string  { return "list_files" }
func (t *ListFiles) Label() string { return "List Files" }

func (t *ListFiles) Description() string {
	return "List the entries of a directory. Directories are suffixed with a slash."
}

func (t *ListFiles) Params() []Param {
	return []Param{
		{Name: "path", Type: "string", Description: "Directory path, relative to the working root (default: root itself)", Required: false},
	}
}

func (t *ListFiles) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	resolved, err := t.opts.resolve(path)
	if err != nil {
		return "", err
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return "", err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) == 0 {
		return "(empty directory)", nil
	}
	return strings.Join(names, "\n"), nil
}
