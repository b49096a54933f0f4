package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/slok/stepflow/internal/log"
	"github.com/slok/stepflow/internal/model"
	"github.com/slok/stepflow/internal/tool"
	"github.com/slok/stepflow/internal/utils/file"
)

// Tool names.
const (
	ToolRunCommand      = "run_command"
	ToolReadFile        = "read_file"
	ToolWriteFile       = "write_file"
	ToolAppendFile      = "append_file"
	ToolEditFile        = "edit_file"
	ToolListDirectory   = "list_directory"
	ToolCreateDirectory = "create_directory"
	ToolDeleteFile      = "delete_file"
	ToolFileExists      = "file_exists"
)

// ToolsConfig is the configuration of the local tools.
type ToolsConfig struct {
	// WorkDir is used to resolve relative paths and as the commands working directory.
	WorkDir string
	// Shell runs the commands with `<shell> -c <command>`.
	Shell  string
	Env    []string
	Logger log.Logger
}

func (c *ToolsConfig) defaults() error {
	if c.Shell == "" {
		c.Shell = "bash"
	}
	if c.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("could not get working directory: %w", err)
		}
		c.WorkDir = wd
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "local.Tools"})
	return nil
}

// Tools are the file and shell tools executed on the local machine.
type Tools struct {
	workDir string
	shell   string
	env     []string
	logger  log.Logger
}

// NewTools returns the local tools.
func NewTools(cfg ToolsConfig) (*Tools, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Tools{
		workDir: cfg.WorkDir,
		shell:   cfg.Shell,
		env:     cfg.Env,
		logger:  cfg.Logger,
	}, nil
}

// Register registers all the local tools in the registry.
func (t *Tools) Register(r *tool.Registry) {
	r.Register(ToolRunCommand, t.RunCommand)
	r.Register(ToolReadFile, t.ReadFile)
	r.Register(ToolWriteFile, t.WriteFile)
	r.Register(ToolAppendFile, t.AppendFile)
	r.Register(ToolEditFile, t.EditFile)
	r.Register(ToolListDirectory, t.ListDirectory)
	r.Register(ToolCreateDirectory, t.CreateDirectory)
	r.Register(ToolDeleteFile, t.DeleteFile)
	r.Register(ToolFileExists, t.FileExists)
}

// RunCommand runs `command` with the shell. The result is the stdout, unmodified.
func (t *Tools) RunCommand(ctx context.Context, params map[string]any) (*tool.Result, error) {
	command := tool.StringParam(params, "command")
	if command == "" {
		return missingParam("command"), nil
	}

	cmd := exec.CommandContext(ctx, t.shell, "-c", command)
	cmd.Dir = t.workDir
	if cwd := tool.StringParam(params, "cwd"); cwd != "" {
		cmd.Dir = t.path(cwd)
	}
	cmd.Env = append(os.Environ(), t.env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	t.logger.Debugf("Running command: %s", command)
	err := cmd.Run()
	if err != nil {
		msg := err.Error()
		if s := strings.TrimSpace(stderr.String()); s != "" {
			msg = fmt.Sprintf("%s: %s", msg, s)
		}
		res := &tool.Result{Success: false, Result: stdout.String(), Error: msg}
		if ctx.Err() != nil {
			res.ErrorType = model.ErrorTypeTimeout
		}
		return res, nil
	}

	return &tool.Result{Success: true, Result: stdout.String()}, nil
}

// ReadFile returns the content of `path`.
func (t *Tools) ReadFile(_ context.Context, params map[string]any) (*tool.Result, error) {
	path := tool.StringParam(params, "path")
	if path == "" {
		return missingParam("path"), nil
	}

	data, err := os.ReadFile(t.path(path))
	if err != nil {
		return fsFailure(err), nil
	}

	return &tool.Result{Success: true, Result: string(data)}, nil
}

// WriteFile writes `content` to `path`, the parent directory must exist.
func (t *Tools) WriteFile(_ context.Context, params map[string]any) (*tool.Result, error) {
	path := tool.StringParam(params, "path")
	if path == "" {
		return missingParam("path"), nil
	}
	content := tool.StringParam(params, "content")

	if err := file.WriteAtomic(t.path(path), []byte(content), 0o644); err != nil {
		return fsFailure(err), nil
	}

	return &tool.Result{Success: true, Result: fmt.Sprintf("wrote %d bytes to %s", len(content), path)}, nil
}

// AppendFile appends `content` to `path`, creating the file if missing.
func (t *Tools) AppendFile(_ context.Context, params map[string]any) (*tool.Result, error) {
	path := tool.StringParam(params, "path")
	if path == "" {
		return missingParam("path"), nil
	}
	content := tool.StringParam(params, "content")

	f, err := os.OpenFile(t.path(path), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fsFailure(err), nil
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		return fsFailure(err), nil
	}

	return &tool.Result{Success: true, Result: fmt.Sprintf("appended %d bytes to %s", len(content), path)}, nil
}

// EditFile replaces the first occurrence of `search` with `replace` in `path`.
func (t *Tools) EditFile(_ context.Context, params map[string]any) (*tool.Result, error) {
	path := tool.StringParam(params, "path")
	if path == "" {
		return missingParam("path"), nil
	}
	search := tool.StringParam(params, "search")
	if search == "" {
		return missingParam("search"), nil
	}
	replace := tool.StringParam(params, "replace")

	p := t.path(path)
	data, err := os.ReadFile(p)
	if err != nil {
		return fsFailure(err), nil
	}

	content := string(data)
	if !strings.Contains(content, search) {
		return &tool.Result{
			Success:   false,
			Error:     fmt.Sprintf("old text not found in %s", path),
			ErrorType: model.ErrorTypeTextNotFound,
		}, nil
	}

	content = strings.Replace(content, search, replace, 1)
	if err := file.WriteAtomic(p, []byte(content), 0o644); err != nil {
		return fsFailure(err), nil
	}

	return &tool.Result{Success: true, Result: fmt.Sprintf("edited %s", path)}, nil
}

// ListDirectory returns the entries of `path` sorted by name.
func (t *Tools) ListDirectory(_ context.Context, params map[string]any) (*tool.Result, error) {
	path := tool.StringParam(params, "path")
	if path == "" {
		path = "."
	}

	entries, err := os.ReadDir(t.path(path))
	if err != nil {
		return fsFailure(err), nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	out := make([]any, 0, len(entries))
	for _, e := range entries {
		item := map[string]any{"name": e.Name(), "type": entryType(e.IsDir())}
		if info, err := e.Info(); err == nil && !e.IsDir() {
			item["size"] = float64(info.Size())
		}
		out = append(out, item)
	}

	return &tool.Result{Success: true, Result: out}, nil
}

// CreateDirectory creates `path` and its parents.
func (t *Tools) CreateDirectory(_ context.Context, params map[string]any) (*tool.Result, error) {
	path := tool.StringParam(params, "path")
	if path == "" {
		return missingParam("path"), nil
	}

	if err := os.MkdirAll(t.path(path), 0o755); err != nil {
		return fsFailure(err), nil
	}

	return &tool.Result{Success: true, Result: fmt.Sprintf("created directory %s", path)}, nil
}

// DeleteFile removes a file or an empty directory.
func (t *Tools) DeleteFile(_ context.Context, params map[string]any) (*tool.Result, error) {
	path := tool.StringParam(params, "path")
	if path == "" {
		return missingParam("path"), nil
	}

	if err := os.Remove(t.path(path)); err != nil {
		return fsFailure(err), nil
	}

	return &tool.Result{Success: true, Result: fmt.Sprintf("deleted %s", path)}, nil
}

// FileExists returns `{exists, type}` of `path`, a missing path is not a failure.
func (t *Tools) FileExists(_ context.Context, params map[string]any) (*tool.Result, error) {
	path := tool.StringParam(params, "path")
	if path == "" {
		return missingParam("path"), nil
	}

	info, err := os.Stat(t.path(path))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &tool.Result{Success: true, Result: map[string]any{"exists": false, "type": ""}}, nil
	case err != nil:
		return fsFailure(err), nil
	}

	return &tool.Result{Success: true, Result: map[string]any{"exists": true, "type": entryType(info.IsDir())}}, nil
}

func (t *Tools) path(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(t.workDir, p)
}

func entryType(dir bool) string {
	if dir {
		return "directory"
	}
	return "file"
}

func missingParam(name string) *tool.Result {
	return &tool.Result{
		Success:   false,
		Error:     fmt.Sprintf("param %q is required", name),
		ErrorType: model.ErrorTypeNotValid,
	}
}

func fsFailure(err error) *tool.Result {
	res := &tool.Result{Success: false, Error: err.Error()}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		res.ErrorType = model.ErrorTypeNotFound
	case errors.Is(err, fs.ErrPermission):
		res.ErrorType = model.ErrorTypePermission
	}
	return res
}
