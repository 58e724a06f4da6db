package flow

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/valyala/fasttemplate"
)

// Task is one keyed instance of a process: the concrete input files bound to
// each in port for one run key, plus the output paths derived from them.
type Task struct {
	Process  *Process
	Key      string
	InPaths  map[string]string
	OutPaths map[string]string

	LogFile string
	command string
}

// InPath returns the input file bound to the named in port.
func (t *Task) InPath(port string) string { return t.InPaths[port] }

// OutPath returns the final output path for the named out port.
func (t *Task) OutPath(port string) string { return t.OutPaths[port] }

// tempPath is the path a tool writes to before the task atomically renames
// it to the final path on success. This keeps half-written files from ever
// being visible under a declared output name.
func tempPath(path string) string { return path + ".tmp" }

// renderCommand substitutes every {i:port}, {o:port} and {key} token in the
// process command template. Input and key tokens expand to their bound values
// verbatim; output tokens expand to the temporary path for the port.
func (t *Task) renderCommand() (string, error) {
	tpl := fasttemplate.New(t.Process.cmdTpl, "{", "}")
	var tagErr error
	cmd := tpl.ExecuteFuncString(func(w io.Writer, tag string) (int, error) {
		switch {
		case tag == "key":
			return w.Write([]byte(t.Key))
		case strings.HasPrefix(tag, "i:"):
			path, ok := t.InPaths[tag[2:]]
			if !ok {
				tagErr = fmt.Errorf("no input bound for port %q", tag[2:])
				return 0, nil
			}
			return w.Write([]byte(path))
		case strings.HasPrefix(tag, "o:"):
			path, ok := t.OutPaths[tag[2:]]
			if !ok {
				tagErr = fmt.Errorf("no path set for out port %q", tag[2:])
				return 0, nil
			}
			return w.Write([]byte(tempPath(path)))
		}
		tagErr = fmt.Errorf("unknown template token {%s}", tag)
		return 0, nil
	})
	if tagErr != nil {
		return "", fmt.Errorf("stage %s, key %q: %w", t.Process.name, t.Key, tagErr)
	}
	return cmd, nil
}

// Execute runs the task's external command and verifies its declared
// outputs. The tool's combined stdout/stderr is streamed to the task log
// file, which is preserved whether the tool succeeds or not.
func (t *Task) Execute(ctx context.Context) error {
	cmd, err := t.renderCommand()
	if err != nil {
		return err
	}
	t.command = cmd

	for _, path := range t.OutPaths {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("stage %s, key %q: %w", t.Process.name, t.Key, err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(t.LogFile), 0o755); err != nil {
		return fmt.Errorf("stage %s, key %q: %w", t.Process.name, t.Key, err)
	}
	logf, err := os.Create(t.LogFile)
	if err != nil {
		return fmt.Errorf("stage %s, key %q: %w", t.Process.name, t.Key, err)
	}
	defer logf.Close()
	fmt.Fprintf(logf, "# stage: %s\n# key: %s\n# command: %s\n", t.Process.name, t.Key, cmd)

	proc := exec.CommandContext(ctx, "bash", "-c", cmd)
	proc.Stdout = logf
	proc.Stderr = logf
	if err := proc.Run(); err != nil {
		exitCode := -1
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
		return &ToolError{Stage: t.Process.name, Key: t.Key, ExitCode: exitCode, LogFile: t.LogFile}
	}

	for port, path := range t.OutPaths {
		tmp := tempPath(path)
		if _, err := os.Stat(tmp); err != nil {
			return &MissingOutputError{Stage: t.Process.name, Key: t.Key, Port: port, Path: path}
		}
		if err := os.Rename(tmp, path); err != nil {
			return fmt.Errorf("stage %s, key %q: %w", t.Process.name, t.Key, err)
		}
	}
	return nil
}

// Command returns the fully rendered command line, available once the task
// has executed.
func (t *Task) Command() string { return t.command }
