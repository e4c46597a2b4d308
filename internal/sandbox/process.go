package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ProcessSandbox runs each snippet in a fresh interpreter process.
//
// The snippet is written to <dir>/snippet.py and executed with dir as the
// working directory and MPLBACKEND=Agg, so figures land next to it.
// Interpreter globals do not survive between executions; generated code
// reloads its data each time.
type ProcessSandbox struct {
	dir     string
	python  string
	timeout time.Duration
}

// ProcessFactory returns a Factory building ProcessSandboxes.
func ProcessFactory(python string, timeout time.Duration) Factory {
	return func(dir string) Sandbox {
		return &ProcessSandbox{dir: dir, python: python, timeout: timeout}
	}
}

// Dir implements Sandbox.
func (s *ProcessSandbox) Dir() string {
	return s.dir
}

// Exec implements Sandbox.
func (s *ProcessSandbox) Exec(ctx context.Context, code string) (Result, error) {
	script := filepath.Join(s.dir, "snippet.py")
	if err := os.WriteFile(script, []byte(code), 0o644); err != nil {
		return Result{}, fmt.Errorf("write snippet: %w", err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, s.python, script)
	cmd.Dir = s.dir
	cmd.Env = append(cmd.Environ(), "MPLBACKEND=Agg", "PYTHONIOENCODING=utf-8")
	cmd.WaitDelay = 500 * time.Millisecond

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	started := time.Now()
	err := cmd.Run()
	res := Result{Output: strings.TrimSpace(out.String()), Duration: time.Since(started)}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.Failed = strings.Contains(res.Output, "Traceback")
		if res.Output == "" {
			res.Output = "Success"
		}
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.Failed = true
		res.Output = strings.TrimSpace(fmt.Sprintf("execution timed out after %v\n%s", s.timeout, res.Output))
	case errors.As(err, &exitErr):
		res.Failed = true
	default:
		return res, fmt.Errorf("run %s: %w", s.python, err)
	}
	return res, nil
}

// Reset implements Sandbox.
func (s *ProcessSandbox) Reset() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
