// Package engine talks to the external analysis/rendering/solving worker.
package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Result is the outcome of a finished worker invocation.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner invokes the worker. A non-zero exit is reported through
// Result.ExitCode; the error is reserved for failures to start or talk to
// the process.
type Runner interface {
	// Run blocks until the worker exits and returns its buffered output.
	Run(ctx context.Context, args, env []string) (Result, error)
	// Stream calls onLine for every stdout line as it arrives. The returned
	// Result has an empty Stdout.
	Stream(ctx context.Context, args, env []string, onLine func(line []byte)) (Result, error)
}

// TransportError is returned when the worker cannot be spawned or its pipes
// fail.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "engine " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ExitError is returned when the worker exits with a non-zero status.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("engine exited with status %d", e.Code)
	}
	return fmt.Sprintf("engine exited with status %d: %s", e.Code, msg)
}

// ProcessRunner runs the worker as a child process.
type ProcessRunner struct {
	// Path is the worker executable.
	Path string
	// Args are prepended to every invocation, e.g. a script path.
	Args []string
	// Env is added to the parent environment for every invocation.
	Env []string
	Dir string
}

// NewProcessRunner returns a runner for the worker at path.
func NewProcessRunner(path string, args ...string) *ProcessRunner {
	return &ProcessRunner{Path: path, Args: args}
}

func (r *ProcessRunner) command(ctx context.Context, args, env []string) *exec.Cmd {
	full := append(append([]string{}, r.Args...), args...)
	cmd := exec.CommandContext(ctx, r.Path, full...)
	cmd.Env = append(append(os.Environ(), r.Env...), env...)
	cmd.Dir = r.Dir
	return cmd
}

// Run implements Runner.
func (r *ProcessRunner) Run(ctx context.Context, args, env []string) (Result, error) {
	cmd := r.command(ctx, args, env)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := Result{Stdout: out.Bytes(), Stderr: stderr.Bytes()}
	return exitResult(res, err)
}

// Stream implements Runner.
func (r *ProcessRunner) Stream(ctx context.Context, args, env []string, onLine func([]byte)) (Result, error) {
	cmd := r.command(ctx, args, env)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, &TransportError{Op: "stdout pipe", Err: err}
	}
	if err := cmd.Start(); err != nil {
		return Result{}, &TransportError{Op: "start", Err: err}
	}

	// Lines can carry inline images, so read without a line length cap.
	br := bufio.NewReader(stdout)
	var readErr error
	for {
		line, err := br.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			onLine(bytes.TrimRight(line, "\r\n"))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
	}

	err = cmd.Wait()
	res := Result{Stderr: stderr.Bytes()}
	if readErr != nil && err == nil {
		return res, &TransportError{Op: "read stdout", Err: readErr}
	}
	return exitResult(res, err)
}

func exitResult(res Result, err error) (Result, error) {
	if err == nil {
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, &TransportError{Op: "run", Err: err}
}
