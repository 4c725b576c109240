package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	apperrors "sensor-agent/errors"

	"go.uber.org/zap"
)

// LocalOptions configures a Local sandbox.
type LocalOptions struct {
	// WorkDir is the run directory code executes in.
	WorkDir string
	// PythonCommand is the interpreter used for python blocks (default python3).
	PythonCommand string
	// ProvisionVenv installs a package-isolated environment under VenvDir
	// before the first execution.
	ProvisionVenv bool
	// VenvDir is where the shared virtual environment lives.
	VenvDir string
	// VenvPackages is the space-separated pip install list for provisioning.
	VenvPackages string
}

// Local executes code blocks as subprocesses rooted at the run directory.
type Local struct {
	opts    LocalOptions
	python  string
	started bool
	logger  *zap.Logger
}

func NewLocal(opts LocalOptions, logger *zap.Logger) *Local {
	if opts.PythonCommand == "" {
		opts.PythonCommand = "python3"
	}
	return &Local{
		opts:   opts,
		python: opts.PythonCommand,
		logger: logger,
	}
}

// Start brings the sandbox to a ready state: verifies the working directory
// and, when configured, provisions the virtual environment. A failure here is
// run-fatal for the caller.
func (l *Local) Start(ctx context.Context) error {
	info, err := os.Stat(l.opts.WorkDir)
	if err != nil || !info.IsDir() {
		return apperrors.WrapErrorf(apperrors.ErrSandboxStart, "work dir %q unavailable", l.opts.WorkDir)
	}

	if l.opts.ProvisionVenv {
		if err := l.provisionVenv(ctx); err != nil {
			// Provisioning failure degrades to the system interpreter rather
			// than aborting the run.
			l.logger.Warn("Virtual environment provisioning failed, using system interpreter",
				zap.Error(err))
		}
	}

	l.started = true
	l.logger.Debug("Sandbox ready", zap.String("work_dir", l.opts.WorkDir))
	return nil
}

func (l *Local) provisionVenv(ctx context.Context) error {
	venvPython := filepath.Join(l.opts.VenvDir, "bin", "python")
	if _, err := os.Stat(venvPython); err != nil {
		cmd := exec.CommandContext(ctx, l.opts.PythonCommand, "-m", "venv", l.opts.VenvDir)
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("create venv: %w: %s", err, strings.TrimSpace(string(out)))
		}
		if pkgs := strings.Fields(l.opts.VenvPackages); len(pkgs) > 0 {
			args := append([]string{"-m", "pip", "install"}, pkgs...)
			cmd := exec.CommandContext(ctx, venvPython, args...)
			if out, err := cmd.CombinedOutput(); err != nil {
				return fmt.Errorf("pip install: %w: %s", err, strings.TrimSpace(string(out)))
			}
		}
	}
	l.python = venvPython
	l.logger.Info("Virtual environment ready", zap.String("venv_dir", l.opts.VenvDir))
	return nil
}

// Execute runs each block in order in the working directory and returns the
// combined stdout/stderr plus the exit status of the last block. A non-zero
// exit stops the sequence.
func (l *Local) Execute(ctx context.Context, blocks []CodeBlock) (Result, error) {
	if !l.started {
		return Result{}, apperrors.WrapError(apperrors.ErrCodeExecution, "sandbox not started")
	}

	var combined bytes.Buffer
	exitCode := 0
	for _, block := range blocks {
		cmd, err := l.command(ctx, block)
		if err != nil {
			return Result{Output: combined.String(), ExitCode: 1}, err
		}
		cmd.Dir = l.opts.WorkDir
		cmd.Stdout = &combined
		cmd.Stderr = &combined

		if err := cmd.Run(); err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
				break
			}
			return Result{Output: combined.String(), ExitCode: 1},
				apperrors.WrapError(apperrors.ErrCodeExecution, err.Error())
		}
	}
	return Result{Output: combined.String(), ExitCode: exitCode}, nil
}

func (l *Local) command(ctx context.Context, block CodeBlock) (*exec.Cmd, error) {
	switch strings.ToLower(block.Language) {
	case "python", "python3", "py":
		return exec.CommandContext(ctx, l.python, "-c", block.Code), nil
	case "bash", "sh", "shell":
		return exec.CommandContext(ctx, "bash", "-c", block.Code), nil
	default:
		return nil, apperrors.WrapErrorf(apperrors.ErrCodeExecution, "unsupported code language %q", block.Language)
	}
}

// Stop tears the environment down. The shared venv is kept for reuse across
// runs; per-run state lives in the run directory, which the workspace manager
// removes.
func (l *Local) Stop(ctx context.Context) error {
	l.started = false
	l.logger.Debug("Sandbox stopped", zap.String("work_dir", l.opts.WorkDir))
	return nil
}
