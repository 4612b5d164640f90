// Package command runs the shell commands that tell the nameserver daemon
// about added, reloaded and deleted zones.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/csmith/mydnshost-api/internal/core/ports"
)

// Templates hold one command per operation. Each is a format string where
// %[1]s is the zone name, %[2]s the zone file and %[3]s the semicolon
// separated allow-transfer addresses. An empty template disables that
// operation.
type Templates struct {
	Add    string
	Reload string
	Delete string
}

// Runner implements ports.ZoneCommander by running templates through
// /bin/sh.
type Runner struct {
	templates Templates
	shell     string
	timeout   time.Duration
	logger    *slog.Logger
}

func NewRunner(templates Templates, timeout time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		templates: templates,
		shell:     "/bin/sh",
		timeout:   timeout,
		logger:    logger,
	}
}

func (r *Runner) AddZone(ctx context.Context, zone, file string, allowTransfer []string) ports.CommandResult {
	return r.run(ctx, r.templates.Add, zone, file, allowTransfer)
}

func (r *Runner) ReloadZone(ctx context.Context, zone, file string) ports.CommandResult {
	return r.run(ctx, r.templates.Reload, zone, file, nil)
}

func (r *Runner) DeleteZone(ctx context.Context, zone, file string) ports.CommandResult {
	return r.run(ctx, r.templates.Delete, zone, file, nil)
}

// Render expands a template. Templates without verbs are returned unchanged;
// templates using verbs must index them explicitly.
func Render(template, zone, file string, allowTransfer []string) string {
	if !strings.Contains(template, "%") {
		return template
	}
	return fmt.Sprintf(template, zone, file, strings.Join(allowTransfer, ";"))
}

func (r *Runner) run(ctx context.Context, template, zone, file string, allowTransfer []string) ports.CommandResult {
	if strings.TrimSpace(template) == "" {
		return ports.CommandResult{Skipped: true}
	}

	cmdline := Render(template, zone, file, allowTransfer)
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, r.shell, "-c", cmdline)
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	res := ports.CommandResult{
		Command:  cmdline,
		Output:   strings.TrimSpace(out.String()),
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		if ctx.Err() != nil {
			res.Err = ctx.Err()
		}
	default:
		res.ExitCode = -1
		res.Err = err
	}

	r.logger.Debug("command finished", "command", cmdline, "exit_code", res.ExitCode, "duration", res.Duration)
	return res
}
