package containers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/datamancy/toolhost/internal/config"
	"github.com/datamancy/toolhost/pkg/hosterror"
)

// runResult carries the outcome of one container run.
type runResult struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration_ns"`
}

// buildRunArgs assembles the docker run invocation for an ephemeral,
// network-less, resource-capped container.
func buildRunArgs(cfg config.ContainersConfig, image string, command []string) []string {
	args := []string{"run", "--rm", "--init", "--network", "none", "--read-only"}

	if cfg.CPULimit != "" {
		args = append(args, "--cpus", cfg.CPULimit)
	}
	if cfg.MemoryLimit != "" {
		args = append(args, "--memory", cfg.MemoryLimit)
	}
	if cfg.PidsLimit > 0 {
		args = append(args, "--pids-limit", fmt.Sprintf("%d", cfg.PidsLimit))
	}

	args = append(args, image)
	return append(args, command...)
}

// runCommand executes the container binary and captures output. It is
// a package variable so tests can intercept the exec boundary.
var runCommand = func(ctx context.Context, binary string, args []string, stdin string) (runResult, error) {
	cmd := exec.CommandContext(ctx, binary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		return runResult{}, hosterror.Timeout("container run exceeded %s", duration.Round(time.Millisecond))
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return runResult{}, hosterror.Backendf("container runtime failed: %v", err)
		}
	}

	return runResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}
