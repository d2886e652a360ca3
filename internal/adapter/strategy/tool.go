package strategy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/semmidev/dbvault/internal/domain"
)

// toolCmd describes one invocation of an external dump or restore binary.
type toolCmd struct {
	name   string
	args   []string
	env    []string
	stdin  io.Reader
	stdout io.Writer
}

func (c toolCmd) run(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.name, c.args...)
	cmd.Env = append(os.Environ(), c.env...)
	cmd.Stdin = c.stdin

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if c.stdout != nil {
		cmd.Stdout = c.stdout
	} else {
		cmd.Stdout = &stderr
	}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s interrupted: %w", c.name, ctx.Err())
		}
		return fmt.Errorf("%s failed: %w, output: %s", c.name, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// runToFile runs c with stdout redirected into path, removing path on failure.
func (c toolCmd) runToFile(ctx context.Context, path string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	c.stdout = out
	runErr := c.run(ctx)
	closeErr := out.Close()
	if runErr != nil {
		os.Remove(path)
		return runErr
	}
	if closeErr != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write backup file: %w", closeErr)
	}
	return nil
}

// runFromFile runs c with path as stdin.
func (c toolCmd) runFromFile(ctx context.Context, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open backup file: %w", err)
	}
	defer in.Close()
	c.stdin = in
	return c.run(ctx)
}

func hostPortArgs(cfg domain.ConnectionConfig) []string {
	return []string{
		"--host=" + cfg.HostOrDefault(),
		"--port=" + strconv.Itoa(cfg.PortOrDefault()),
	}
}

// cleanupOnError removes a partially written artifact.
func cleanupOnError(path string, err *error) {
	if *err != nil {
		os.Remove(path)
	}
}
