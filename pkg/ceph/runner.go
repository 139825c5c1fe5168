// Package ceph runs the ceph, rados and rbd command line tools on behalf of
// the coordination store and the snapshot backend.
package ceph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// errno values the ceph tools surface as exit codes
const (
	exitNotFound = 2  // ENOENT
	exitBusy     = 16 // EBUSY
	exitExists   = 17 // EEXIST
)

// Runner executes a single command and returns its captured output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout []byte, err error)
}

// CommandError describes a command that exited non-zero.
type CommandError struct {
	Cmd      string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command `%s` failed (exit %d): %s", e.Cmd, e.ExitCode, strings.TrimSpace(e.Stderr))
}

// IsNotFound reports whether err is a ceph "does not exist" failure.
func IsNotFound(err error) bool {
	var cerr *CommandError
	if !errors.As(err, &cerr) {
		return false
	}
	if cerr.ExitCode == exitNotFound {
		return true
	}
	msg := strings.ToLower(cerr.Stderr)
	return strings.Contains(msg, "doesn't exist") ||
		strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "no such file or directory")
}

// IsBusy reports whether err is an EBUSY/EEXIST failure, which is how
// cls_lock refuses a lock somebody else holds.
func IsBusy(err error) bool {
	var cerr *CommandError
	if !errors.As(err, &cerr) {
		return false
	}
	if cerr.ExitCode == exitBusy || cerr.ExitCode == exitExists {
		return true
	}
	msg := strings.ToLower(cerr.Stderr)
	return strings.Contains(msg, "device or resource busy") || strings.Contains(msg, "file exists")
}

// Config holds the connection arguments shared by every ceph/rbd invocation.
type Config struct {
	CephBinary  string
	RadosBinary string
	RBDBinary   string
	ConfPath   string
	ClientID   string
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	logger hclog.Logger
}

func NewExecRunner(logger hclog.Logger) *ExecRunner {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &ExecRunner{logger: logger}
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmdline := strings.Join(append([]string{name}, args...), " ")
	r.logger.Trace("running command", "cmd", cmdline)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), &CommandError{
				Cmd:      cmdline,
				ExitCode: exitErr.ExitCode(),
				Stderr:   stderr.String(),
			}
		}
		return stdout.Bytes(), fmt.Errorf("run `%s`: %w", cmdline, err)
	}

	return stdout.Bytes(), nil
}

// Client binds a Runner to the configured binaries and connection flags.
type Client struct {
	runner Runner
	cfg    Config
}

func NewClient(runner Runner, cfg Config) *Client {
	if cfg.CephBinary == "" {
		cfg.CephBinary = "ceph"
	}
	if cfg.RadosBinary == "" {
		cfg.RadosBinary = "rados"
	}
	if cfg.RBDBinary == "" {
		cfg.RBDBinary = "rbd"
	}
	return &Client{runner: runner, cfg: cfg}
}

func (c *Client) connArgs() []string {
	var args []string
	if c.cfg.ConfPath != "" {
		args = append(args, "--conf", c.cfg.ConfPath)
	}
	if c.cfg.ClientID != "" {
		args = append(args, "--id", c.cfg.ClientID)
	}
	return args
}

// Ceph runs the ceph binary with the connection flags prepended.
func (c *Client) Ceph(ctx context.Context, args ...string) ([]byte, error) {
	return c.runner.Run(ctx, c.cfg.CephBinary, append(c.connArgs(), args...)...)
}

// Rados runs the rados binary with the connection flags prepended.
func (c *Client) Rados(ctx context.Context, args ...string) ([]byte, error) {
	return c.runner.Run(ctx, c.cfg.RadosBinary, append(c.connArgs(), args...)...)
}

// RBD runs the rbd binary with the connection flags prepended.
func (c *Client) RBD(ctx context.Context, args ...string) ([]byte, error) {
	return c.runner.Run(ctx, c.cfg.RBDBinary, append(c.connArgs(), args...)...)
}
