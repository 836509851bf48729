// Package sshexec opens SSH sessions to registered servers and runs commands over them.
package sshexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oar-cd/moor/domain"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultCommandTimeout = 30 * time.Second
)

// ErrCommandTimeout is returned when a command outlives its timeout
var ErrCommandTimeout = errors.New("command timeout")

// ConnectionInfo holds plaintext credentials. It is built from decrypted server records and never persisted.
type ConnectionInfo struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	PrivateKey string `json:"privateKey,omitempty"`
	Password   string `json:"password,omitempty"`
}

func (c ConnectionInfo) Address() string {
	port := c.Port
	if port == 0 {
		port = domain.DefaultSSHPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// CommandError describes a command that exited with a non-zero status
type CommandError struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *CommandError) Error() string {
	output := e.Stderr
	if output == "" {
		output = e.Stdout
	}
	return fmt.Sprintf("command failed with code %d: %s", e.ExitCode, output)
}

// CommandResult is the full outcome of a command that ran to completion
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

type Options struct {
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	// KnownHostsPath enables host key verification when set
	KnownHostsPath string
}

// Session is one authenticated SSH connection
type Session struct {
	Address string

	client    *ssh.Client
	closeOnce sync.Once
}

type Executor struct {
	opts Options
}

func NewExecutor(opts Options) *Executor {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	return &Executor{opts: opts}
}

// Connect dials the server and authenticates, trying the private key before the password
func (e *Executor) Connect(ctx context.Context, info ConnectionInfo) (*Session, error) {
	if info.Host == "" {
		return nil, domain.Validation("ssh_connect", "host is required")
	}
	if info.Username == "" {
		return nil, domain.Validation("ssh_connect", "username is required")
	}
	if info.PrivateKey == "" && info.Password == "" {
		return nil, domain.Validation("ssh_connect", "either private key or password is required")
	}

	var auth []ssh.AuthMethod
	if info.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(info.PrivateKey))
		if err != nil {
			return nil, domain.Validation("ssh_connect", "invalid private key: %v", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if info.Password != "" {
		auth = append(auth, ssh.Password(info.Password))
	}

	hostKeyCallback, err := e.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	addr := info.Address()
	config := &ssh.ClientConfig{
		User:            info.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         e.opts.ConnectTimeout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, e.opts.ConnectTimeout)
	defer cancel()

	dialer := net.Dialer{Timeout: e.opts.ConnectTimeout}
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		slog.Error("SSH connection failed",
			"layer", "ssh",
			"operation", "connect",
			"address", addr,
			"error", err)
		return nil, domain.External("ssh_connect", fmt.Sprintf("failed to connect to %s", addr), err)
	}

	// The handshake shares the connect deadline
	deadline, _ := dialCtx.Deadline()
	_ = conn.SetDeadline(deadline)

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		slog.Error("SSH handshake failed",
			"layer", "ssh",
			"operation", "connect",
			"address", addr,
			"error", err)
		return nil, domain.External("ssh_connect", fmt.Sprintf("failed to connect to %s", addr), err)
	}
	_ = conn.SetDeadline(time.Time{})

	slog.Debug("SSH connected", "layer", "ssh", "operation", "connect", "address", addr)

	return &Session{
		Address: addr,
		client:  ssh.NewClient(sshConn, chans, reqs),
	}, nil
}

func (e *Executor) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if e.opts.KnownHostsPath == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	callback, err := knownhosts.New(e.opts.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts %s: %w", e.opts.KnownHostsPath, err)
	}
	return callback, nil
}

// Execute runs cmd and returns its trimmed stdout. A non-zero exit yields *CommandError.
func (e *Executor) Execute(ctx context.Context, s *Session, cmd string, timeout time.Duration) (string, error) {
	result, err := e.ExecuteDetailed(ctx, s, cmd, timeout)
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", &CommandError{
			Command:  cmd,
			ExitCode: result.ExitCode,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
		}
	}
	return result.Stdout, nil
}

// ExecuteDetailed runs cmd and reports its exit code as data. The error covers transport
// failures, cancellation and ErrCommandTimeout only.
func (e *Executor) ExecuteDetailed(ctx context.Context, s *Session, cmd string, timeout time.Duration) (CommandResult, error) {
	if s == nil || s.client == nil {
		return CommandResult{}, errors.New("ssh session is not connected")
	}
	if timeout <= 0 {
		timeout = e.opts.CommandTimeout
	}

	sess, err := s.client.NewSession()
	if err != nil {
		return CommandResult{}, fmt.Errorf("failed to open session on %s: %w", s.Address, err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- sess.Run(cmd)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case runErr := <-done:
		result := CommandResult{
			Stdout: strings.TrimSpace(stdout.String()),
			Stderr: strings.TrimSpace(stderr.String()),
		}
		if runErr == nil {
			return result, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		var missing *ssh.ExitMissingError
		if errors.As(runErr, &missing) {
			result.ExitCode = -1
			return result, nil
		}
		return CommandResult{}, fmt.Errorf("failed to run command on %s: %w", s.Address, runErr)

	case <-timer.C:
		_ = sess.Signal(ssh.SIGKILL)
		slog.Warn("SSH command timed out",
			"layer", "ssh",
			"operation", "execute",
			"address", s.Address,
			"command", cmd,
			"timeout", timeout)
		return CommandResult{}, fmt.Errorf("%w after %s: %s", ErrCommandTimeout, timeout, cmd)

	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		return CommandResult{}, ctx.Err()
	}
}

// ExecuteSafe runs cmd and returns "" on any failure
func (e *Executor) ExecuteSafe(ctx context.Context, s *Session, cmd string, timeout time.Duration) string {
	out, err := e.Execute(ctx, s, cmd, timeout)
	if err != nil {
		slog.Debug("Command failed (safe mode)",
			"layer", "ssh",
			"operation", "execute_safe",
			"command", cmd,
			"error", err)
		return ""
	}
	return out
}

// Disconnect closes the session. Calling it more than once is a no-op.
func (e *Executor) Disconnect(s *Session) {
	if s == nil || s.client == nil {
		return
	}
	s.closeOnce.Do(func() {
		if err := s.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			slog.Debug("SSH close returned error", "layer", "ssh", "address", s.Address, "error", err)
		}
		slog.Debug("SSH connection closed", "layer", "ssh", "address", s.Address)
	})
}

// Runner binds an executor to one session
type Runner struct {
	executor *Executor
	session  *Session
}

func (e *Executor) Runner(s *Session) *Runner {
	return &Runner{executor: e, session: s}
}

func (r *Runner) Execute(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	return r.executor.Execute(ctx, r.session, cmd, timeout)
}

func (r *Runner) ExecuteSafe(ctx context.Context, cmd string, timeout time.Duration) string {
	return r.executor.ExecuteSafe(ctx, r.session, cmd, timeout)
}
