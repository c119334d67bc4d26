// Package remote opens SSH sessions on the pivot host.
//
// Lab hosts are recreated on every provisioning cycle, so host keys are not
// verified unless the caller supplies a HostKeyCallback.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"

	"github.com/labforge/labctl/internal/logging"
	"github.com/labforge/labctl/internal/runner"
)

const (
	defaultPort        = 22
	defaultDialTimeout = 10 * time.Second
	defaultTerm        = "xterm-256color"
)

// Config holds SSH client configuration.
type Config struct {
	Host       string
	Port       int
	User       string
	PrivateKey []byte
	Passphrase string

	// DialTimeout bounds the TCP connection attempt.
	DialTimeout time.Duration

	HostKeyCallback ssh.HostKeyCallback
}

// Client runs commands and shells on one host.
type Client struct {
	config Config
	signer ssh.Signer
}

// NewClient validates cfg and parses the private key.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("config host cannot be empty")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("config user cannot be empty")
	}
	if len(cfg.PrivateKey) == 0 {
		return nil, fmt.Errorf("config private key cannot be empty")
	}

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.HostKeyCallback == nil {
		cfg.HostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // lab hosts are ephemeral
	}

	var (
		signer ssh.Signer
		err    error
	)
	if cfg.Passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(cfg.PrivateKey, []byte(cfg.Passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(cfg.PrivateKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &Client{config: cfg, signer: signer}, nil
}

// Address is the host:port the client dials.
func (c *Client) Address() string {
	return net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
}

func (c *Client) connect(ctx context.Context) (*ssh.Client, error) {
	clientConfig := &ssh.ClientConfig{
		User:            c.config.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(c.signer)},
		HostKeyCallback: c.config.HostKeyCallback,
		Timeout:         c.config.DialTimeout,
	}
	addr := c.Address()

	dialer := net.Dialer{Timeout: c.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to establish SSH connection to %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to establish SSH connection to %s: %w", addr, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// Execute runs command and returns its combined output. A non-zero remote
// exit status is reported as a *runner.CallError carrying that status.
func (c *Client) Execute(ctx context.Context, command string) (string, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create SSH session on %s: %w", c.config.Host, err)
	}
	defer func() { _ = session.Close() }()

	logging.Debug("running remote command", "host", c.config.Host, "command", command)
	output, err := session.CombinedOutput(command)
	if err != nil {
		return string(output), c.callError(command, string(output), err)
	}
	return string(output), nil
}

// Shell starts an interactive login shell wired to the given streams. When
// in is a terminal it is switched to raw mode and a PTY of matching size is
// requested for the session.
func (c *Client) Shell(ctx context.Context, in *os.File, out, errOut io.Writer) error {
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create SSH session on %s: %w", c.config.Host, err)
	}
	defer func() { _ = session.Close() }()

	session.Stdin = in
	session.Stdout = out
	session.Stderr = errOut

	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("failed to set terminal to raw mode: %w", err)
		}
		defer func() { _ = term.Restore(fd, oldState) }()

		width, height, err := term.GetSize(fd)
		if err != nil {
			width, height = 80, 24
		}
		modes := ssh.TerminalModes{
			ssh.ECHO:          1,
			ssh.TTY_OP_ISPEED: 14400,
			ssh.TTY_OP_OSPEED: 14400,
		}
		termType := os.Getenv("TERM")
		if termType == "" {
			termType = defaultTerm
		}
		if err := session.RequestPty(termType, height, width, modes); err != nil {
			return fmt.Errorf("failed to request pty: %w", err)
		}
	}

	if err := session.Shell(); err != nil {
		return fmt.Errorf("failed to start remote shell: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return c.callError("shell", "", err)
		}
		return nil
	}
}

func (c *Client) callError(command, output string, err error) error {
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return &runner.CallError{
			Command:  fmt.Sprintf("ssh %s@%s %s", c.config.User, c.config.Host, command),
			ExitCode: exitErr.ExitStatus(),
			Stderr:   output,
			Err:      err,
		}
	}
	return fmt.Errorf("command failed on %s: %w", c.config.Host, err)
}
