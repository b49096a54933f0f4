package ssh

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"k8s.io/client-go/util/homedir"

	"github.com/slok/stepflow/internal/log"
)

const (
	// DefaultSSHPort is the default SSH port.
	DefaultSSHPort = 22
	// DefaultConnectTimeout is the default connection timeout.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultUser is the user used when the target does not set one.
	DefaultUser = "root"
)

// ClientConfig holds the configuration for creating an SSH connection.
type ClientConfig struct {
	// Host is the IP address or hostname of the target.
	Host string
	// Port is the SSH port (default: 22).
	Port int
	// User is the SSH user (default: root).
	User string
	// PrivateKey is the PEM-encoded private key bytes.
	PrivateKey []byte
	// ConnectTimeout is the SSH connection timeout (default: 10s).
	ConnectTimeout time.Duration
	Logger         log.Logger
}

func (c *ClientConfig) defaults() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if len(c.PrivateKey) == 0 {
		return fmt.Errorf("private key is required")
	}
	if c.User == "" {
		c.User = DefaultUser
	}
	if c.Port == 0 {
		c.Port = DefaultSSHPort
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "ssh.Client", "host": c.Host})
	return nil
}

// Client wraps an SSH connection.
type Client struct {
	conn   *ssh.Client
	logger log.Logger
}

// NewClient dials the SSH server and returns a connected client.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid ssh client config: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("could not parse private key: %w", err)
	}

	sshCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         cfg.ConnectTimeout,
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	d := net.Dialer{Timeout: cfg.ConnectTimeout}
	netConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not connect to %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, sshCfg)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("ssh handshake failed with %s: %w", addr, err)
	}

	cfg.Logger.Debugf("Connected to %s as %s", addr, cfg.User)

	return &Client{
		conn:   ssh.NewClient(sshConn, chans, reqs),
		logger: cfg.Logger,
	}, nil
}

// Close closes the SSH connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// ExecOpts are options for command execution.
type ExecOpts struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Exec runs a command on the remote host and returns the exit code.
func (c *Client) Exec(ctx context.Context, command string, opts ExecOpts) (int, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return -1, fmt.Errorf("could not create ssh session: %w", err)
	}
	defer session.Close()

	if opts.Stdin != nil {
		session.Stdin = opts.Stdin
	}
	if opts.Stdout != nil {
		session.Stdout = opts.Stdout
	}
	if opts.Stderr != nil {
		session.Stderr = opts.Stderr
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return -1, ctx.Err()
	case err := <-done:
		if err != nil {
			if exitErr, ok := err.(*ssh.ExitError); ok {
				return exitErr.ExitStatus(), nil
			}
			return -1, fmt.Errorf("command execution failed: %w", err)
		}
		return 0, nil
	}
}

// Target is a parsed `[user@]host[:port]` address.
type Target struct {
	User string
	Host string
	Port int
}

// ParseTarget parses a `[user@]host[:port]` address.
func ParseTarget(s string) (Target, error) {
	var t Target
	if s == "" {
		return t, fmt.Errorf("empty ssh target")
	}

	if i := strings.LastIndex(s, "@"); i >= 0 {
		t.User = s[:i]
		s = s[i+1:]
	}

	host, port, err := net.SplitHostPort(s)
	if err != nil {
		// No port.
		t.Host = strings.Trim(s, "[]")
	} else {
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 || p > 65535 {
			return Target{}, fmt.Errorf("invalid ssh port %q", port)
		}
		t.Host = host
		t.Port = p
	}

	if t.Host == "" {
		return Target{}, fmt.Errorf("ssh target %q has no host", s)
	}
	return t, nil
}

// DefaultKeyPath returns the user private key used when none is set.
func DefaultKeyPath() string {
	return filepath.Join(homedir.HomeDir(), ".ssh", "id_ed25519")
}

// LoadPrivateKey reads a private key, an empty path loads the default key.
func LoadPrivateKey(path string) ([]byte, error) {
	if path == "" {
		path = DefaultKeyPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read private key: %w", err)
	}
	return data, nil
}
