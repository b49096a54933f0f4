package ssh

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/slok/stepflow/internal/log"
)

// testSSHServer is an in-process SSH server that runs exec requests with sh.
type testSSHServer struct {
	listener net.Listener
	config   *ssh.ServerConfig
	addr     string
	wg       sync.WaitGroup
}

func newTestSSHServer(t *testing.T, privKeyBytes []byte) *testSSHServer {
	t.Helper()

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, nil
		},
	}

	signer, err := ssh.ParsePrivateKey(privKeyBytes)
	require.NoError(t, err)
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &testSSHServer{
		listener: listener,
		config:   config,
		addr:     listener.Addr().String(),
	}

	s.wg.Add(1)
	go s.serve()

	return s
}

func (s *testSSHServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *testSSHServer) handleConn(netConn net.Conn) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		go s.handleSession(newChannel)
	}
}

func (s *testSSHServer) handleSession(newChannel ssh.NewChannel) {
	channel, requests, err := newChannel.Accept()
	if err != nil {
		return
	}
	defer channel.Close()

	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
			continue
		}

		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			continue
		}
		if req.WantReply {
			_ = req.Reply(true, nil)
		}

		cmd := exec.Command("sh", "-c", payload.Command)
		cmd.Stdin = channel
		cmd.Stdout = channel
		cmd.Stderr = channel.Stderr()

		var status uint32
		if err := cmd.Run(); err != nil {
			status = 1
			if exitErr, ok := err.(*exec.ExitError); ok {
				status = uint32(exitErr.ExitCode())
			}
		}

		_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
		return
	}
}

func (s *testSSHServer) close() {
	s.listener.Close()
	s.wg.Wait()
}

func testParseHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

// generateTestKeyPair returns a PEM-encoded Ed25519 private key.
func generateTestKeyPair(t *testing.T) []byte {
	t.Helper()

	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	pemBlock, err := ssh.MarshalPrivateKey(privKey, "test-key")
	require.NoError(t, err)

	return pem.EncodeToMemory(pemBlock)
}

func TestNewClient(t *testing.T) {
	privKey := generateTestKeyPair(t)
	server := newTestSSHServer(t, privKey)
	defer server.close()

	host, port := testParseHostPort(t, server.addr)

	tests := map[string]struct {
		cfg    ClientConfig
		expErr bool
	}{
		"Valid config should connect successfully.": {
			cfg: ClientConfig{Host: host, Port: port, User: "deploy", PrivateKey: privKey, Logger: log.Noop},
		},
		"Missing user should default to root.": {
			cfg: ClientConfig{Host: host, Port: port, PrivateKey: privKey},
		},
		"Missing host should fail.": {
			cfg:    ClientConfig{PrivateKey: privKey},
			expErr: true,
		},
		"Missing private key should fail.": {
			cfg:    ClientConfig{Host: host, Port: port},
			expErr: true,
		},
		"Invalid private key should fail.": {
			cfg:    ClientConfig{Host: host, Port: port, PrivateKey: []byte("not-a-key")},
			expErr: true,
		},
		"Connection to non-existent host should fail.": {
			cfg: ClientConfig{
				Host:           "192.0.2.1", // RFC 5737 TEST-NET.
				PrivateKey:     privKey,
				ConnectTimeout: 1 * time.Second,
			},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			client, err := NewClient(ctx, test.cfg)
			if test.expErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.NoError(t, client.Close())
		})
	}
}

func TestClientExec(t *testing.T) {
	privKey := generateTestKeyPair(t)
	server := newTestSSHServer(t, privKey)
	defer server.close()

	host, port := testParseHostPort(t, server.addr)

	tests := map[string]struct {
		command     string
		opts        ExecOpts
		expExitCode int
		expStdout   string
		expStderr   string
	}{
		"Simple echo should return exit code 0 and output.": {
			command:   "echo hello world",
			expStdout: "hello world\n",
		},
		"Failed command should return non-zero exit code.": {
			command:     "exit 42",
			expExitCode: 42,
		},
		"Command with stderr should capture stderr.": {
			command:   "echo error >&2",
			expStderr: "error\n",
		},
		"Command reading stdin should work.": {
			command:   "cat",
			opts:      ExecOpts{Stdin: strings.NewReader("from stdin")},
			expStdout: "from stdin",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			client, err := NewClient(ctx, ClientConfig{Host: host, Port: port, PrivateKey: privKey})
			require.NoError(err)
			defer client.Close()

			var stdout, stderr bytes.Buffer
			opts := test.opts
			opts.Stdout = &stdout
			opts.Stderr = &stderr

			exitCode, err := client.Exec(ctx, test.command, opts)
			require.NoError(err)
			assert.Equal(test.expExitCode, exitCode)
			assert.Equal(test.expStdout, stdout.String())
			assert.Equal(test.expStderr, stderr.String())
		})
	}
}

func TestClientExecContextCancellation(t *testing.T) {
	privKey := generateTestKeyPair(t)
	server := newTestSSHServer(t, privKey)
	defer server.close()

	host, port := testParseHostPort(t, server.addr)

	client, err := NewClient(context.Background(), ClientConfig{Host: host, Port: port, PrivateKey: privKey})
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = client.Exec(ctx, "sleep 60", ExecOpts{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunCommandOverSSH(t *testing.T) {
	privKey := generateTestKeyPair(t)
	server := newTestSSHServer(t, privKey)
	defer server.close()

	host, port := testParseHostPort(t, server.addr)

	client, err := NewClient(context.Background(), ClientConfig{Host: host, Port: port, PrivateKey: privKey})
	require.NoError(t, err)
	defer client.Close()

	dir := t.TempDir()
	rc, err := NewRunCommand(RunCommandConfig{Client: client, WorkDir: dir})
	require.NoError(t, err)

	res, err := rc.Run(context.Background(), map[string]any{"command": "pwd && echo 'it''s'"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, dir+"\nits\n", res.Result)
}

func TestParseTarget(t *testing.T) {
	tests := map[string]struct {
		target    string
		expTarget Target
		expErr    bool
	}{
		"A host should be parsed.": {
			target:    "example.com",
			expTarget: Target{Host: "example.com"},
		},
		"A user, host and port should be parsed.": {
			target:    "deploy@10.0.0.2:2222",
			expTarget: Target{User: "deploy", Host: "10.0.0.2", Port: 2222},
		},
		"An IPv6 host with port should be parsed.": {
			target:    "[::1]:22",
			expTarget: Target{Host: "::1", Port: 22},
		},
		"An invalid port should fail.": {
			target: "host:99999",
			expErr: true,
		},
		"A missing host should fail.": {
			target: "root@",
			expErr: true,
		},
		"An empty target should fail.": {
			target: "",
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := ParseTarget(test.target)
			if test.expErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expTarget, got)
		})
	}
}

func TestLoadPrivateKey(t *testing.T) {
	privKey := generateTestKeyPair(t)
	p := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(p, privKey, 0o600))

	got, err := LoadPrivateKey(p)
	require.NoError(t, err)
	assert.Equal(t, privKey, got)

	_, err = LoadPrivateKey(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
