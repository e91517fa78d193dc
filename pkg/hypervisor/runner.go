package hypervisor

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/text/encoding/unicode"
)

// Runner executes a PowerShell script and returns its standard output.
type Runner interface {
	Run(ctx context.Context, script string) ([]byte, error)
}

// newRunner picks the SSH runner when a remote host is configured.
func newRunner(opts Options) (Runner, error) {
	if opts.SSH.Host != "" {
		return newSSHRunner(opts.PowerShell, opts.SSH)
	}
	return &execRunner{powershell: opts.PowerShell}, nil
}

// encodeCommand encodes a script for powershell -EncodedCommand (UTF-16LE, base64).
func encodeCommand(script string) (string, error) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	utf16, err := enc.String(script)
	if err != nil {
		return "", fmt.Errorf("encode script: %w", err)
	}
	return base64.StdEncoding.EncodeToString([]byte(utf16)), nil
}

func powershellArgs(encoded string) []string {
	return []string{"-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass", "-EncodedCommand", encoded}
}

// scriptError formats a failed script run, preferring PowerShell's own message.
func scriptError(stderr []byte, err error) error {
	msg := strings.TrimSpace(string(stderr))
	if msg == "" {
		return fmt.Errorf("powershell: %w", err)
	}
	return fmt.Errorf("powershell: %s: %w", msg, err)
}

// execRunner runs PowerShell on this machine.
type execRunner struct {
	powershell string
}

func (r *execRunner) Run(ctx context.Context, script string) ([]byte, error) {
	encoded, err := encodeCommand(script)
	if err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.powershell, powershellArgs(encoded)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, scriptError(stderr.Bytes(), err)
	}
	return stdout.Bytes(), nil
}

// sshRunner runs PowerShell on a remote Hyper-V host over SSH.
// One connection is shared; every script gets its own session.
type sshRunner struct {
	powershell string
	addr       string
	config     *ssh.ClientConfig

	mu     sync.Mutex
	client *ssh.Client
}

func newSSHRunner(powershell string, opts SSHOptions) (*sshRunner, error) {
	key, err := os.ReadFile(opts.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if opts.KnownHosts != "" {
		hostKeyCallback, err = knownhosts.New(opts.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
	}

	return &sshRunner{
		powershell: powershell,
		addr:       net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		config: &ssh.ClientConfig{
			User:            opts.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
		},
	}, nil
}

func (r *sshRunner) dial() (*ssh.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return r.client, nil
	}
	client, err := ssh.Dial("tcp", r.addr, r.config)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", r.addr, err)
	}
	r.client = client
	return client, nil
}

func (r *sshRunner) Run(ctx context.Context, script string) ([]byte, error) {
	encoded, err := encodeCommand(script)
	if err != nil {
		return nil, err
	}

	client, err := r.dial()
	if err != nil {
		return nil, err
	}
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	command := r.powershell + " " + strings.Join(powershellArgs(encoded), " ")
	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		// Best effort: not every sshd honours signals.
		_ = session.Signal(ssh.SIGKILL)
		session.Close()
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			return nil, scriptError(stderr.Bytes(), err)
		}
		return stdout.Bytes(), nil
	}
}

// Close closes the shared SSH connection.
func (r *sshRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}
