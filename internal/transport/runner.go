// Package transport runs commands on hypervisor hosts, either locally (the
// provisioner running on the host itself) or over SSH.
package transport

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/youssefshx/proxmox-ubuntu-lxc-provisioner/internal/inventory"
)

// Runner executes a single command on a host and returns its combined output.
// Implementations must honor context cancellation.
type Runner interface {
	Run(ctx context.Context, cmd string, args ...string) (string, error)
}

// Source resolves a host name to a Runner. Tests substitute fakes here.
type Source func(host string) (Runner, error)

// InventorySource builds a Source backed by SSH connections from an
// inventory. The special address "local" runs commands in-process.
func InventorySource(inv *inventory.Inventory, timeout time.Duration) Source {
	return func(host string) (Runner, error) {
		entry, ok := inv.Lookup(host)
		if !ok {
			return nil, fmt.Errorf("host %q not present in inventory", host)
		}
		if entry.Address == "local" {
			return LocalRunner{}, nil
		}
		return SSHRunner{
			Host:                        entry.Address,
			Port:                        entry.Port,
			User:                        entry.User,
			KeyPath:                     entry.KeyPath,
			KnownHostsPath:              entry.KnownHostsPath,
			InsecureSkipHostKeyChecking: entry.InsecureSkipHostKeyCheck,
			Timeout:                     timeout,
		}, nil
	}
}

func joinCommand(cmd string, args []string) string {
	if len(args) == 0 {
		return shellEscape(cmd)
	}

	var builder strings.Builder
	builder.WriteString(shellEscape(cmd))
	for _, arg := range args {
		builder.WriteByte(' ')
		builder.WriteString(shellEscape(arg))
	}

	return builder.String()
}

func shellEscape(value string) string {
	if value == "" {
		return "''"
	}

	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

// LocalRunner executes commands on the local machine.
type LocalRunner struct{}

// Run executes the command locally and returns its combined output.
func (LocalRunner) Run(ctx context.Context, cmd string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, cmd, args...).CombinedOutput()
	return string(out), err
}

// SSHRunner executes commands on a remote host over SSH. A fresh connection
// is dialed per command; the per-host serialization upstream keeps the
// connection count bounded.
type SSHRunner struct {
	Host                        string
	Port                        string
	User                        string
	KeyPath                     string
	Passphrase                  []byte
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
	Timeout                     time.Duration
}

// Run dials the host and executes the command in a single session.
func (r SSHRunner) Run(ctx context.Context, cmd string, args ...string) (string, error) {
	client, err := r.dial(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", err
	}
	defer session.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.CombinedOutput(joinCommand(cmd, args))
		done <- result{out, err}
	}()

	select {
	case res := <-done:
		return string(res.out), res.err
	case <-ctx.Done():
		// Closing the client tears the session down and unblocks the goroutine.
		client.Close()
		<-done
		return "", ctx.Err()
	}
}

func (r SSHRunner) dial(ctx context.Context) (*ssh.Client, error) {
	address, err := r.address()
	if err != nil {
		return nil, err
	}

	config, err := r.clientConfig()
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: r.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return ssh.NewClient(clientConn, chans, reqs), nil
}

func (r SSHRunner) address() (string, error) {
	host := strings.TrimSpace(r.Host)
	if host == "" {
		return "", fmt.Errorf("ssh host is required")
	}

	if r.Port != "" {
		return net.JoinHostPort(host, r.Port), nil
	}

	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}

	return net.JoinHostPort(host, "22"), nil
}

func (r SSHRunner) clientConfig() (*ssh.ClientConfig, error) {
	if r.User == "" {
		return nil, fmt.Errorf("ssh user is required")
	}

	signer, err := r.signer()
	if err != nil {
		return nil, err
	}

	var hostKeyCallback ssh.HostKeyCallback
	if r.InsecureSkipHostKeyChecking {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		callback, err := r.knownHostsCallback()
		if err != nil {
			return nil, err
		}
		hostKeyCallback = callback
	}

	return &ssh.ClientConfig{
		User:            r.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         r.Timeout,
	}, nil
}

func (r SSHRunner) signer() (ssh.Signer, error) {
	if r.KeyPath == "" {
		return nil, fmt.Errorf("ssh key path is required")
	}

	privateKey, err := os.ReadFile(r.KeyPath)
	if err != nil {
		return nil, err
	}

	if len(r.Passphrase) > 0 {
		return ssh.ParsePrivateKeyWithPassphrase(privateKey, r.Passphrase)
	}

	return ssh.ParsePrivateKey(privateKey)
}

func (r SSHRunner) knownHostsCallback() (ssh.HostKeyCallback, error) {
	path := strings.TrimSpace(r.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	return knownhosts.New(path)
}
