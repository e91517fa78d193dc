package remote

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var errHostKeyCaptured = errors.New("host key captured")

// FetchHostKey connects to addr only far enough to read the server's host
// key. No authentication is attempted.
func FetchHostKey(addr string, timeout time.Duration) (ssh.PublicKey, error) {
	var captured ssh.PublicKey
	config := &ssh.ClientConfig{
		User: "vmxfer",
		HostKeyCallback: func(_ string, _ net.Addr, key ssh.PublicKey) error {
			captured = key
			return errHostKeyCaptured
		},
		Timeout: timeout,
	}

	client, err := ssh.Dial("tcp", addr, config)
	if client != nil {
		client.Close()
	}
	if captured != nil {
		return captured, nil
	}
	if err == nil {
		err = errors.New("server did not present a host key")
	}
	return nil, fmt.Errorf("fetch host key from %s: %w", addr, err)
}

// TrustHostKey adds key for addr to the known_hosts file at path. It reports
// false when the exact entry is already present and fails when the file holds
// a different key for the same host.
func TrustHostKey(path, addr string, key ssh.PublicKey) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		check, err := knownhosts.New(path)
		if err != nil {
			return false, fmt.Errorf("load known_hosts: %w", err)
		}
		err = check(addr, fakeAddr(addr), key)
		if err == nil {
			return false, nil
		}
		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) > 0 {
			return false, fmt.Errorf("known_hosts already has a different key for %s", addr)
		}
	} else if !os.IsNotExist(err) {
		return false, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return false, fmt.Errorf("create known_hosts directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return false, fmt.Errorf("open known_hosts: %w", err)
	}
	defer f.Close()

	line := knownhosts.Line([]string{knownhosts.Normalize(addr)}, key)
	if _, err := fmt.Fprintln(f, line); err != nil {
		return false, fmt.Errorf("write known_hosts: %w", err)
	}
	return true, nil
}

// fakeAddr is the remote address handed to the known_hosts check. Lookup is
// by hostname; the callback only needs a TCP address.
func fakeAddr(addr string) net.Addr {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return &net.TCPAddr{}
	}
	p, _ := strconv.Atoi(port)
	return &net.TCPAddr{IP: net.ParseIP(host), Port: p}
}
