package cli

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/javanstorm/vmxfer/internal/remote"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"
)

func newSSHCmd(a *app) *cobra.Command {
	sshCmd := &cobra.Command{
		Use:   "ssh",
		Short: "Manage SSH access to a remote Hyper-V host",
	}

	sshCmd.AddCommand(&cobra.Command{
		Use:   "keygen",
		Short: "Generate the SSH key used for the Hyper-V host",
		Long: `Generate an ed25519 key pair at hyperv.ssh_key_path if none exists.

Add the printed public key to the host's authorized_keys (for administrators:
C:\ProgramData\ssh\administrators_authorized_keys).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := remote.NewKeyManager(a.cfg.HyperV.SSHKeyPath)
			created, err := keys.EnsureKeyPair()
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintln(a.stdout, "SSH key generated successfully!")
			} else {
				fmt.Fprintln(a.stdout, "SSH key already exists.")
			}
			fmt.Fprintf(a.stdout, "  Private key: %s\n", keys.PrivateKeyPath())
			fmt.Fprintf(a.stdout, "  Public key:  %s\n", keys.PublicKeyPath())
			return a.printPublicKey(keys)
		},
	})

	sshCmd.AddCommand(&cobra.Command{
		Use:   "pubkey",
		Short: "Print the public key for the host's authorized_keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := remote.NewKeyManager(a.cfg.HyperV.SSHKeyPath)
			line, err := keys.AuthorizedKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, line)
			return nil
		},
	})

	sshCmd.AddCommand(&cobra.Command{
		Use:   "trust",
		Short: "Record the Hyper-V host's key in known_hosts",
		Long: `Connect to hyperv.ssh_host, read its host key and append it to
hyperv.known_hosts (default: known_hosts next to the SSH key).

Compare the printed fingerprint with the host's before relying on it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hv := a.cfg.HyperV
			if hv.SSHHost == "" {
				return fmt.Errorf("hyperv.ssh_host is not configured")
			}
			addr := net.JoinHostPort(hv.SSHHost, strconv.Itoa(hv.SSHPort))

			key, err := remote.FetchHostKey(addr, 10*time.Second)
			if err != nil {
				return err
			}
			path := hv.KnownHosts
			if path == "" {
				path = filepath.Join(filepath.Dir(hv.SSHKeyPath), "known_hosts")
			}
			added, err := remote.TrustHostKey(path, addr, key)
			if err != nil {
				return err
			}

			fmt.Fprintf(a.stdout, "%s %s\n", key.Type(), ssh.FingerprintSHA256(key))
			if added {
				fmt.Fprintf(a.stdout, "Added %s to %s\n", addr, path)
			} else {
				fmt.Fprintf(a.stdout, "%s is already trusted in %s\n", addr, path)
			}
			if hv.KnownHosts == "" {
				fmt.Fprintf(a.stdout, "Set hyperv.known_hosts to %s to verify the host on every connection.\n", path)
			}
			return nil
		},
	})
	return sshCmd
}

func (a *app) printPublicKey(keys *remote.KeyManager) error {
	line, err := keys.AuthorizedKey()
	if err != nil {
		return err
	}
	fp, err := keys.Fingerprint()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "  Fingerprint: %s\n\n%s\n", fp, line)
	return nil
}
