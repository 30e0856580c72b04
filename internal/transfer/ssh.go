package transfer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/sftpbackup/sftpbackup/internal/config"
)

// SSHDialer opens SFTP connections with golang.org/x/crypto/ssh.
type SSHDialer struct{}

func NewSSHDialer() *SSHDialer {
	return &SSHDialer{}
}

func (d *SSHDialer) Dial(ctx context.Context, params config.SFTPConfig) (Conn, error) {
	clientCfg, err := ClientConfig(params)
	if err != nil {
		return nil, err
	}

	addr := params.Address()
	netDialer := &net.Dialer{Timeout: params.Timeout}
	conn, err := netDialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classify(fmt.Errorf("dial %s: %w", addr, err))
	}

	if params.Timeout > 0 {
		conn.SetDeadline(time.Now().Add(params.Timeout))
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, classify(fmt.Errorf("handshake with %s: %w", addr, err))
	}
	conn.SetDeadline(time.Time{})

	return &sshConn{client: ssh.NewClient(c, chans, reqs)}, nil
}

// ClientConfig builds the SSH client settings: password and key auth plus
// host key verification against known_hosts.
func ClientConfig(params config.SFTPConfig) (*ssh.ClientConfig, error) {
	username := params.Username
	if username == "" {
		if u, err := user.Current(); err == nil {
			username = u.Username
		}
	}

	var auth []ssh.AuthMethod
	if len(params.ClientKeys) > 0 {
		signers, err := loadSigners(params.ClientKeys, params.Passphrase)
		if err != nil {
			return nil, err
		}
		auth = append(auth, ssh.PublicKeys(signers...))
	}
	if params.Password != "" {
		auth = append(auth, ssh.Password(params.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("%w: no password or client_keys configured", ErrPermission)
	}

	hostKeyCallback, err := hostKeyCallback(params)
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         params.Timeout,
	}, nil
}

func loadSigners(paths []string, passphrase string) ([]ssh.Signer, error) {
	var signers []ssh.Signer
	for _, p := range paths {
		pem, err := os.ReadFile(expandHome(p))
		if err != nil {
			return nil, fmt.Errorf("failed to read client key: %w", err)
		}

		signer, err := ssh.ParsePrivateKey(pem)
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			if passphrase == "" {
				return nil, fmt.Errorf("client key %s is encrypted and no passphrase is set", p)
			}
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(passphrase))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse client key %s: %w", p, err)
		}
		signers = append(signers, signer)
	}
	return signers, nil
}

func hostKeyCallback(params config.SFTPConfig) (ssh.HostKeyCallback, error) {
	if params.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	path := params.KnownHosts
	if path == "" {
		path = filepath.Join("~", ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(expandHome(path))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load known_hosts: %v", ErrConnection, err)
	}
	return cb, nil
}

func expandHome(p string) string {
	if len(p) < 2 || p[:2] != "~"+string(filepath.Separator) {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}

type sshConn struct {
	client *ssh.Client
}

func (c *sshConn) StartSession() (Session, error) {
	client, err := sftp.NewClient(c.client)
	if err != nil {
		return nil, classify(fmt.Errorf("start sftp session: %w", err))
	}
	return NewSession(client), nil
}

func (c *sshConn) Close() error {
	return c.client.Close()
}
