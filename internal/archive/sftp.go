package archive

import (
	"context"
	"net"
	"path"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/Warky-Devs/WkMailMove/internal/config"
	"github.com/Warky-Devs/WkMailMove/internal/mailbox"
)

const sshDialTimeout = 30 * time.Second

// SFTP uploads each message as an .eml file to dir/<folder>.
type SFTP struct {
	client *sftp.Client
	ssh    *ssh.Client
	dir    string

	mu    sync.Mutex
	ready map[string]string
}

// DialSFTP opens an SSH connection with password authentication and starts
// an SFTP session on it. Host keys are checked against cfg.KnownHosts unless
// cfg.InsecureHostKey is set.
func DialSFTP(ctx context.Context, cfg config.SFTPConfig) (*SFTP, error) {
	hostKeys, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}
	sshConfig := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Password)},
		HostKeyCallback: hostKeys,
		Timeout:         sshDialTimeout,
	}

	dialer := &net.Dialer{Timeout: sshDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Address())
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", cfg.Address())
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, cfg.Address(), sshConfig)
	if err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "ssh handshake with %s", cfg.Address())
	}
	sshClient := ssh.NewClient(c, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, errors.Wrapf(err, "starting sftp on %s", cfg.Address())
	}
	s := NewSFTP(client, cfg.Dir)
	s.ssh = sshClient
	return s, nil
}

func hostKeyCallback(cfg config.SFTPConfig) (ssh.HostKeyCallback, error) {
	if cfg.InsecureHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if cfg.KnownHosts == "" {
		return nil, errors.New("sftp: known_hosts is required unless insecure_host_key is set")
	}
	cb, err := knownhosts.New(cfg.KnownHosts)
	if err != nil {
		return nil, errors.Wrapf(err, "reading known_hosts %s", cfg.KnownHosts)
	}
	return cb, nil
}

// NewSFTP archives through an already established SFTP client.
func NewSFTP(client *sftp.Client, dir string) *SFTP {
	if dir == "" {
		dir = "."
	}
	return &SFTP{client: client, dir: dir, ready: map[string]string{}}
}

func (s *SFTP) folderDir(folder string) (string, error) {
	if d, ok := s.ready[folder]; ok {
		return d, nil
	}
	d := path.Join(s.dir, SanitizeName(folder))
	if err := s.client.MkdirAll(d); err != nil {
		return "", errors.Wrapf(err, "creating %s", d)
	}
	s.ready[folder] = d
	return d, nil
}

func (s *SFTP) Archive(ctx context.Context, folder string, rec *mailbox.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.folderDir(folder)
	if err != nil {
		return err
	}
	name := path.Join(dir, FileName(rec))

	f, err := s.client.Create(name)
	if err != nil {
		return errors.Wrapf(err, "creating %s", name)
	}
	if _, err := rec.Literal().WriteTo(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %s", name)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", name)
	}
	return nil
}

func (s *SFTP) Close() error {
	err := s.client.Close()
	if s.ssh != nil {
		if sshErr := s.ssh.Close(); err == nil {
			err = sshErr
		}
	}
	return err
}
