package upload

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SFTP copies files to a directory on an ssh host.
type SFTP struct {
	l    hclog.Logger
	dir  string
	dial func(ctx context.Context) (*sftp.Client, io.Closer, error)
}

// NewSFTP returns an sftp uploader.  A connection is opened per
// Sync.
func NewSFTP(l hclog.Logger, s SFTPSettings) (*SFTP, error) {
	if s.Address == "" {
		return nil, errors.New("sftp address is not set")
	}
	l = l.Named("sftp")
	cfg, err := clientConfig(l, s)
	if err != nil {
		return nil, err
	}
	u := SFTP{l: l, dir: s.Dir}
	u.dial = func(ctx context.Context) (*sftp.Client, io.Closer, error) {
		conn, err := ssh.Dial("tcp", s.Address, cfg)
		if err != nil {
			return nil, nil, err
		}
		client, err := sftp.NewClient(conn)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		return client, conn, nil
	}
	return &u, nil
}

func clientConfig(l hclog.Logger, s SFTPSettings) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if s.KeyFile != "" {
		data, err := os.ReadFile(s.KeyFile)
		if err != nil {
			return nil, err
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, err
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if s.Password != "" {
		auth = append(auth, ssh.Password(s.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("sftp needs a key file or a password")
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if s.KnownHosts != "" {
		cb, err := knownhosts.New(s.KnownHosts)
		if err != nil {
			return nil, err
		}
		hostKey = cb
	} else {
		l.Warn("Host key checking disabled, set known_hosts")
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ssh.ClientConfig{
		User:            s.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}, nil
}

// Name implements Uploader.
func (u *SFTP) Name() string { return "sftp" }

// Sync implements Uploader.
func (u *SFTP) Sync(ctx context.Context, dir string, files []string) error {
	if len(files) == 0 {
		return nil
	}
	rel, err := relative(dir, files)
	if err != nil {
		return err
	}
	client, conn, err := u.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer client.Close()

	for _, r := range rel {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := u.push(client, filepath.Join(dir, filepath.FromSlash(r)), path.Join(u.dir, r)); err != nil {
			return err
		}
	}
	return nil
}

func (u *SFTP) push(client *sftp.Client, local, remote string) error {
	if err := client.MkdirAll(path.Dir(remote)); err != nil {
		return err
	}
	in, err := os.Open(local)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := client.Create(remote)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	u.l.Trace("Pushed file", "path", remote)
	return out.Close()
}
