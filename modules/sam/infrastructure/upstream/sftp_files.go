package upstream

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/iota-uz/sam-ingest/modules/sam/domain/extract"
	"github.com/iota-uz/sam-ingest/modules/sam/domain/samerrors"
	"github.com/iota-uz/sam-ingest/pkg/logging"
)

type SFTPOptions struct {
	Address  string
	User     string
	Password string
	// KnownHosts is an OpenSSH known_hosts file. When empty the host key is not verified.
	KnownHosts string

	EntityDir   string
	ExecCompDir string
	DestDir     string

	DialTimeout time.Duration
	Logger      *logrus.Entry
}

// SFTPFileClient lists and downloads extracts over one lazily opened SFTP session. A session whose
// connection was lost is reopened once per call.
type SFTPFileClient struct {
	opts SFTPOptions

	mu     sync.Mutex
	conn   *ssh.Client
	client *sftp.Client
}

func NewSFTPFileClient(opts SFTPOptions) (*SFTPFileClient, error) {
	var missing []string
	if opts.Address == "" {
		missing = append(missing, "ssh-host")
	}
	if opts.User == "" {
		missing = append(missing, "ssh-user")
	}
	if opts.Password == "" {
		missing = append(missing, "ssh-password")
	}
	if opts.DestDir == "" {
		missing = append(missing, "file-storage-path")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: sftp client needs %v", samerrors.ErrConfigInvalid, missing)
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &SFTPFileClient{opts: opts}, nil
}

// Connect opens the session eagerly so callers can fall back to another transport when the host is
// unreachable.
func (c *SFTPFileClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.session(ctx)
	return err
}

func (c *SFTPFileClient) session(ctx context.Context) (*sftp.Client, error) {
	if c.client != nil {
		return c.client, nil
	}
	hostKey := ssh.InsecureIgnoreHostKey() //nolint:gosec
	if c.opts.KnownHosts != "" {
		cb, err := knownhosts.New(c.opts.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("%w: known hosts: %v", samerrors.ErrConfigInvalid, err)
		}
		hostKey = cb
	}
	cfg := &ssh.ClientConfig{
		User:            c.opts.User,
		Auth:            []ssh.AuthMethod{ssh.Password(c.opts.Password)},
		HostKeyCallback: hostKey,
		Timeout:         c.opts.DialTimeout,
	}

	d := net.Dialer{Timeout: c.opts.DialTimeout}
	raw, err := d.DialContext(ctx, "tcp", c.opts.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", samerrors.ErrUpstreamUnavailable, c.opts.Address, err)
	}
	sc, chans, reqs, err := ssh.NewClientConn(raw, c.opts.Address, cfg)
	if err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("%w: ssh handshake: %v", samerrors.ErrUpstreamCredentialsInvalid, err)
	}
	conn := ssh.NewClient(sc, chans, reqs)
	client, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: sftp subsystem: %v", samerrors.ErrUpstreamUnavailable, err)
	}
	c.conn, c.client = conn, client
	c.opts.Logger.WithField("address", c.opts.Address).Info("sftp session opened")
	return client, nil
}

func (c *SFTPFileClient) reset() {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.client, c.conn = nil, nil
}

// withSession runs fn against the session, reopening it once if the connection was lost.
func (c *SFTPFileClient) withSession(ctx context.Context, fn func(*sftp.Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for attempt := 0; ; attempt++ {
		client, err := c.session(ctx)
		if err != nil {
			return err
		}
		err = fn(client)
		if err == nil || attempt > 0 || !connectionLost(err) {
			return err
		}
		c.opts.Logger.WithError(err).Warn("sftp connection lost, reconnecting")
		c.reset()
	}
}

func connectionLost(err error) bool {
	return errors.Is(err, sftp.ErrSSHFxConnectionLost) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed)
}

func (c *SFTPFileClient) dir(dataType extract.DataType) string {
	if dataType == extract.ExecComp {
		return c.opts.ExecCompDir
	}
	return c.opts.EntityDir
}

// List returns the sorted file names in the remote directory of dataType.
func (c *SFTPFileClient) List(ctx context.Context, dataType extract.DataType) ([]string, error) {
	var names []string
	err := c.withSession(ctx, func(client *sftp.Client) error {
		infos, err := client.ReadDir(c.dir(dataType))
		if err != nil {
			return err
		}
		names = names[:0]
		for _, fi := range infos {
			if fi.Mode().IsRegular() {
				names = append(names, fi.Name())
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", c.dir(dataType))
	}
	sort.Strings(names)
	return names, nil
}

// Fetch downloads name from the directory its data type lives in.
func (c *SFTPFileClient) Fetch(ctx context.Context, name string) (string, error) {
	f, err := extract.ParseFileName(name)
	if err != nil {
		return "", err
	}
	remote := path.Join(c.dir(f.DataType), name)

	var local string
	err = c.withSession(ctx, func(client *sftp.Client) error {
		src, err := client.Open(remote)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%w: %s", samerrors.ErrFileNotFound, remote)
			}
			return err
		}
		defer src.Close()
		local, err = writeFile(c.opts.DestDir, name, src)
		return err
	})
	if err != nil {
		return "", err
	}
	c.opts.Logger.WithField("file", name).Info("downloaded extract")
	return local, nil
}

func (c *SFTPFileClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
	return nil
}
