package ssh

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// SFTPFetcher opens each remote file on its own SSH connection.
type SFTPFetcher struct{}

func NewSFTPFetcher() *SFTPFetcher {
	return &SFTPFetcher{}
}

// remoteFile owns the connection of one open file.
type remoteFile struct {
	io.Reader
	closers []io.Closer
}

func (r *remoteFile) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Open implements Fetcher. Reads stop at cfg.MaxFileSize when it is set.
func (f *SFTPFetcher) Open(ctx context.Context, cfg *Config, path string) (io.ReadCloser, error) {
	fail := func(stage string, err error) error {
		return &FetchError{Stage: stage, Address: cfg.Address(), Path: path, Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fail(StageConfig, err)
	}
	clientConfig, err := cfg.ClientConfig()
	if err != nil {
		return nil, fail(StageConfig, err)
	}

	client, err := dial(ctx, cfg.Address(), clientConfig)
	if err != nil {
		return nil, fail(StageConnect, err)
	}

	session, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fail(StageSession, err)
	}

	file, err := session.Open(path)
	if err != nil {
		_ = session.Close()
		_ = client.Close()
		return nil, fail(StageOpen, err)
	}

	log.Debug().Str("address", cfg.Address()).Str("path", path).Msg("Remote data file opened")

	var r io.Reader = file
	if cfg.MaxFileSize > 0 {
		r = io.LimitReader(file, cfg.MaxFileSize)
	}
	return &remoteFile{Reader: r, closers: []io.Closer{file, session, client}}, nil
}

// dial opens the TCP connection with ctx and abandons the SSH handshake
// when ctx ends first.
func dial(ctx context.Context, address string, clientConfig *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: clientConfig.Timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	c, chans, reqs, err := ssh.NewClientConn(conn, address, clientConfig)
	if !stop() {
		if err == nil {
			_ = c.Close()
		}
		_ = conn.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}
