package datasource

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dataxchange/dxp/pkg/transports/ssh"
)

// Resolver opens the payload of a Source.
type Resolver struct {
	// BaseDir anchors relative file paths, usually the package's directory.
	BaseDir string

	// SFTP holds the default credentials for sftp:// locations. Host, port
	// and user from the URL take precedence.
	SFTP *ssh.Config

	// Fetcher opens remote files. Defaults to an SFTP fetcher.
	Fetcher ssh.Fetcher
}

// Open returns the raw payload of s.
func (r *Resolver) Open(ctx context.Context, s *Source) (io.ReadCloser, error) {
	if s.IsInline() {
		return io.NopCloser(strings.NewReader(s.Payload)), nil
	}

	loc := s.Location
	if strings.Contains(loc, "://") {
		u, err := url.Parse(loc)
		if err != nil {
			return nil, fmt.Errorf("invalid source location %q: %w", loc, err)
		}
		switch strings.ToLower(u.Scheme) {
		case "file":
			return r.openFile(u.Path)
		case "sftp":
			return r.openRemote(ctx, u)
		default:
			return nil, fmt.Errorf("unsupported source scheme %q", u.Scheme)
		}
	}

	return r.openFile(loc)
}

func (r *Resolver) openFile(path string) (io.ReadCloser, error) {
	if !filepath.IsAbs(path) && r.BaseDir != "" {
		path = filepath.Join(r.BaseDir, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (r *Resolver) openRemote(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	base := r.SFTP
	if base == nil {
		base = ssh.DefaultConfig(u.Hostname(), "")
	}

	port := 0
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port in %q", u.Redacted())
		}
		port = n
	}

	cfg := base.WithTarget(u.Hostname(), port, u.User.Username())
	if pw, ok := u.User.Password(); ok {
		cfg.AuthMethod = ssh.AuthMethodPassword
		cfg.Password = pw
	}

	fetcher := r.Fetcher
	if fetcher == nil {
		fetcher = ssh.NewSFTPFetcher()
	}
	return fetcher.Open(ctx, cfg, u.Path)
}

// Scheme classifies a source location as inline, file or its URL scheme.
func Scheme(location string) string {
	if location == "" || strings.EqualFold(location, LocationInline) {
		return LocationInline
	}
	if i := strings.Index(location, "://"); i > 0 {
		return strings.ToLower(location[:i])
	}
	return "file"
}
