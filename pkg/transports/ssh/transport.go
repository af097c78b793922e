// Package ssh fetches remote data files over SFTP.
package ssh

import (
	"context"
	"io"
)

// Fetcher opens a remote file for reading.
type Fetcher interface {
	// Open returns a reader for path on the host described by cfg. Closing
	// the reader releases the connection.
	Open(ctx context.Context, cfg *Config, path string) (io.ReadCloser, error)
}

// Fetch stages reported by FetchError.
const (
	StageConfig  = "config"
	StageConnect = "connect"
	StageSession = "session"
	StageOpen    = "open"
)

// FetchError reports which stage of fetching a remote file failed.
type FetchError struct {
	Stage   string
	Address string
	Path    string
	Err     error
}

func (e *FetchError) Error() string {
	target := e.Address
	if e.Path != "" {
		target += ":" + e.Path
	}
	return "sftp " + e.Stage + " " + target + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the fetch might succeed: connection
// and session failures are, bad settings and missing files are not.
func (e *FetchError) Temporary() bool {
	return e.Stage == StageConnect || e.Stage == StageSession
}
