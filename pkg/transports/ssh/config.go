package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod selects how the fetcher authenticates.
type AuthMethod string

const (
	AuthMethodPassword AuthMethod = "password"
	AuthMethodKey      AuthMethod = "key"
)

// defaultKeys are tried in order when key auth has no PrivateKeyPath.
var defaultKeys = []string{"id_ed25519", "id_rsa", "id_ecdsa"}

var validate = validator.New()

// Config addresses one SFTP server and carries the credentials for it.
type Config struct {
	Host       string     `validate:"required"`
	Port       int        `validate:"min=1,max=65535"`
	User       string     `validate:"required"`
	AuthMethod AuthMethod `validate:"oneof=password key"`

	Password             string `validate:"required_if=AuthMethod password"`
	PrivateKeyPath       string
	PrivateKeyPassphrase string

	// KnownHostsPath is consulted only with StrictHostKeyChecking; without
	// it any host key is accepted.
	KnownHostsPath        string
	StrictHostKeyChecking bool

	ConnectionTimeout time.Duration `validate:"gt=0"`

	// MaxFileSize caps the bytes read from one remote file. Zero means no
	// limit.
	MaxFileSize int64 `validate:"gte=0"`
}

func sshDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, ".ssh")
}

// DefaultConfig returns key authentication against host:22 with the user's
// known_hosts file.
func DefaultConfig(host, user string) *Config {
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		AuthMethod:            AuthMethodKey,
		KnownHostsPath:        filepath.Join(sshDir(), "known_hosts"),
		StrictHostKeyChecking: true,
		ConnectionTimeout:     30 * time.Second,
	}
}

// Validate checks c. With key auth and no PrivateKeyPath it picks the first
// default key found under ~/.ssh.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.AuthMethod != AuthMethodKey {
		return nil
	}

	if c.PrivateKeyPath == "" {
		for _, name := range defaultKeys {
			candidate := filepath.Join(sshDir(), name)
			if _, err := os.Stat(candidate); err == nil {
				c.PrivateKeyPath = candidate
				break
			}
		}
		if c.PrivateKeyPath == "" {
			return errors.New("key authentication needs a private key and none was found in ~/.ssh")
		}
	}
	if _, err := os.Stat(c.PrivateKeyPath); err != nil {
		return fmt.Errorf("private key file not found: %s", c.PrivateKeyPath)
	}
	return nil
}

// ClientConfig builds the x/crypto/ssh client settings for c.
func (c *Config) ClientConfig() (*ssh.ClientConfig, error) {
	auth, err := c.authMethods()
	if err != nil {
		return nil, err
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if c.StrictHostKeyChecking && c.KnownHostsPath != "" {
		if hostKey, err = knownhosts.New(c.KnownHostsPath); err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

func (c *Config) authMethods() ([]ssh.AuthMethod, error) {
	if c.AuthMethod == AuthMethodPassword {
		// keyboard-interactive is how many servers ask for passwords
		answer := func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = c.Password
			}
			return answers, nil
		}
		return []ssh.AuthMethod{ssh.Password(c.Password), ssh.KeyboardInteractive(answer)}, nil
	}

	pemBytes, err := os.ReadFile(c.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	var signer ssh.Signer
	if c.PrivateKeyPassphrase == "" {
		signer, err = ssh.ParsePrivateKey(pemBytes)
	} else {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(c.PrivateKeyPassphrase))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", c.PrivateKeyPath, err)
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}

// Address is host:port.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// WithTarget returns a copy of c pointed at host, port and user. Zero values
// keep the current settings.
func (c *Config) WithTarget(host string, port int, user string) *Config {
	out := *c
	if host != "" {
		out.Host = host
	}
	if port > 0 {
		out.Port = port
	}
	if user != "" {
		out.User = user
	}
	return &out
}
