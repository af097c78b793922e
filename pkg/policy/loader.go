package policy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDelay coalesces bursts of file events into one reload.
const reloadDelay = 500 * time.Millisecond

// Loader reads policy files from disk. A .rego file becomes one policy
// named after the file; its leading comment block is the description and
// may carry "key: value" directives:
//
//	# Remote sources only
//	# severity: error
//	# operations: import, validate
//	# tags: sources
//	package dxp.custom.remote
//
// A .json file holds a complete Policy document.
type Loader struct {
	logger zerolog.Logger

	mu    sync.Mutex
	cache map[string]cachedPolicy
}

type cachedPolicy struct {
	modTime time.Time
	size    int64
	policy  Policy
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
		cache:  make(map[string]cachedPolicy),
	}
}

func isPolicyFile(path string) bool {
	switch filepath.Ext(path) {
	case ".rego", ".json":
		return true
	}
	return false
}

// LoadFromPaths loads every policy file under paths. A path may name a file
// or a directory, which is walked recursively. Unreadable files inside a
// directory are logged and skipped; a missing path is an error.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var policies []Policy

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("policy path %s: %w", root, err)
		}

		if !info.IsDir() {
			p, err := l.loadFromFile(ctx, root)
			if err != nil {
				return nil, err
			}
			policies = append(policies, p)
			continue
		}

		found, err := l.loadFromDirectory(ctx, root)
		if err != nil {
			return nil, err
		}
		policies = append(policies, found...)
	}

	l.logger.Debug().Int("policies", len(policies)).Strs("paths", paths).Msg("Policy files read")
	return policies, nil
}

func (l *Loader) loadFromDirectory(ctx context.Context, dir string) ([]Policy, error) {
	var policies []Policy

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !isPolicyFile(path) {
			return nil
		}

		p, err := l.loadFromFile(ctx, path)
		if err != nil {
			l.logger.Warn().Err(err).Str("file", path).Msg("Skipping policy file")
			return nil
		}
		policies = append(policies, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read policy directory %s: %w", dir, err)
	}

	return policies, nil
}

// loadFromFile parses one policy file. Parsed files are cached by
// modification time and size; a reload re-reads only what changed.
func (l *Loader) loadFromFile(_ context.Context, path string) (Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Policy{}, err
	}

	l.mu.Lock()
	cached, ok := l.cache[path]
	l.mu.Unlock()
	if ok && cached.modTime.Equal(info.ModTime()) && cached.size == info.Size() {
		return cached.policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, err
	}

	var p Policy
	switch filepath.Ext(path) {
	case ".rego":
		p = parseRego(path, string(data))
	case ".json":
		if p, err = parseJSON(data); err != nil {
			return Policy{}, fmt.Errorf("%s: %w", path, err)
		}
	default:
		return Policy{}, fmt.Errorf("%s: not a .rego or .json policy", path)
	}
	p.Source = path

	l.mu.Lock()
	l.cache[path] = cachedPolicy{modTime: info.ModTime(), size: info.Size(), policy: p}
	l.mu.Unlock()

	l.logger.Debug().Str("file", path).Str("policy", p.Name).Msg("Policy file parsed")
	return p, nil
}

func parseRego(path, src string) Policy {
	now := time.Now()
	p := Policy{
		Name:      strings.TrimSuffix(filepath.Base(path), ".rego"),
		Rego:      src,
		Severity:  SeverityWarning,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var description []string
	scanner := bufio.NewScanner(strings.NewReader(src))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "#") {
			if line == "" && len(description) == 0 {
				continue
			}
			break
		}

		comment := strings.TrimSpace(strings.TrimPrefix(line, "#"))
		if comment == "" {
			continue
		}
		if key, value, ok := strings.Cut(comment, ":"); ok && p.applyDirective(key, value) {
			continue
		}
		description = append(description, comment)
	}
	p.Description = strings.Join(description, " ")

	return p
}

// applyDirective sets the field named by key and reports whether key was a
// known directive.
func (p *Policy) applyDirective(key, value string) bool {
	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "severity":
		p.Severity = Severity(strings.ToLower(value))
	case "operations":
		p.Operations = splitList(value)
	case "tags":
		p.Tags = splitList(value)
	case "enabled":
		p.Enabled = !strings.EqualFold(value, "false")
	default:
		return false
	}
	return true
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseJSON(data []byte) (Policy, error) {
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("invalid JSON policy: %w", err)
	}
	if p.Name == "" {
		return Policy{}, fmt.Errorf("JSON policy has no name")
	}

	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	return p, nil
}

// Watch calls reload with the freshly loaded policies whenever a policy
// file under paths is written, created, removed or renamed. It returns once
// the watches are in place; watching stops when ctx is done.
func (l *Loader) Watch(ctx context.Context, paths []string, reload func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	for _, root := range paths {
		if err := addWatches(watcher, root); err != nil {
			l.logger.Warn().Err(err).Str("path", root).Msg("Policy path not watched")
		}
	}

	go l.watchLoop(ctx, watcher, paths, reload)

	l.logger.Info().Strs("paths", paths).Msg("Watching policy files")
	return nil
}

// addWatches watches root, or every directory below it.
func addWatches(w *fsnotify.Watcher, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return w.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		return w.Add(path)
	})
}

func (l *Loader) watchLoop(ctx context.Context, w *fsnotify.Watcher, paths []string, reload func([]Policy) error) {
	defer w.Close()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if event.Op&relevant == 0 || !isPolicyFile(event.Name) {
				continue
			}
			l.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Policy file changed")

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDelay, func() {
				l.reload(ctx, paths, reload)
			})

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Policy watcher error")
		}
	}
}

func (l *Loader) reload(ctx context.Context, paths []string, apply func([]Policy) error) {
	if ctx.Err() != nil {
		return
	}

	policies, err := l.LoadFromPaths(ctx, paths)
	if err == nil {
		err = apply(policies)
	}
	if err != nil {
		l.logger.Error().Err(err).Msg("Policy reload failed; keeping the previous policies")
		return
	}
	l.logger.Info().Int("policies", len(policies)).Msg("Policies reloaded")
}
