package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/dataxchange/dxp/pkg/config"
	"github.com/dataxchange/dxp/pkg/datasource"
	"github.com/dataxchange/dxp/pkg/document"
	"github.com/dataxchange/dxp/pkg/engine"
	"github.com/dataxchange/dxp/pkg/policy"
	"github.com/dataxchange/dxp/pkg/providers"
	"github.com/dataxchange/dxp/pkg/providers/wasm"
	"github.com/dataxchange/dxp/pkg/script"
	"github.com/dataxchange/dxp/pkg/stores"
	"github.com/dataxchange/dxp/pkg/telemetry"
)

// app holds everything a command needs, wired from the config file.
type app struct {
	cfg       *config.Config
	telemetry *telemetry.Telemetry
	store     providers.Store
	sqlite    *stores.SQLiteStore
	registry  *engine.Registry
	wasm      *wasm.Host
	policies  *policy.Engine
	schemas   *config.SchemaRegistry
	scripts   *script.Evaluator
}

// newApp loads the configuration and wires the stores, providers and
// policies. configure may adjust the configuration before anything starts.
func newApp(ctx context.Context, configure ...func(*config.Config)) (*app, error) {
	cfg, err := config.LoadDefault(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	for _, fn := range configure {
		fn(cfg)
	}

	tel, err := telemetry.NewTelemetry(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a := &app{
		cfg:       cfg,
		telemetry: tel,
		registry:  engine.NewRegistry(),
		wasm:      wasm.NewHost(),
		schemas:   config.NewSchemaRegistry(),
	}

	if err := a.openStore(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}

	if err := providers.Register(a.registry, a.store); err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to register providers: %w", err)
	}
	if err := a.loadWASM(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}

	if cfg.Policy.Enabled {
		if err := a.loadPolicies(ctx); err != nil {
			a.Close(ctx)
			return nil, err
		}
	}

	if cfg.Script.Enabled {
		a.scripts = script.NewEvaluator(cfg.Script.Timeout)
	}

	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	if a.cfg.Store.Driver == "memory" {
		a.store = providers.NewMemorySink()
		return nil
	}

	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            a.cfg.StorePath(),
		MaxOpenConns:    a.cfg.Store.MaxOpenConns,
		MaxIdleConns:    a.cfg.Store.MaxIdleConns,
		ConnMaxLifetime: a.cfg.Store.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	a.sqlite = store
	a.store = store

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate store: %w", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		return fmt.Errorf("store health check failed: %w", err)
	}

	if a.cfg.Telemetry.Events.Enabled {
		a.telemetry.Events.Subscribe(store.EventSubscriber(ctx, func(err error) {
			log.Warn().Err(err).Msg("Failed to persist event")
		}), nil)
	}
	return nil
}

func (a *app) loadWASM(ctx context.Context) error {
	manifests, err := a.cfg.WASMManifests()
	if err != nil {
		return err
	}
	for _, m := range manifests {
		if _, err := a.wasm.Load(ctx, m); err != nil {
			return fmt.Errorf("failed to load WASM provider %s: %w", m.ID, err)
		}
		log.Debug().Str("provider", m.ID).Str("module", m.ModulePath()).Msg("WASM provider loaded")
	}
	if dir := a.cfg.WASMDir(); dir != "" {
		if err := a.wasm.ScanDirectory(ctx, dir); err != nil {
			return fmt.Errorf("providers.wasm_dir: %w", err)
		}
		log.Debug().Str("dir", dir).Strs("providers", a.wasm.IDs()).Msg("WASM provider directory scanned")
	}
	return a.wasm.Register(a.registry)
}

func (a *app) loadPolicies(ctx context.Context) error {
	policies, err := policy.NewEngine(a.telemetry.Logger.NewComponentLogger("policy").Zerolog())
	if err != nil {
		return err
	}

	if paths := a.cfg.PolicyPaths(); len(paths) > 0 {
		if err := policies.LoadPolicies(ctx, paths); err != nil {
			return err
		}
	}
	for _, name := range a.cfg.Policy.Disabled {
		if err := policies.DisablePolicy(name); err != nil {
			return fmt.Errorf("policy.disabled: %w", err)
		}
	}

	a.policies = policies
	return nil
}

// context attaches the telemetry to ctx so runs get spans, metrics and events.
func (a *app) context(ctx context.Context) context.Context {
	return a.telemetry.WithContext(ctx)
}

func (a *app) executor(values map[string]string) *engine.Executor {
	opts := []engine.ExecutorOption{
		engine.WithLog(a.telemetry.Logger.Sink()),
		engine.WithContext(values),
	}
	if a.sqlite != nil {
		opts = append(opts, engine.WithRecorder(a.sqlite))
	}
	if a.scripts != nil {
		opts = append(opts, engine.WithEvaluators(a.scripts.Factory()))
	}
	return engine.NewExecutor(a.registry, opts...)
}

func (a *app) resolver(pkgPath string) *datasource.Resolver {
	return &datasource.Resolver{
		BaseDir: filepath.Dir(pkgPath),
		SFTP:    a.cfg.SSHConfig(),
	}
}

// loadPackage loads an import package. A non-empty dataPath replaces the
// payload of the first data element.
func (a *app) loadPackage(path, dataPath string) (*engine.Package, error) {
	root, err := document.Load(path)
	if err != nil {
		return nil, engine.NewLoadError(fmt.Sprintf("failed to read package %s", path), err)
	}

	if dataPath == "" {
		return engine.LoadPackage(root, a.resolver(path))
	}

	f, err := os.Open(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	defer f.Close()

	return engine.LoadPackageWithData(root, f, a.resolver(path))
}

// checkPolicies evaluates the policies for operation. Warnings are logged;
// blocking violations are returned as an error.
func (a *app) checkPolicies(ctx context.Context, pkg *engine.Package, operation string, values map[string]string) (*policy.Result, error) {
	if a.policies == nil {
		return nil, nil
	}

	result, err := a.policies.Evaluate(ctx, pkg, operation, values)
	if err != nil {
		return nil, err
	}
	for _, w := range result.Warnings {
		log.Warn().Str("policy", w.Policy).Str("subject", w.Subject).Msg(w.Message)
	}
	for _, msg := range result.Errors {
		log.Warn().Msg(msg)
	}
	return result, result.Err()
}

// Close releases the providers, the telemetry and the store. The store
// closes last so pending events can still be written.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if err := a.wasm.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
