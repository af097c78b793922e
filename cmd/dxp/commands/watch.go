package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dataxchange/dxp/pkg/config"
)

func newWatchCommand() *cobra.Command {
	var (
		dataPath    string
		values      map[string]string
		metricsAddr string
		debounce    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch <package>",
		Short: "Re-run an import package when it changes",
		Long: `Run an import package, then run it again whenever the package file or the
data file changes. Policies are reloaded when policy.watch is set in the
config file.`,
		Example: `  # Re-run on every save
  dxp watch sites.xml --data sites.csv

  # Expose Prometheus metrics while watching
  dxp watch sites.xml --metrics-addr :9090`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), func(cfg *config.Config) {
				if metricsAddr != "" {
					cfg.Telemetry.Metrics.Enabled = true
					cfg.Telemetry.Metrics.ListenAddress = metricsAddr
				}
			})
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			ctx := a.context(cmd.Context())
			if err := a.telemetry.StartMetricsServer(); err != nil {
				return err
			}

			if a.policies != nil && a.cfg.Policy.Watch && len(a.cfg.PolicyPaths()) > 0 {
				if err := a.policies.Watch(ctx, a.cfg.PolicyPaths()); err != nil {
					return fmt.Errorf("failed to watch policies: %w", err)
				}
			}

			files := []string{args[0]}
			if dataPath != "" {
				files = append(files, dataPath)
			}

			return watchFiles(ctx, files, debounce, func() {
				report, err := runImport(ctx, a, args[0], dataPath, values)
				if report != nil {
					if perr := printReport(cmd.OutOrStdout(), report); perr != nil {
						log.Error().Err(perr).Msg("Failed to print report")
					}
				}
				if err != nil {
					log.Error().Err(err).Str("package", args[0]).Msg("Import failed")
				}
			})
		},
	}

	cmd.Flags().StringVarP(&dataPath, "data", "d", "", "data file replacing the first data element")
	cmd.Flags().StringToStringVar(&values, "context", nil, "context values handed to providers (key=value)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().DurationVar(&debounce, "debounce", 300*time.Millisecond, "wait this long after a change before running")

	return cmd
}

// watchFiles calls run once, then again after files change, until ctx is
// done. The parent directories are watched so files replaced by editors are
// still seen.
func watchFiles(ctx context.Context, files []string, debounce time.Duration, run func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	watched := make(map[string]bool, len(files))
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return err
		}
		watched[abs] = true
		if err := watcher.Add(filepath.Dir(abs)); err != nil {
			return fmt.Errorf("failed to watch %s: %w", f, err)
		}
	}

	run()

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !watched[filepath.Clean(event.Name)] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Change detected")
			pending = time.After(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Watcher error")

		case <-pending:
			pending = nil
			run()
		}
	}
}
