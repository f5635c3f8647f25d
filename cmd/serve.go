package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/arborworks/arbor/internal/config"
	"github.com/arborworks/arbor/internal/log"
)

var (
	maintenanceInterval time.Duration
	followLogs          bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tree manager daemon",
	Long: `Runs the maintenance loop: missing state rows are repaired, stalled
trees advanced and failed scorings retried on a fixed interval. The config
file is watched and tree manager settings reloaded on change.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&maintenanceInterval, "interval", time.Minute,
		"time between maintenance passes")
	serveCmd.Flags().BoolVar(&followLogs, "follow-logs", false,
		"echo log entries to stdout")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	r, err := openRuntime()
	if err != nil {
		return err
	}
	defer r.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if followLogs {
		go followLogEvents(ctx)
	}

	reload, stopWatcher, err := watchConfig()
	if err != nil {
		log.Warn(log.CatConfig, "Config watching unavailable", "error", err)
	} else if stopWatcher != nil {
		defer stopWatcher()
	}

	if err := r.manager.EnsureTreeStates(ctx); err != nil {
		return fmt.Errorf("initial maintenance: %w", err)
	}
	log.Info(log.CatManager, "Daemon started", "interval", maintenanceInterval)

	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info(log.CatManager, "Daemon stopping")
			return nil
		case <-ticker.C:
			if err := r.manager.EnsureTreeStates(ctx); err != nil {
				log.ErrorErr(log.CatManager, "Maintenance pass failed", err)
			}
			if err := r.manager.RetryScoringFailed(ctx); err != nil {
				log.ErrorErr(log.CatManager, "Scoring retry pass failed", err)
			}
		case <-reload:
			applyConfigReload(r)
		}
	}
}

// watchConfig watches the loaded config file. The returned channel fires on
// change; it is nil (never firing) when no config file is in use.
func watchConfig() (<-chan struct{}, func(), error) {
	path := viper.ConfigFileUsed()
	if path == "" {
		return nil, nil, nil
	}
	watcher, err := config.NewWatcher(config.DefaultWatcherConfig(path))
	if err != nil {
		return nil, nil, err
	}
	ch, err := watcher.Start()
	if err != nil {
		_ = watcher.Stop()
		return nil, nil, err
	}
	return ch, func() { _ = watcher.Stop() }, nil
}

// applyConfigReload re-reads the config file and applies the settings that
// can change at runtime: the tree manager knobs and the log level.
func applyConfigReload(r *runtime) {
	if err := viper.ReadInConfig(); err != nil {
		log.ErrorErr(log.CatConfig, "Config reload failed", err)
		return
	}
	var next config.Config
	if err := viper.Unmarshal(&next); err != nil {
		log.ErrorErr(log.CatConfig, "Config reload failed", err)
		return
	}
	if err := config.ValidateTreeManager(next.TreeManager); err != nil {
		log.ErrorErr(log.CatConfig, "Rejected reloaded config", err)
		return
	}
	cfg.TreeManager = next.TreeManager
	cfg.Log.Level = next.Log.Level
	log.SetMinLevel(cfg.Log.LogLevel())
	r.reloadManager(cfg.TreeManager)
	log.Info(log.CatConfig, "Config reloaded", "file", viper.ConfigFileUsed())
}

// followLogEvents tails the in-process log broker to stdout.
func followLogEvents(ctx context.Context) {
	listener := log.NewListener(ctx)
	if listener == nil {
		return
	}
	for {
		event, ok := listener.Next()
		if !ok {
			return
		}
		fmt.Print(event.Payload)
	}
}
