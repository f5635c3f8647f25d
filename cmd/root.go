// Package cmd wires the arbor command line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/arborworks/arbor/internal/config"
	"github.com/arborworks/arbor/internal/hf"
	"github.com/arborworks/arbor/internal/infrastructure/sqlite"
	"github.com/arborworks/arbor/internal/log"
	"github.com/arborworks/arbor/internal/manager"
	"github.com/arborworks/arbor/internal/tracing"
)

var (
	version = "dev"
	cfgFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "arbor",
	Short: "Conversation tree manager for crowd-sourced dialogue collection",
	Long: `Arbor grows conversation trees from crowd contributions: it dispatches
prompt, reply, labeling and ranking tasks, reviews submissions, and drives
each tree through its life-cycle until a ranked dataset can be exported.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.arbor/config.yaml)")
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("database.path", defaults.Database.Path)
	viper.SetDefault("log.path", defaults.Log.Path)
	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.file_path", defaults.Tracing.FilePath)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("hf.feature_extraction_url", defaults.HF.FeatureExtractionURL)
	viper.SetDefault("hf.toxicity_url", defaults.HF.ToxicityURL)
	viper.SetDefault("hf.timeout_sec", defaults.HF.TimeoutSec)
	viper.SetDefault("hf.cache_ttl_sec", defaults.HF.CacheTTLSec)
	viper.SetDefault("debug.skip_embedding_computation", false)
	viper.SetDefault("debug.skip_toxicity_calculation", false)
	viper.SetDefault("debug.allow_self_labeling", false)
	viper.SetDefault("debug.allow_duplicate_tasks", false)
	setTreeManagerDefaults(defaults.TreeManager)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .arbor/config.yaml (current directory)
		// 2. ~/.arbor/config.yaml (user config)
		if _, err := os.Stat(".arbor/config.yaml"); err == nil {
			viper.SetConfigFile(".arbor/config.yaml")
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".arbor"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}
	viper.SetEnvPrefix("ARBOR")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && cfgFile != "" {
			fmt.Fprintf(os.Stderr, "reading config: %v\n", err)
		}
	}

	_ = viper.Unmarshal(&cfg)
}

func setTreeManagerDefaults(tm config.TreeManagerConfig) {
	viper.SetDefault("tree_manager.goal_tree_size", tm.GoalTreeSize)
	viper.SetDefault("tree_manager.max_active_trees", tm.MaxActiveTrees)
	viper.SetDefault("tree_manager.max_tree_depth", tm.MaxTreeDepth)
	viper.SetDefault("tree_manager.max_children_count", tm.MaxChildrenCount)
	viper.SetDefault("tree_manager.num_reviews_initial_prompt", tm.NumReviewsInitialPrompt)
	viper.SetDefault("tree_manager.num_reviews_reply", tm.NumReviewsReply)
	viper.SetDefault("tree_manager.acceptance_threshold_initial_prompt", tm.AcceptanceThresholdInitialPrompt)
	viper.SetDefault("tree_manager.acceptance_threshold_reply", tm.AcceptanceThresholdReply)
	viper.SetDefault("tree_manager.num_required_rankings", tm.NumRequiredRankings)
	viper.SetDefault("tree_manager.p_full_labeling_review_initial_prompt", tm.PFullLabelingReviewInitialPrompt)
	viper.SetDefault("tree_manager.p_full_labeling_review_reply_assistant", tm.PFullLabelingReviewReplyAssistant)
	viper.SetDefault("tree_manager.p_full_labeling_review_reply_prompter", tm.PFullLabelingReviewReplyPrompter)
	viper.SetDefault("tree_manager.p_lonely_child_extension", tm.PLonelyChildExtension)
	viper.SetDefault("tree_manager.lonely_children_count", tm.LonelyChildrenCount)
	viper.SetDefault("tree_manager.recent_tasks_span_sec", tm.RecentTasksSpanSec)
	viper.SetDefault("tree_manager.p_activate_backlog_tree", tm.PActivateBacklogTree)
	viper.SetDefault("tree_manager.min_active_rankings_per_lang", tm.MinActiveRankingsPerLang)
	viper.SetDefault("tree_manager.rank_prompter_replies", tm.RankPrompterReplies)
	viper.SetDefault("tree_manager.labels_initial_prompt", tm.LabelsInitialPrompt)
	viper.SetDefault("tree_manager.labels_assistant_reply", tm.LabelsAssistantReply)
	viper.SetDefault("tree_manager.labels_prompter_reply", tm.LabelsPrompterReply)
	viper.SetDefault("tree_manager.mandatory_labels_initial_prompt", tm.MandatoryLabelsInitialPrompt)
	viper.SetDefault("tree_manager.mandatory_labels_assistant_reply", tm.MandatoryLabelsAssistantReply)
	viper.SetDefault("tree_manager.mandatory_labels_prompter_reply", tm.MandatoryLabelsPrompterReply)
}

// runtime bundles the pieces every subcommand needs: storage, the tree
// manager, and the shutdown hooks in reverse open order.
type runtime struct {
	db          *sqlite.DB
	manager     *manager.TreeManager
	managerOpts []manager.Option
	cleanup     []func()
}

func (r *runtime) Close() {
	r.manager.Wait()
	for i := len(r.cleanup) - 1; i >= 0; i-- {
		r.cleanup[i]()
	}
}

// reloadManager swaps in a manager with new settings once in-flight
// enrichment has drained. Only the serve loop calls this.
func (r *runtime) reloadManager(tm config.TreeManagerConfig) {
	r.manager.Wait()
	r.manager = manager.New(r.db, tm, r.managerOpts...)
}

// openRuntime validates the configuration and opens the database, logger,
// tracer and tree manager.
func openRuntime() (*runtime, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	r := &runtime{}
	if cfg.Log.Path != "" {
		closeLog, err := log.Init(cfg.Log.Path)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		log.SetMinLevel(cfg.Log.LogLevel())
		r.cleanup = append(r.cleanup, closeLog)
	}

	provider, err := tracing.NewProvider(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		Exporter:     cfg.Tracing.Exporter,
		FilePath:     cfg.Tracing.FilePath,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
	})
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("starting tracing: %w", err)
	}
	r.cleanup = append(r.cleanup, func() {
		_ = provider.Shutdown(context.Background())
	})

	db, err := sqlite.NewDB(cfg.Database.Path)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}
	r.db = db
	r.cleanup = append(r.cleanup, func() { _ = db.Close() })

	opts := []manager.Option{
		manager.WithTracer(provider.Tracer()),
		manager.WithDebug(cfg.Debug),
	}
	if cfg.HF.FeatureExtractionURL != "" || cfg.HF.ToxicityURL != "" {
		opts = append(opts, manager.WithEnricher(hf.New(cfg.HF, cfg.Debug)))
	}
	r.managerOpts = opts
	r.manager = manager.New(db, cfg.TreeManager, opts...)
	return r, nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
