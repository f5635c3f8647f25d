// Package config provides configuration types and defaults for arbor.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/arborworks/arbor/internal/log"
)

// Config holds all configuration options for arbor.
type Config struct {
	Database    DatabaseConfig    `mapstructure:"database"`
	Log         LogConfig         `mapstructure:"log"`
	TreeManager TreeManagerConfig `mapstructure:"tree_manager"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
	HF          HFConfig          `mapstructure:"hf"`
	Debug       DebugConfig       `mapstructure:"debug"`
}

// DatabaseConfig holds sqlite storage configuration.
type DatabaseConfig struct {
	// Path is the sqlite database file. Default: ~/.arbor/arbor.db
	Path string `mapstructure:"path"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	// Path is the log file. Default: ~/.arbor/arbor.log
	Path string `mapstructure:"path"`

	// Level is the minimum level written: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
}

// TreeManagerConfig holds the knobs that drive tree growth, review and
// ranking. All probabilities are in [0,1].
type TreeManagerConfig struct {
	// GoalTreeSize is the number of accepted messages at which a tree stops
	// growing and enters ranking.
	GoalTreeSize int `mapstructure:"goal_tree_size"`

	// MaxActiveTrees caps concurrently growing trees per language.
	MaxActiveTrees int `mapstructure:"max_active_trees"`

	// MaxTreeDepth is the deepest allowed message (root is depth 0).
	MaxTreeDepth int `mapstructure:"max_tree_depth"`

	// MaxChildrenCount caps replies below a single parent.
	MaxChildrenCount int `mapstructure:"max_children_count"`

	// NumReviewsInitialPrompt and NumReviewsReply set how many label reviews
	// a message collects before the acceptance decision.
	NumReviewsInitialPrompt int `mapstructure:"num_reviews_initial_prompt"`
	NumReviewsReply         int `mapstructure:"num_reviews_reply"`

	// AcceptanceThresholdInitialPrompt and AcceptanceThresholdReply are the
	// minimum acceptance scores (1 - mean spam - mean lang_mismatch).
	AcceptanceThresholdInitialPrompt float64 `mapstructure:"acceptance_threshold_initial_prompt"`
	AcceptanceThresholdReply         float64 `mapstructure:"acceptance_threshold_reply"`

	// NumRequiredRankings is how many rankings each reply group collects
	// before consensus is computed.
	NumRequiredRankings int `mapstructure:"num_required_rankings"`

	// PFullLabelingReviewInitialPrompt et al. select the full labeling form
	// over the simple spam-only form with the given probability.
	PFullLabelingReviewInitialPrompt  float64 `mapstructure:"p_full_labeling_review_initial_prompt"`
	PFullLabelingReviewReplyAssistant float64 `mapstructure:"p_full_labeling_review_reply_assistant"`
	PFullLabelingReviewReplyPrompter  float64 `mapstructure:"p_full_labeling_review_reply_prompter"`

	// PLonelyChildExtension is the probability of preferring parents whose
	// reply count is below LonelyChildrenCount when dispatching reply tasks.
	PLonelyChildExtension float64 `mapstructure:"p_lonely_child_extension"`
	LonelyChildrenCount   int     `mapstructure:"lonely_children_count"`

	// RecentTasksSpanSec suppresses re-dispatching targets a reply task was
	// handed out for within this window, while that task is still open.
	RecentTasksSpanSec int `mapstructure:"recent_tasks_span_sec"`

	// PActivateBacklogTree is the probability of promoting a backlog tree
	// when an active slot frees up.
	PActivateBacklogTree float64 `mapstructure:"p_activate_backlog_tree"`

	// MinActiveRankingsPerLang promotes an extra backlog tree whenever the
	// language has fewer incomplete reply rankings than this. Zero disables
	// the top-up.
	MinActiveRankingsPerLang int `mapstructure:"min_active_rankings_per_lang"`

	// RankPrompterReplies enables ranking tasks over prompter reply groups.
	RankPrompterReplies bool `mapstructure:"rank_prompter_replies"`

	// Label vocabularies per message kind, and the subset every full review
	// must include.
	LabelsInitialPrompt           []string `mapstructure:"labels_initial_prompt"`
	LabelsAssistantReply          []string `mapstructure:"labels_assistant_reply"`
	LabelsPrompterReply           []string `mapstructure:"labels_prompter_reply"`
	MandatoryLabelsInitialPrompt  []string `mapstructure:"mandatory_labels_initial_prompt"`
	MandatoryLabelsAssistantReply []string `mapstructure:"mandatory_labels_assistant_reply"`
	MandatoryLabelsPrompterReply  []string `mapstructure:"mandatory_labels_prompter_reply"`
}

// TracingConfig holds distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether tracing is active. Default: false
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the trace export backend.
	// Options: "none", "file", "stdout", "otlp"
	// Default: "file"
	Exporter string `mapstructure:"exporter"`

	// FilePath is the output file for "file" exporter.
	// Default: ~/.arbor/traces/traces.jsonl
	FilePath string `mapstructure:"file_path"`

	// OTLPEndpoint is the collector endpoint for "otlp" exporter.
	// Default: "localhost:4317"
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// SampleRate controls trace sampling (0.0 to 1.0).
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate"`
}

// HFConfig holds Hugging Face inference API configuration for message
// enrichment (embeddings and toxicity).
type HFConfig struct {
	FeatureExtractionURL string `mapstructure:"feature_extraction_url"`
	ToxicityURL          string `mapstructure:"toxicity_url"`
	APIKey               string `mapstructure:"api_key"`
	TimeoutSec           int    `mapstructure:"timeout_sec"`
	CacheTTLSec          int    `mapstructure:"cache_ttl_sec"`
}

// DebugConfig holds development switches. All default to off.
type DebugConfig struct {
	SkipEmbeddingComputation bool `mapstructure:"skip_embedding_computation"`
	SkipToxicityCalculation  bool `mapstructure:"skip_toxicity_calculation"`

	// AllowSelfLabeling lets users review their own messages.
	AllowSelfLabeling bool `mapstructure:"allow_self_labeling"`

	// AllowDuplicateTasks lets users take repeat tasks on the same target,
	// such as another reply under a parent they already answered or another
	// ranking of the same sibling group.
	AllowDuplicateTasks bool `mapstructure:"allow_duplicate_tasks"`
}

// DefaultDatabasePath returns ~/.arbor/arbor.db or empty string if home dir
// is unavailable.
func DefaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".arbor", "arbor.db")
}

// DefaultLogPath returns ~/.arbor/arbor.log or empty string if home dir is
// unavailable.
func DefaultLogPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".arbor", "arbor.log")
}

// DefaultTracesFilePath returns the default path for trace file export.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".arbor", "traces", "traces.jsonl")
}

// Defaults returns a Config with sensible default values. The tree manager
// numbers match the reference crowd-sourcing deployment.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Path: DefaultDatabasePath(),
		},
		Log: LogConfig{
			Path:  DefaultLogPath(),
			Level: "info",
		},
		TreeManager: TreeManagerConfig{
			GoalTreeSize:                      12,
			MaxActiveTrees:                    10,
			MaxTreeDepth:                      3,
			MaxChildrenCount:                  3,
			NumReviewsInitialPrompt:           3,
			NumReviewsReply:                   3,
			AcceptanceThresholdInitialPrompt:  0.6,
			AcceptanceThresholdReply:          0.6,
			NumRequiredRankings:               3,
			PFullLabelingReviewInitialPrompt:  0.1,
			PFullLabelingReviewReplyAssistant: 0.1,
			PFullLabelingReviewReplyPrompter:  0.1,
			PLonelyChildExtension:             0.75,
			LonelyChildrenCount:               2,
			RecentTasksSpanSec:                300,
			PActivateBacklogTree:              0.1,
			MinActiveRankingsPerLang:          0,
			RankPrompterReplies:               false,
			LabelsInitialPrompt: []string{
				"spam", "lang_mismatch", "quality", "creativity", "humor",
				"toxicity", "violence", "not_appropriate", "pii",
				"hate_speech", "sexual_content",
			},
			LabelsAssistantReply: []string{
				"spam", "lang_mismatch", "quality", "helpfulness",
				"creativity", "humor", "toxicity", "violence",
				"not_appropriate", "pii", "hate_speech", "sexual_content",
			},
			LabelsPrompterReply: []string{
				"spam", "lang_mismatch", "quality", "creativity", "humor",
				"toxicity", "violence", "not_appropriate", "pii",
				"hate_speech", "sexual_content",
			},
			MandatoryLabelsInitialPrompt:  []string{"spam", "lang_mismatch"},
			MandatoryLabelsAssistantReply: []string{"spam", "lang_mismatch"},
			MandatoryLabelsPrompterReply:  []string{"spam", "lang_mismatch"},
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     "", // Derived from home dir at runtime
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
		HF: HFConfig{
			FeatureExtractionURL: "https://api-inference.huggingface.co/pipeline/feature-extraction/sentence-transformers/all-MiniLM-L6-v2",
			ToxicityURL:          "https://api-inference.huggingface.co/models/unitary/multilingual-toxic-xlm-roberta",
			TimeoutSec:           30,
			CacheTTLSec:          600,
		},
		Debug: DebugConfig{},
	}
}

// ValidateTreeManager checks tree manager configuration for errors.
// Returns nil if the configuration is valid (zero values use defaults).
func ValidateTreeManager(tm TreeManagerConfig) error {
	if tm.GoalTreeSize < 1 {
		return fmt.Errorf("tree_manager.goal_tree_size must be at least 1, got %d", tm.GoalTreeSize)
	}
	if tm.MaxTreeDepth < 1 {
		return fmt.Errorf("tree_manager.max_tree_depth must be at least 1, got %d", tm.MaxTreeDepth)
	}
	if tm.MaxChildrenCount < 1 {
		return fmt.Errorf("tree_manager.max_children_count must be at least 1, got %d", tm.MaxChildrenCount)
	}
	if tm.NumRequiredRankings < 1 {
		return fmt.Errorf("tree_manager.num_required_rankings must be at least 1, got %d", tm.NumRequiredRankings)
	}
	for key, p := range map[string]float64{
		"tree_manager.acceptance_threshold_initial_prompt":    tm.AcceptanceThresholdInitialPrompt,
		"tree_manager.acceptance_threshold_reply":             tm.AcceptanceThresholdReply,
		"tree_manager.p_full_labeling_review_initial_prompt":  tm.PFullLabelingReviewInitialPrompt,
		"tree_manager.p_full_labeling_review_reply_assistant": tm.PFullLabelingReviewReplyAssistant,
		"tree_manager.p_full_labeling_review_reply_prompter":  tm.PFullLabelingReviewReplyPrompter,
		"tree_manager.p_lonely_child_extension":               tm.PLonelyChildExtension,
		"tree_manager.p_activate_backlog_tree":                tm.PActivateBacklogTree,
	} {
		if p < 0.0 || p > 1.0 {
			return fmt.Errorf("%s must be between 0.0 and 1.0, got %v", key, p)
		}
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tracing TracingConfig) error {
	if tracing.SampleRate < 0.0 || tracing.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tracing.SampleRate)
	}

	if tracing.Exporter != "" {
		switch tracing.Exporter {
		case "none", "file", "stdout", "otlp":
			// Valid
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tracing.Exporter)
		}
	}

	// Only validate path requirements when tracing is enabled
	if tracing.Enabled {
		if tracing.Exporter == "file" && tracing.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tracing.Exporter == "otlp" && tracing.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}

	return nil
}

// Validate checks the whole configuration.
func Validate(cfg Config) error {
	if err := ValidateTreeManager(cfg.TreeManager); err != nil {
		return err
	}
	return ValidateTracing(cfg.Tracing)
}

// LogLevel maps the configured level string onto a log.Level.
// Unknown values fall back to info.
func (l LogConfig) LogLevel() log.Level {
	switch l.Level {
	case "debug":
		return log.LevelDebug
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	default:
		return log.LevelInfo
	}
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# Arbor Configuration

# Storage
database:
  # path: ~/.arbor/arbor.db

# Logging
log:
  # path: ~/.arbor/arbor.log
  level: info   # debug, info, warn, error

# Tree manager settings
tree_manager:
  # Growth limits
  goal_tree_size: 12         # Accepted messages before ranking begins
  max_active_trees: 10       # Concurrently growing trees per language
  max_tree_depth: 3          # Deepest reply level (root is depth 0)
  max_children_count: 3      # Replies collected below one parent

  # Review
  num_reviews_initial_prompt: 3
  num_reviews_reply: 3
  acceptance_threshold_initial_prompt: 0.6
  acceptance_threshold_reply: 0.6

  # Probability of asking for the full label set instead of spam-only
  p_full_labeling_review_initial_prompt: 0.1
  p_full_labeling_review_reply_assistant: 0.1
  p_full_labeling_review_reply_prompter: 0.1

  # Ranking
  num_required_rankings: 3
  rank_prompter_replies: false
  min_active_rankings_per_lang: 0

  # Dispatch shaping
  p_lonely_child_extension: 0.75
  lonely_children_count: 2
  recent_tasks_span_sec: 300
  p_activate_backlog_tree: 0.1

# Distributed tracing
# tracing:
#   enabled: false                 # Enable/disable tracing (default: false)
#   exporter: file                 # Export backend: none, file, stdout, otlp
#   file_path: ~/.arbor/traces/traces.jsonl
#   otlp_endpoint: localhost:4317  # OTLP collector endpoint (for otlp exporter)
#   sample_rate: 1.0               # Trace sampling rate 0.0-1.0

# Hugging Face enrichment (embeddings and toxicity scores)
# hf:
#   feature_extraction_url: https://api-inference.huggingface.co/pipeline/feature-extraction/sentence-transformers/all-MiniLM-L6-v2
#   toxicity_url: https://api-inference.huggingface.co/models/unitary/multilingual-toxic-xlm-roberta
#   api_key: ""
#   timeout_sec: 30
#   cache_ttl_sec: 600

# Development switches
# debug:
#   skip_embedding_computation: false
#   skip_toxicity_calculation: false
#   allow_self_labeling: false
#   allow_duplicate_tasks: false
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	// Create parent directory if needed
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write the template
	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
