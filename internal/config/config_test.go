package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborworks/arbor/internal/log"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	require.Equal(t, 12, cfg.TreeManager.GoalTreeSize)
	require.Equal(t, 10, cfg.TreeManager.MaxActiveTrees)
	require.Equal(t, 3, cfg.TreeManager.MaxTreeDepth)
	require.Equal(t, 3, cfg.TreeManager.MaxChildrenCount)
	require.Equal(t, 3, cfg.TreeManager.NumRequiredRankings)
	require.Equal(t, 0.6, cfg.TreeManager.AcceptanceThresholdInitialPrompt)
	require.Equal(t, 0.6, cfg.TreeManager.AcceptanceThresholdReply)
	require.Equal(t, 0.75, cfg.TreeManager.PLonelyChildExtension)
	require.False(t, cfg.TreeManager.RankPrompterReplies)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, "file", cfg.Tracing.Exporter)
	require.Equal(t, 1.0, cfg.Tracing.SampleRate)
}

func TestDefaults_Validate(t *testing.T) {
	require.NoError(t, Validate(Defaults()))
}

func TestDefaults_MandatoryLabelsWithinVocabulary(t *testing.T) {
	cfg := Defaults()
	for _, pair := range []struct {
		labels    []string
		mandatory []string
	}{
		{cfg.TreeManager.LabelsInitialPrompt, cfg.TreeManager.MandatoryLabelsInitialPrompt},
		{cfg.TreeManager.LabelsAssistantReply, cfg.TreeManager.MandatoryLabelsAssistantReply},
		{cfg.TreeManager.LabelsPrompterReply, cfg.TreeManager.MandatoryLabelsPrompterReply},
	} {
		for _, m := range pair.mandatory {
			assert.Contains(t, pair.labels, m)
		}
	}
}

func TestValidateTreeManager_GoalTreeSize(t *testing.T) {
	tm := Defaults().TreeManager
	tm.GoalTreeSize = 0
	err := ValidateTreeManager(tm)
	require.Error(t, err)
	require.Contains(t, err.Error(), "goal_tree_size")
}

func TestValidateTreeManager_ProbabilityRange(t *testing.T) {
	tm := Defaults().TreeManager
	tm.PActivateBacklogTree = 1.5
	err := ValidateTreeManager(tm)
	require.Error(t, err)
	require.Contains(t, err.Error(), "p_activate_backlog_tree")

	tm = Defaults().TreeManager
	tm.AcceptanceThresholdReply = -0.1
	err = ValidateTreeManager(tm)
	require.Error(t, err)
	require.Contains(t, err.Error(), "acceptance_threshold_reply")
}

func TestValidateTracing_InvalidExporter(t *testing.T) {
	err := ValidateTracing(TracingConfig{Exporter: "jaeger", SampleRate: 1.0})
	require.Error(t, err)
	require.Contains(t, err.Error(), "exporter")
}

func TestValidateTracing_SampleRateRange(t *testing.T) {
	err := ValidateTracing(TracingConfig{SampleRate: 2.0})
	require.Error(t, err)
	require.Contains(t, err.Error(), "sample_rate")
}

func TestValidateTracing_FilePathRequiredWhenEnabled(t *testing.T) {
	err := ValidateTracing(TracingConfig{Enabled: true, Exporter: "file", SampleRate: 1.0})
	require.Error(t, err)
	require.Contains(t, err.Error(), "file_path")

	// Disabled tracing doesn't need a path
	err = ValidateTracing(TracingConfig{Enabled: false, Exporter: "file", SampleRate: 1.0})
	require.NoError(t, err)
}

func TestLogConfig_LogLevel(t *testing.T) {
	require.Equal(t, log.LevelDebug, LogConfig{Level: "debug"}.LogLevel())
	require.Equal(t, log.LevelWarn, LogConfig{Level: "warn"}.LogLevel())
	require.Equal(t, log.LevelError, LogConfig{Level: "error"}.LogLevel())
	require.Equal(t, log.LevelInfo, LogConfig{Level: "info"}.LogLevel())
	require.Equal(t, log.LevelInfo, LogConfig{Level: "verbose"}.LogLevel())
}

func TestWriteDefaultConfig(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "nested", "config.yaml")

	err := WriteDefaultConfig(configPath)
	require.NoError(t, err)

	_, err = os.Stat(configPath)
	require.NoError(t, err)
}

func TestWriteDefaultConfig_TemplateParses(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	require.NoError(t, WriteDefaultConfig(configPath))

	v := viper.New()
	v.SetConfigFile(configPath)
	require.NoError(t, v.ReadInConfig())

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	// Template values mirror the compiled defaults
	def := Defaults()
	assert.Equal(t, def.TreeManager.GoalTreeSize, cfg.TreeManager.GoalTreeSize)
	assert.Equal(t, def.TreeManager.MaxActiveTrees, cfg.TreeManager.MaxActiveTrees)
	assert.Equal(t, def.TreeManager.NumRequiredRankings, cfg.TreeManager.NumRequiredRankings)
	assert.Equal(t, def.TreeManager.PLonelyChildExtension, cfg.TreeManager.PLonelyChildExtension)
	assert.Equal(t, def.TreeManager.RecentTasksSpanSec, cfg.TreeManager.RecentTasksSpanSec)
	assert.Equal(t, def.Log.Level, cfg.Log.Level)
}
