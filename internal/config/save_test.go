package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveTreeManager_CreatesNewFile(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	tm := Defaults().TreeManager
	tm.GoalTreeSize = 24

	err := SaveTreeManager(configPath, tm)
	require.NoError(t, err)

	// Verify file exists
	_, err = os.Stat(configPath)
	require.NoError(t, err)

	// Verify content
	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "goal_tree_size: 24")
	assert.Contains(t, string(data), "rank_prompter_replies: false")
}

func TestSaveTreeManager_PreservesOtherConfig(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	// Create initial config with other sections and comments
	initial := `# storage location
database:
  path: /data/arbor.db
log:
  level: debug
`
	err := os.WriteFile(configPath, []byte(initial), 0644)
	require.NoError(t, err)

	tm := Defaults().TreeManager
	tm.MaxActiveTrees = 50
	err = SaveTreeManager(configPath, tm)
	require.NoError(t, err)

	// Verify other settings preserved
	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "path: /data/arbor.db")
	assert.Contains(t, string(data), "level: debug")
	assert.Contains(t, string(data), "# storage location")
	assert.Contains(t, string(data), "max_active_trees: 50")
}

func TestSaveTreeManager_ReplacesExistingSection(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	initial := `tree_manager:
  goal_tree_size: 5
`
	require.NoError(t, os.WriteFile(configPath, []byte(initial), 0644))

	tm := Defaults().TreeManager
	require.NoError(t, SaveTreeManager(configPath, tm))

	v := viper.New()
	v.SetConfigFile(configPath)
	require.NoError(t, v.ReadInConfig())

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	assert.Equal(t, 12, cfg.TreeManager.GoalTreeSize)
	assert.Equal(t, tm.LabelsInitialPrompt, cfg.TreeManager.LabelsInitialPrompt)
}

func TestSaveTreeManager_RoundTrip(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	tm := Defaults().TreeManager
	tm.AcceptanceThresholdReply = 0.45
	tm.PActivateBacklogTree = 0.25
	tm.RankPrompterReplies = true
	require.NoError(t, SaveTreeManager(configPath, tm))

	v := viper.New()
	v.SetConfigFile(configPath)
	require.NoError(t, v.ReadInConfig())

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	assert.Equal(t, tm, cfg.TreeManager)
}

func TestSaveHF_OmitsEmptyAPIKey(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	hf := Defaults().HF
	require.NoError(t, SaveHF(configPath, hf))

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "api_key")
	assert.Contains(t, string(data), "timeout_sec: 30")
}
