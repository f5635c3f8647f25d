package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/arborworks/arbor/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the arbor configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a commented default config file",
	RunE:  runConfigInit,
}

var configSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Write the effective tree manager and enrichment settings back to the config file",
	Long: `Persists the tree_manager and hf sections as currently resolved from
flags, environment and file. Comments in other sections are preserved.`,
	RunE: runConfigSave,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSaveCmd)
	rootCmd.AddCommand(configCmd)
}

// configFilePath resolves where config commands read and write.
func configFilePath() (string, error) {
	if used := viper.ConfigFileUsed(); used != "" {
		return used, nil
	}
	if cfgFile != "" {
		return cfgFile, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".arbor", "config.yaml"), nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path, err := configFilePath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := config.WriteDefaultConfig(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", path)
	return nil
}

func runConfigSave(cmd *cobra.Command, args []string) error {
	if err := config.ValidateTreeManager(cfg.TreeManager); err != nil {
		return err
	}
	path, err := configFilePath()
	if err != nil {
		return err
	}
	if err := config.SaveTreeManager(path, cfg.TreeManager); err != nil {
		return err
	}
	if err := config.SaveHF(path, cfg.HF); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", path)
	return nil
}
