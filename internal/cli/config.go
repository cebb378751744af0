package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/provenant/internal/model"
)

var (
	configFormat   string
	configForce    bool
	configCheckLLM bool
)

const configHeader = `# Provenant configuration
#
# Precedence: flags, then PROVENANT_* environment variables
# (PROVENANT_QUEUE_LEASE=5m sets queue.lease), then this file, then defaults.
#
# API keys are read from the provider's own variable and never stored here:
#   OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY
# A local Ollama server is reached through llm.base_url or OLLAMA_BASE_URL.

`

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and create the configuration file",
	Long: `Inspect and create the Provenant configuration file.

Settings resolve from flags, then PROVENANT_* environment variables, then
~/.provenant/config.yaml (or --config), then built-in defaults.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if used := viper.ConfigFileUsed(); used != "" {
			fmt.Fprintf(os.Stderr, "# from %s\n", used)
		} else {
			fmt.Fprintln(os.Stderr, "# no configuration file, defaults and environment only")
		}

		keyState := "missing"
		if cfg.LLM.APIKey != "" || cfg.LLM.Provider == "ollama" {
			keyState = "ok"
		}
		fmt.Fprintf(os.Stderr, "# llm credentials for %s: %s\n", cfg.LLM.Provider, keyState)

		return writeConfig(cmd, cfg, configFormat)
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print where the configuration file is read from",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the resolved configuration",
	Long: `Check the resolved configuration without opening the store or queue.
With --check-llm the configured provider is also asked whether it is
reachable; no generation is spent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "✓ configuration is valid")
		if !configCheckLLM {
			return nil
		}
		if err := checkLLM(cmd.Context(), cfg.LLM); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ llm provider %s is reachable\n", cfg.LLM.Provider)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with every default spelled out",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		if err := initConfigFile(path, configForce); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ wrote %s\n", path)
		fmt.Fprintln(os.Stderr, "  review it with: provenant config show")
		return nil
	},
}

// configPath is --config when given, else ~/.provenant/config.yaml
func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("find home directory: %w", err)
	}
	return filepath.Join(home, ".provenant", "config.yaml"), nil
}

// initConfigFile writes the defaults to path. An existing file is kept
// unless force is set.
func initConfigFile(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	body, err := yaml.Marshal(model.DefaultConfig())
	if err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, append([]byte(configHeader), body...), 0o600)
}

func writeConfig(cmd *cobra.Command, cfg *model.Config, format string) error {
	out := cmd.OutOrStdout()
	switch format {
	case "yaml", "":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("encode configuration: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	default:
		return fmt.Errorf("unknown format %q (supported: yaml, json)", format)
	}
}

func init() {
	configShowCmd.Flags().StringVar(&configFormat, "format", "yaml", "output format: yaml or json")
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
	configValidateCmd.Flags().BoolVar(&configCheckLLM, "check-llm", false, "also check that the llm provider is reachable")

	configCmd.AddCommand(configShowCmd, configPathCmd, configValidateCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}
