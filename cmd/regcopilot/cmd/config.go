package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ovokpus/regcopilot/configs"
	"github.com/ovokpus/regcopilot/internal/output"
)

// projectConfigName is the discovered config file in the working directory.
const projectConfigName = ".regcopilot.yaml"

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage regcopilot configuration",
		Long: `Manage the project configuration file.

Configuration is resolved in order: built-in defaults, then the config file
(--config flag, REGCOPILOT_CONFIG, or a discovered ` + projectConfigName + `),
then environment variables (PORT, OPENAI_API_KEY, REGCOPILOT_*).`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a project configuration file",
		Long: `Write the commented configuration template to ` + projectConfigName + ` in the
current directory. Every setting in the template is optional; defaults work
out of the box.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}

func runConfigInit(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())

	path, err := filepath.Abs(projectConfigName)
	if err != nil {
		path = projectConfigName
	}

	if _, err := os.Stat(path); err == nil && !force {
		out.Warningf("%s already exists (use --force to overwrite)", path)
		return nil
	}

	// The template ships embedded so binary installs can generate it too.
	if err := os.WriteFile(path, []byte(configs.ConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	out.Successf("Created %s", path)
	return nil
}

func newConfigShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long: `Print the fully resolved configuration: defaults, config file, and
environment overrides merged in order. The OpenAI API key is omitted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runConfigShow(cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Never print credentials, whatever source they came from.
	cfg.OpenAI.APIKey = ""

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
