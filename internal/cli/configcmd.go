package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate and print the effective configuration",
	Long: `Loads the config file (default .autocoder/config.yaml, or --config),
applies defaults, validates it and prints the result as YAML together with
the checkpoints the selected mode arms.

Exits non-zero when the file cannot be read or is invalid.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	p, err := loadProject()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(p.cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, string(data))

	preset := p.cfg.EffectivePreset()
	fmt.Fprintf(out, "\n# effective checkpoints for mode %q\n", p.cfg.Mode)
	fmt.Fprintf(out, "#   turn_interval: %d\n", preset.TurnInterval)
	fmt.Fprintf(out, "#   before_new_task: %t\n", preset.BeforeNewTask)
	fmt.Fprintf(out, "#   after_phase: %t\n", preset.AfterPhase)
	fmt.Fprintf(out, "#   on_regression: %t\n", preset.OnRegression)
	fmt.Fprintf(out, "#   on_blocker: %t\n", preset.OnBlocker)
	fmt.Fprintf(out, "#   on_uncertainty: %t\n", preset.OnUncertainty)
	return nil
}
