package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/thruflo/autocoder/internal/config"
	"github.com/thruflo/autocoder/internal/initializer"
)

var (
	initSpec        string
	initProjectName string
	initForce       bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Break a spec down into tasks",
	Long: `Reads the spec, asks the backend for a task breakdown and writes the tasks
to the state provider, followed by a marker file under .autocoder/.

This command also:
  - creates .autocoder/ with a default config.yaml if none exists
  - writes .autocoder/.gitignore for logs, approvals and local state

Init runs once per project. Use --force to run it again over an
existing marker; tasks already created are not removed.

Example:
  autocoder init --spec docs/spec.md
  autocoder init --spec docs/spec.md --project-name Billing`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initSpec, "spec", "s", "", "path to the specification (required)")
	initCmd.Flags().StringVar(&initProjectName, "project-name", "", "project name (default: project_name from config)")
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "run again over an existing marker")
	initCmd.MarkFlagRequired("spec")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	basePath, err := getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	if err := scaffold(basePath); err != nil {
		return err
	}

	p, err := loadProject()
	if err != nil {
		return err
	}
	if err := p.teeLogs(); err != nil {
		return err
	}
	defer p.close()

	prov, err := p.provider(ctx)
	if err != nil {
		return err
	}
	defer prov.Close()

	b, err := p.backend()
	if err != nil {
		return fmt.Errorf("failed to build backend: %w", err)
	}

	specPath := initSpec
	if !filepath.IsAbs(specPath) {
		specPath = filepath.Join(p.basePath, specPath)
	}

	in := initializer.New(prov, b, p.cfg, p.logger)
	res, err := in.Run(ctx, initializer.Options{
		BasePath:    p.basePath,
		SpecPath:    specPath,
		ProjectName: initProjectName,
		Force:       initForce,
	})
	var partial *initializer.PartialCreateError
	switch {
	case errors.As(err, &partial):
		fmt.Fprintf(out, "Created %d of %d tasks (provider: %s)\n", partial.Created, partial.Expected, prov.Name())
		return err
	case err != nil:
		return err
	}

	fmt.Fprintf(out, "Created %d tasks (provider: %s)\n", len(res.TaskIDs), res.Provider)
	fmt.Fprintf(out, "Breakdown extracted with %s.\n", res.Strategy)
	fmt.Fprintf(out, "\nRun 'autocoder start' to begin.\n")
	return nil
}

// scaffold creates .autocoder/ with a default config and .gitignore. Existing
// files are left alone.
func scaffold(basePath string) error {
	dir := filepath.Join(basePath, config.DirName)
	if err := os.MkdirAll(filepath.Join(dir, "logs"), 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	cfgPath := config.Path(basePath)
	if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
		cfg := config.DefaultConfig()
		cfg.ProjectName = filepath.Base(basePath)
		if err := config.Save(cfgPath, &cfg); err != nil {
			return err
		}
	}

	ignore := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(ignore); errors.Is(err, os.ErrNotExist) {
		content := "# autocoder local files\n.env\nlogs/\napprovals/\nSTOP\n*.db\n"
		if err := os.WriteFile(ignore, []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to write .gitignore: %w", err)
		}
	}
	return nil
}
