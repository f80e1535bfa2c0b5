package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tigapply/internal/config"
	"tigapply/internal/logging"
	"tigapply/internal/repo"
)

var (
	logger  = zap.NewNop()
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "tig",
	Short: "Tig applies patches and updates references",
	Long: `Tig applies unified and git-style diffs to a working tree and index,
and updates references in atomic transactions.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogger,
}

// setupLogger builds the development logger for --verbose, and otherwise a
// production logger at the level of the repository config, if any.
func setupLogger(cmd *cobra.Command, args []string) error {
	if verbose {
		l, err := logging.NewDevelopment()
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		logger = l.Logger
		return nil
	}

	level := config.Default().LogLevel
	if root, err := repo.FindRoot("."); err == nil {
		if path := config.Path(root); path != "" {
			if cfg, err := config.Load(path); err == nil {
				level = cfg.LogLevel
			}
		}
	}
	l, err := logging.NewLogger(level)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	logger = l.Logger
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "report progress and log at debug level")

	var initCmd = &cobra.Command{
		Use:   "init [directory]",
		Short: "Create an empty Tig repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			root, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("getting absolute path for %s: %w", dir, err)
			}

			created, err := repo.Initialize(root, logger)
			if err != nil {
				return fmt.Errorf("initializing repository: %w", err)
			}
			if created {
				fmt.Printf("Initialized empty Tig repository in %s\n", filepath.Join(root, ".tig"))
			} else {
				fmt.Printf("Reinitialized existing Tig repository in %s\n", filepath.Join(root, ".tig"))
			}
			return nil
		},
	}

	rootCmd.AddCommand(initCmd, newApplyCmd(), newUpdateRefCmd())
}

func main() {
	err := rootCmd.Execute()
	logger.Sync()
	if err != nil {
		red := color.New(color.FgRed).SprintFunc()
		fmt.Fprintf(os.Stderr, "%s %v\n", red("error:"), err)
		os.Exit(1)
	}
}
