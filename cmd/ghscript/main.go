package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/ghscript/internal/config"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "ghscript",
		Short: "Run sandboxed scripts against your GitHub repository",
		Long: `ghscript executes a JavaScript snippet against a capability-scoped
GitHub API surface and prints the value it returns, or a classified failure.`,
	}

	rootCmd.PersistentFlags().String("config", config.DefaultPath, "path to config file")

	rootCmd.AddCommand(
		newRunCmd(),
		newCacheCmd(),
		newHistoryCmd(),
		newInitCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			cfg := config.DefaultConfig()
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Printf("Wrote %s, fill in repository.owner and repository.name\n", path)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ghscript %s\n", version)
		},
	}
}

// loadConfig reads and validates the config named by the --config flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
