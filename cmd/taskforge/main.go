// Command taskforge manages a project's task collection. All argument
// parsing lives here; the behavior is in internal/service and friends.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	// Optional .env for TASKFORGE_* overrides; absence is fine.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "taskforge",
		Short:         "taskforge - hierarchical task tracking with hookable mutations",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringP("project", "p", ".", "project root directory")
	rootCmd.PersistentFlags().Bool("verbose", false, "debug logging")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(forgetCmd())
	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(doneCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(reopenCmd())
	rootCmd.AddCommand(rmCmd())
	rootCmd.AddCommand(updateCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
