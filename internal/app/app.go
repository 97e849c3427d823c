// Package app holds the triage command line: the HTTP service and its
// maintenance commands.
package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	pkgconfig "mailtriage/pkg/config"
)

type rootOptions struct {
	env       string
	configDir string
}

var opts rootOptions

var rootCmd = &cobra.Command{
	Use:   "triage",
	Short: "Email triage assistant",
	Long:  "Categorizes, summarizes and drafts replies for a mailbox using an LLM",
	// 错误信息由 Execute 统一输出
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&opts.env, "env", pkgconfig.GetConfigEnv(), "config environment (loads config/<env>.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.configDir, "config-dir", "config", "directory holding base.yaml and secrets.env")

	rootCmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newSeedCmd(),
		newAnalyzeCmd(),
		newImportCmd(),
		newTokenCmd(),
	)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
