package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mailtriage/internal/ingest"
	"mailtriage/internal/model"
	"mailtriage/internal/repository"
	"mailtriage/internal/seed"
	"mailtriage/pkg/auth"
)

func newMigrateCmd() *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if down {
				return repository.MigrateDown(cmd.Context(), cfg.DB.DSN(), log)
			}
			return repository.MigrateUp(cmd.Context(), cfg.DB.DSN(), log)
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "roll back the most recent migration")
	return cmd
}

func newSeedCmd() *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the demo mailbox and reset prompts to their defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			n, err := seed.NewSeeder(rt.emails, rt.prompts, rt.logger).Run(cmd.Context(), reset)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d emails.\n", n)
			return nil
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "delete all emails and analyses first")
	return cmd
}

func newAnalyzeCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze one batch of unanalyzed emails",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			run := rt.triage.RunBatch
			if all {
				run = rt.triage.ReanalyzeAll
			}
			summary, err := run(ctx)
			printSummary(cmd, summary)
			return err
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "clear every analysis and re-analyze from the oldest email")
	return cmd
}

func printSummary(cmd *cobra.Command, s model.BatchSummary) {
	if s.NothingToDo() {
		fmt.Fprintln(cmd.OutOrStdout(), "No new emails to process.")
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "processed=%d failed=%d total=%d\n", s.Processed, s.Failed, s.Total)
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.eml|dir>...",
		Short: "Import RFC 822 email files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := ingest.NewImporter(rt.triage, rt.logger).ImportFiles(cmd.Context(), args)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported=%d failed=%d\n", res.Imported, res.Failed)
			if res.Failed > 0 {
				return fmt.Errorf("%d file(s) could not be imported", res.Failed)
			}
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.JWT.Secret == "" {
				return fmt.Errorf("jwt.secret is not configured")
			}

			token, err := auth.GenerateJWT(subject, cfg.JWT.Secret, ttl)
			if err != nil {
				return err
			}
			log.Info("Issued API token", zap.String("subject", subject), zap.Duration("ttl", ttl))
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
