package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/audit"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/clock"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/config"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/idempotency"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/migrate"
)

func migrateCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("database_url is required")
			}
			log := newLogger(cfg)
			b, err := openBackends(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer b.Close()
			applied, err := migrate.Up(cmd.Context(), b.db)
			if err != nil {
				return err
			}
			log.Info().Strs("applied", applied).Msg("migrations complete")
			return nil
		},
	}
}

func reapCmd(configFile *string) *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Fail pending transfers whose OTP has expired, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			log := newLogger(cfg)
			b, err := openBackends(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer b.Close()
			engine, err := newEngine(cfg, b, log)
			if err != nil {
				return err
			}
			if batch <= 0 {
				batch = 100
			}
			total := 0
			for {
				n, err := engine.ReapExpiredTransfers(cmd.Context(), batch)
				if err != nil {
					return err
				}
				total += n
				if n < batch {
					break
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reaped %d transfers\n", total)
			return nil
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 100, "transfers per batch")
	return cmd
}

func cleanupIdempotencyCmd(configFile *string) *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "cleanup-idempotency",
		Short: "Delete expired idempotency keys, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			log := newLogger(cfg)
			b, err := openBackends(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer b.Close()
			guard := idempotency.NewGuard(b.idempotency, clock.RealClock{}, cfg.IdempotencyTTL)
			if batch <= 0 {
				batch = 500
			}
			var total int64
			for {
				n, err := guard.CleanupExpired(cmd.Context(), batch)
				if err != nil {
					return err
				}
				total += n
				if n < int64(batch) {
					break
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired idempotency keys\n", total)
			return nil
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 500, "keys per batch")
	return cmd
}

func auditVerifyCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "audit-verify",
		Short: "Recompute the audit hash chain and report the first broken link",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			log := newLogger(cfg)
			b, err := openBackends(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer b.Close()
			walker, ok := b.audit.(audit.Walker)
			if !ok {
				return fmt.Errorf("audit store %T cannot be walked", b.audit)
			}
			n, err := audit.VerifyStore(cmd.Context(), walker)
			if err != nil {
				log.Error().Err(err).Int("verified", n).Msg("audit chain broken")
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "verified %d audit events\n", n)
			return nil
		},
	}
}
