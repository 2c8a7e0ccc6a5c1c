package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Ajpantuso/replset-guard/internal/audit"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var errChainBroken = errors.New("audit chain is broken")

func newAuditCommand(viper *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and maintain the audit log",
	}

	cmd.AddCommand(newAuditVerifyCommand(viper))
	cmd.AddCommand(newAuditStatsCommand(viper))
	cmd.AddCommand(newAuditPruneCommand(viper))

	return cmd
}

func newAuditVerifyCommand(viper *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Recompute the hash chain and report the first broken entry",
		RunE: withAuditLog(viper, func(cmd *cobra.Command, log *audit.Log) error {
			res, err := log.Verify(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Valid {
				return fmt.Errorf("%w at sequence %d: %s", errChainBroken, res.BrokenAt, res.BrokenReason)
			}
			return nil
		}),
	}
}

func newAuditStatsCommand(viper *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print entry counts by kind, outcome and durability",
		RunE: withAuditLog(viper, func(cmd *cobra.Command, log *audit.Log) error {
			stats, err := log.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		}),
	}
}

func newAuditPruneCommand(viper *viper.Viper) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete entries older than the given age",
		RunE: withAuditLog(viper, func(cmd *cobra.Command, log *audit.Log) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			removed, err := log.Prune(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			logger.Infow("Audit log pruned",
				"older_than", olderThan,
				"removed", removed,
			)
			return printJSON(cmd.OutOrStdout(), map[string]int{"removed": removed})
		}),
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Minimum age of deleted entries")

	return cmd
}

func withAuditLog(viper *viper.Viper, fn func(*cobra.Command, *audit.Log) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		log, err := openAuditLog(viper)
		if err != nil {
			return err
		}
		defer log.Close()
		return fn(cmd, log)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
