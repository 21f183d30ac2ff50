package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/shield/internal/audit"
	"github.com/sells-group/shield/internal/config"
	"github.com/sells-group/shield/internal/store"
)

var auditPageSize int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the hash-chained event log",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Recompute the event hash chain and report breaks or gaps",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(config.ModeCLI); err != nil {
			return err
		}
		st, err := initStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := audit.VerifyStore(cmd.Context(), st, auditPageSize)
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), res); err != nil {
			return err
		}
		if !res.Valid {
			return eris.Errorf("audit: chain broken at sequence %d: %s", res.BrokenAt, res.Error)
		}
		zap.L().Info("audit chain verified",
			zap.Int("records", res.Records),
			zap.Uint64("last_sequence", res.LastSequence),
			zap.Int("gaps", res.Gaps),
		)
		return nil
	},
}

func init() {
	auditVerifyCmd.Flags().IntVar(&auditPageSize, "page-size", store.DefaultEventLimit, "events read per page")
	auditCmd.AddCommand(auditVerifyCmd)
	rootCmd.AddCommand(auditCmd)
}
