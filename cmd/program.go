package main

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/shield/internal/config"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode output")
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the store schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(config.ModeCLI); err != nil {
			return err
		}
		st, err := initStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(cmd.Context()); err != nil {
			return eris.Wrap(err, "migrate store")
		}
		zap.L().Info("store migrated", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the program from the configured parameters",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), config.ModeCLI)
		if err != nil {
			return err
		}
		defer env.Close()

		prog, err := env.Engine.InitializeProgram(cmd.Context(), adminCredential(), cfg.Program, cfg.Features)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), prog)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show program, pool and calibrator state",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), config.ModeCLI)
		if err != nil {
			return err
		}
		defer env.Close()

		ag, err := env.Engine.GetAggregates(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), ag)
	},
}

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Expire lapsed policies and close stale claims",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), config.ModeCLI)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Engine.ExpireDue(cmd.Context(), adminCredential())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd, initCmd, statusCmd, expireCmd)
}
