package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/shield/internal/config"
)

var fundOpts struct {
	account string
	amount  uint64
}

var fundCmd = &cobra.Command{
	Use:   "fund",
	Short: "Credit a book account from outside the program",
	RunE: func(cmd *cobra.Command, args []string) error {
		if fundOpts.account == "" || fundOpts.amount == 0 {
			return eris.New("fund: --account and --amount are required")
		}
		env, err := initEnv(cmd.Context(), config.ModeCLI)
		if err != nil {
			return err
		}
		defer env.Close()

		balance, err := env.Engine.Fund(cmd.Context(), adminCredential(), fundOpts.account, fundOpts.amount)
		if err != nil {
			return err
		}
		message.NewPrinter(language.English).Fprintf(cmd.OutOrStdout(),
			"%s balance: %d\n", fundOpts.account, balance)
		return nil
	},
}

func init() {
	fundCmd.Flags().StringVar(&fundOpts.account, "account", "", "account identity")
	fundCmd.Flags().Uint64Var(&fundOpts.amount, "amount", 0, "amount to credit")
	rootCmd.AddCommand(fundCmd)
}
