package main

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/shield/internal/config"
	"github.com/sells-group/shield/internal/engine"
	"github.com/sells-group/shield/internal/model"
	"github.com/sells-group/shield/internal/policy"
	"github.com/sells-group/shield/internal/risk"
)

var quoteOpts struct {
	coverage      uint64
	days          uint64
	product       string
	baseRate      uint64
	riskFactor    uint64
	multiplier    uint64
	job           string
	industry      string
	claimsHistory uint8
}

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Price a policy",
	Long:  "Prices a policy against a stored product with --product, or offline from --base-rate, --risk-factor and --multiplier.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if quoteOpts.product == "" {
			return printOfflineQuote(cmd.OutOrStdout(), quoteOpts.coverage, quoteOpts.days,
				quoteOpts.baseRate, quoteOpts.riskFactor, quoteOpts.multiplier)
		}

		env, err := initEnv(cmd.Context(), config.ModeCLI)
		if err != nil {
			return err
		}
		defer env.Close()

		pricing, err := env.Engine.Quote(cmd.Context(), adminCredential(), engine.QuoteRequest{
			ProductID:     quoteOpts.product,
			Coverage:      quoteOpts.coverage,
			PeriodDays:    quoteOpts.days,
			JobType:       model.JobType(quoteOpts.job),
			Industry:      model.Industry(quoteOpts.industry),
			ClaimsHistory: quoteOpts.claimsHistory,
		})
		if err != nil {
			return err
		}
		printPricing(cmd.OutOrStdout(), pricing)
		return nil
	},
}

func printOfflineQuote(w io.Writer, coverage, days, baseRate, riskFactor, multiplier uint64) error {
	if coverage == 0 || days == 0 {
		return eris.New("quote: --coverage and --days are required")
	}
	premium, err := risk.CalculatePremium(coverage, days, baseRate, riskFactor, multiplier)
	if err != nil {
		return err
	}
	p := message.NewPrinter(language.English)
	p.Fprintf(w, "Coverage:    %d over %d days\n", coverage, days)
	p.Fprintf(w, "Rate:        base %d bps, risk factor %d, multiplier %d%%\n", baseRate, riskFactor, multiplier)
	p.Fprintf(w, "Premium:     %d\n", premium)
	return nil
}

func printPricing(w io.Writer, pricing policy.Pricing) {
	c := pricing.Premium.Components
	p := message.NewPrinter(language.English)
	p.Fprintf(w, "Base premium:        %d\n", c.Base)
	p.Fprintf(w, "Risk weight:         %d%%\n", c.RiskWeightPct)
	p.Fprintf(w, "Reputation discount: %d%%\n", c.ReputationDiscountPct)
	p.Fprintf(w, "Claims surcharge:    %d%%\n", c.ClaimsSurchargePct)
	p.Fprintf(w, "Coverage curve:      %d%%\n", c.CurveSurchargePct)
	p.Fprintf(w, "Calibration:         %d bps\n", c.BayesianBps)
	p.Fprintf(w, "Risk score:          %d\n", pricing.RiskScore)
	p.Fprintf(w, "Premium:             %d\n", pricing.Premium.Amount)
}

func init() {
	f := quoteCmd.Flags()
	f.Uint64Var(&quoteOpts.coverage, "coverage", 0, "coverage amount")
	f.Uint64Var(&quoteOpts.days, "days", 0, "policy period in days")
	f.StringVar(&quoteOpts.product, "product", "", "product id (prices against the stored program)")
	f.Uint64Var(&quoteOpts.baseRate, "base-rate", model.DefaultBasePremiumRate, "annual base rate in basis points (offline)")
	f.Uint64Var(&quoteOpts.riskFactor, "risk-factor", 50, "product risk factor 0-100 (offline)")
	f.Uint64Var(&quoteOpts.multiplier, "multiplier", 100, "premium multiplier percent (offline)")
	f.StringVar(&quoteOpts.job, "job", string(model.JobSoftwareDevelopment), "job type")
	f.StringVar(&quoteOpts.industry, "industry", string(model.IndustryTechnology), "industry")
	f.Uint8Var(&quoteOpts.claimsHistory, "claims-history", 0, "prior claims count (0-255)")
	rootCmd.AddCommand(quoteCmd)
}
