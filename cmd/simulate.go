package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/shield/internal/config"
	"github.com/sells-group/shield/internal/risk"
)

var (
	simulateScenario string
	simulateOffline  bool
)

// scenario is one named solvency simulation.
type scenario struct {
	Name                 string `yaml:"name"`
	risk.SimulationInput `yaml:",inline"`
}

type scenarioFile struct {
	Scenarios []scenario `yaml:"scenarios"`
}

// loadScenarios reads either a list under "scenarios" or a single bare
// scenario named after the file.
func loadScenarios(path string) ([]scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read scenario %s", path)
	}
	var file scenarioFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, eris.Wrapf(err, "parse scenario %s", path)
	}
	if len(file.Scenarios) > 0 {
		for i := range file.Scenarios {
			if file.Scenarios[i].Name == "" {
				file.Scenarios[i].Name = fmt.Sprintf("scenario-%d", i+1)
			}
		}
		return file.Scenarios, nil
	}
	var one scenario
	if err := yaml.Unmarshal(raw, &one); err != nil {
		return nil, eris.Wrapf(err, "parse scenario %s", path)
	}
	if one.PolicyCount == 0 {
		return nil, eris.Errorf("scenario %s has no policies", path)
	}
	if one.Name == "" {
		one.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return []scenario{one}, nil
}

type simulator func(context.Context, risk.SimulationInput) (risk.SimulationResult, error)

func offlineSimulator(_ context.Context, in risk.SimulationInput) (risk.SimulationResult, error) {
	return risk.Simulate(in)
}

func runScenarios(ctx context.Context, w io.Writer, sim simulator, scenarios []scenario) error {
	p := message.NewPrinter(language.English)
	for _, sc := range scenarios {
		res, err := sim(ctx, sc.SimulationInput)
		if err != nil {
			return eris.Wrapf(err, "simulate %s", sc.Name)
		}
		verdict := "adequate"
		if !res.Adequate {
			verdict = "SHORTFALL"
		}
		p.Fprintf(w, "%s: %s\n", sc.Name, verdict)
		p.Fprintf(w, "  minimum capital:     %d\n", res.MinCapital)
		p.Fprintf(w, "  recommended capital: %d\n", res.RecommendedCapital)
		p.Fprintf(w, "  capital adequacy:    %d%%\n", res.CapitalAdequacy)
		p.Fprintf(w, "  expected loss ratio: %d%%\n", res.ExpectedLossRatio)
		p.Fprintf(w, "  tail risk 95/99:     %d / %d\n", res.TailRisk95, res.TailRisk99)
		p.Fprintf(w, "  premium adjustment:  %d%%\n", res.PremiumAdjustment)
		if res.CapitalShortfall > 0 {
			p.Fprintf(w, "  capital shortfall:   %d\n", res.CapitalShortfall)
		}
	}
	return nil
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run solvency scenarios against the pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateScenario == "" {
			return eris.New("simulate: --scenario is required")
		}
		scenarios, err := loadScenarios(simulateScenario)
		if err != nil {
			return err
		}
		if simulateOffline {
			return runScenarios(cmd.Context(), cmd.OutOrStdout(), offlineSimulator, scenarios)
		}

		env, err := initEnv(cmd.Context(), config.ModeCLI)
		if err != nil {
			return err
		}
		defer env.Close()
		return runScenarios(cmd.Context(), cmd.OutOrStdout(), env.Engine.Simulate, scenarios)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateScenario, "scenario", "", "scenario YAML file")
	simulateCmd.Flags().BoolVar(&simulateOffline, "offline", false, "do not fill premiums and capital from the stored pool")
	rootCmd.AddCommand(simulateCmd)
}
