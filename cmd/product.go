package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/shield/internal/config"
	"github.com/sells-group/shield/internal/model"
)

type catalog struct {
	Products []model.ProductInput `yaml:"products"`
}

func loadCatalog(path string) ([]model.ProductInput, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read catalog %s", path)
	}
	var c catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, eris.Wrapf(err, "parse catalog %s", path)
	}
	if len(c.Products) == 0 {
		return nil, eris.Errorf("catalog %s lists no products", path)
	}
	return c.Products, nil
}

var productCmd = &cobra.Command{
	Use:   "product",
	Short: "Manage insurance products",
}

var productImportCmd = &cobra.Command{
	Use:   "import <catalog.yaml>",
	Short: "Create the products listed in a catalog file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inputs, err := loadCatalog(args[0])
		if err != nil {
			return err
		}

		env, err := initEnv(cmd.Context(), config.ModeCLI)
		if err != nil {
			return err
		}
		defer env.Close()

		created := make([]*model.Product, 0, len(inputs))
		for _, in := range inputs {
			p, err := env.Engine.CreateProduct(cmd.Context(), adminCredential(), in)
			if err != nil {
				return eris.Wrapf(err, "create product %q", in.Name)
			}
			created = append(created, p)
		}
		zap.L().Info("catalog imported", zap.Int("products", len(created)))
		return printJSON(cmd.OutOrStdout(), created)
	},
}

var productListActive bool

var productListCmd = &cobra.Command{
	Use:   "list",
	Short: "List products",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), config.ModeCLI)
		if err != nil {
			return err
		}
		defer env.Close()

		products, err := env.Engine.ListProducts(cmd.Context(), productListActive)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tTYPE\tRISK\tMULT\tACTIVE")
		for _, p := range products {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%t\n", p.ID, p.Name, p.Type, p.RiskFactor, p.PremiumMultiplier, p.Active)
		}
		return eris.Wrap(tw.Flush(), "write product list")
	},
}

func init() {
	productListCmd.Flags().BoolVar(&productListActive, "active", false, "only active products")
	productCmd.AddCommand(productImportCmd, productListCmd)
	rootCmd.AddCommand(productCmd)
}
