package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goswap/marketplace-stats/app"
	"github.com/goswap/marketplace-stats/config"
	"github.com/goswap/marketplace-stats/validation"
	"github.com/spf13/cobra"
)

var (
	configPath string
	showRows   bool
)

var rootCmd = &cobra.Command{
	Use:           "checker",
	Short:         "Validate the daily metrics table",
	Long:          `Checks the table is reachable, has rows and that every row has a USD volume, then prints totals per project.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withValidator(cmd.Context(), func(v *validation.Validator) bool {
			return v.Run(cmd.Context(), showRows)
		})
	},
}

var rowsCmd = &cobra.Command{
	Use:   "rows",
	Short: "Print every row of the daily metrics table",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withValidator(cmd.Context(), func(v *validation.Validator) bool {
			return v.DisplayRows(cmd.Context())
		})
	},
}

var errFailed = fmt.Errorf("validation failed")

func withValidator(ctx context.Context, f func(v *validation.Validator) bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	v := &validation.Validator{DB: a.Warehouse, Out: os.Stdout}
	if !f(v) {
		return errFailed
	}
	return nil
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.Flags().BoolVar(&showRows, "rows", false, "also print every row")
	rootCmd.AddCommand(rowsCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if err == errFailed {
			fmt.Println("\n❌ Validation failed")
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
	fmt.Println("\n✓ Validation passed")
}
