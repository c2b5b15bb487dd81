package cli

import (
	"fmt"
	"os"

	"dhs-api/internal/config"
	"dhs-api/internal/service"

	"github.com/spf13/cobra"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dhsapi",
	Short: "Serve Demographic and Health Survey indicators",
	Long: `dhsapi computes Demographic and Health Survey (DHS) indicators from survey
microdata and serves them over HTTP, filterable by country and year.

Microdata is read from CSV extracts, PostgreSQL or ClickHouse as configured
per survey. The import command loads CSV extracts into a database.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("DHS_CONFIG"), "path to the YAML config (default: built-in)")
}

// services wires the config, catalog, loader and indicator service.
func services() (*config.Config, *service.IndicatorService, *service.Loader, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	catalog, err := service.LoadCatalog()
	if err != nil {
		return nil, nil, nil, err
	}
	loader := service.NewLoader(cfg)
	return cfg, service.NewIndicatorService(cfg, catalog, loader), loader, nil
}
