package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"dhs-api/internal/service"

	"github.com/spf13/cobra"
)

var (
	surveyID    string
	country     string
	year        int
	region      int
	indicParams map[string]string
)

var computeCmd = &cobra.Command{
	Use:   "compute <indicator>",
	Short: "Compute one indicator and print it as JSON",
	Example: `  dhsapi compute stunting --param severity=severe --region 1
  dhsapi compute household-assets --country RW --year 2020 --param asset=radio`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, indicators, loader, err := services()
		if err != nil {
			return err
		}
		defer loader.Close()

		req := service.Request{
			Survey:    surveyID,
			Country:   country,
			Year:      year,
			Indicator: args[0],
			Region:    region,
			Params:    indicParams,
		}

		var out interface{}
		ind, ok := indicators.Catalog().Get(args[0])
		if ok && ind.Kind == service.KindBreakdown {
			out, err = indicators.ComputeBreakdown(cmd.Context(), req)
		} else {
			out, err = indicators.Compute(cmd.Context(), req)
		}
		if err != nil {
			return err
		}
		return printJSON(cmd, out)
	},
}

var (
	queryIndicator string
	queryVariant   string
	queryLevel     string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Print indicator records filtered by country and year",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, indicators, loader, err := services()
		if err != nil {
			return err
		}
		defer loader.Close()

		records, err := indicators.Records(cmd.Context(), service.Query{
			Country:   country,
			Year:      year,
			Indicator: queryIndicator,
			Variant:   queryVariant,
			Level:     strings.ToLower(queryLevel),
			Region:    region,
		})
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-8s %-32s %-12s %-9s %-24s %8s %7s\n", "SURVEY", "INDICATOR", "VARIANT", "LEVEL", "LOCATION", "VALUE", "N")
		for _, r := range records {
			fmt.Fprintf(w, "%-8s %-32s %-12s %-9s %-24s %8.1f %7d\n",
				r.Survey, r.Indicator, r.Variant, r.Level, r.LocationName, r.Value, r.SampleSize)
		}
		fmt.Fprintf(w, "%d records\n", len(records))
		return nil
	},
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.AddCommand(computeCmd)
	rootCmd.AddCommand(queryCmd)

	for _, cmd := range []*cobra.Command{computeCmd, queryCmd} {
		cmd.Flags().StringVar(&country, "country", "", "country code or name")
		cmd.Flags().IntVar(&year, "year", 0, "survey year")
		cmd.Flags().IntVar(&region, "region", 0, "province code (default: the survey's default region)")
	}
	computeCmd.Flags().StringVarP(&surveyID, "survey", "s", "", "survey id (wins over --country and --year)")
	computeCmd.Flags().StringToStringVar(&indicParams, "param", nil, "indicator parameter as key=value, repeatable")

	queryCmd.Flags().StringVar(&queryIndicator, "indicator", "", "indicator id (default: all)")
	queryCmd.Flags().StringVar(&queryVariant, "variant", "", "option of the indicator's first parameter")
	queryCmd.Flags().StringVar(&queryLevel, "level", "", "national, province or district")
}
