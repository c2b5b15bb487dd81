package cli

import (
	"fmt"

	"dhs-api/internal/analysis"

	"github.com/spf13/cobra"
)

var profileSurvey string

var profileCmd = &cobra.Command{
	Use:   "profile <dataset>",
	Short: "Print a data quality profile of a survey dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, loader, err := services()
		if err != nil {
			return err
		}
		defer loader.Close()

		id := profileSurvey
		if id == "" {
			id = cfg.DefaultSurvey
		}
		df, err := loader.Load(cmd.Context(), id, args[0])
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%s/%s: %d rows, %d columns\n\n", id, args[0], df.Len(), len(df.Headers))
		fmt.Fprintf(w, "%-16s %8s %8s %10s %10s %10s %7s %7s\n", "COLUMN", "NULLS", "DISTINCT", "MIN", "MAX", "MEAN", "ENTROPY", "QUALITY")
		for _, p := range analysis.NewDataQualityProfiler().ProfileAllColumns(df) {
			fmt.Fprintf(w, "%-16s %7.1f%% %8d %10.2f %10.2f %10.2f %7.2f %7.2f\n",
				p.ColumnName, p.NullRate*100, p.DistinctCount, p.Min, p.Max, p.Mean, p.Entropy, p.QualityScore)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)

	profileCmd.Flags().StringVarP(&profileSurvey, "survey", "s", "", "survey id (default: the configured default survey)")
}
