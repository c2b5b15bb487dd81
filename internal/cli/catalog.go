package cli

import (
	"fmt"
	"strings"

	"dhs-api/internal/service"

	"github.com/spf13/cobra"
)

var indicatorsCmd = &cobra.Command{
	Use:   "indicators",
	Short: "List the indicator catalog by chapter",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := service.LoadCatalog()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		byChapter := catalog.ByChapter()
		for _, ch := range catalog.ChapterNumbers() {
			fmt.Fprintf(w, "Chapter %d: %s\n", ch, catalog.ChapterTitle(ch))
			for _, ind := range byChapter[ch] {
				fmt.Fprintf(w, "  %-30s %-10s %s\n", ind.ID, ind.Kind, ind.Unit)
				for _, p := range ind.Params {
					fmt.Fprintf(w, "      %s=%s (default %s)\n", p.Param, strings.Join(p.Keys(), "|"), p.Default)
				}
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(indicatorsCmd)
}
