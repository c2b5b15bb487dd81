package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"dhs-api/internal/config"
	"dhs-api/internal/service"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

var (
	importSurvey string
	importTarget string
	importDSN    string
	importDir    string
	importPrefix string
	importBatch  int
	noProgress   bool
)

// barProgress shows one progress bar per dataset.
type barProgress struct {
	progress *mpb.Progress

	mu   sync.Mutex
	bars map[string]*mpb.Bar
}

func newBarProgress(w io.Writer) *barProgress {
	return &barProgress{
		progress: mpb.New(mpb.WithOutput(w)),
		bars:     make(map[string]*mpb.Bar),
	}
}

func (p *barProgress) Begin(dataset string, rows int) {
	bar := p.progress.AddBar(int64(rows),
		mpb.PrependDecorators(
			decor.Name(dataset, decor.WC{W: 10, C: decor.DindentRight}),
			decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), "done"),
			decor.Name(" "),
			decor.Percentage(),
		),
	)

	p.mu.Lock()
	p.bars[dataset] = bar
	p.mu.Unlock()
}

func (p *barProgress) Add(dataset string, n int) {
	p.mu.Lock()
	bar := p.bars[dataset]
	p.mu.Unlock()
	if bar != nil {
		bar.IncrBy(n)
	}
}

func (p *barProgress) Done(dataset string) {
	p.mu.Lock()
	bar := p.bars[dataset]
	p.mu.Unlock()
	if bar != nil && !bar.Completed() {
		// empty datasets never reach their total
		bar.SetTotal(-1, true)
	}
}

func (p *barProgress) Wait() {
	p.progress.Wait()
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load a survey's CSV extracts into PostgreSQL or ClickHouse",
	Long: `Reads every dataset extract of a survey and writes it to one table per
dataset named <prefix><dataset>, replacing existing tables. Each dataset
import is recorded with a run id in the dhs_imports table.`,
	Example: `  dhsapi import --survey RW2020 --target postgres --dsn postgres://dhs@localhost/dhs
  dhsapi import --survey RW2020 --target clickhouse --dsn clickhouse://localhost:9000/dhs --prefix rw2020_`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		id := importSurvey
		if id == "" {
			id = cfg.DefaultSurvey
		}
		sv, ok := cfg.Survey(id)
		if !ok {
			return fmt.Errorf("%w: %s", service.ErrUnknownSurvey, id)
		}

		dir := importDir
		if dir == "" {
			if sv.Source.Type != config.SourceCSV {
				return fmt.Errorf("survey %s is not read from CSV; pass --dir", sv.ID)
			}
			dir = sv.Source.Dir
		}
		// extracts keep their configured file names
		src := *sv
		src.Source = config.SourceConfig{Type: config.SourceCSV, Dir: dir}

		target, err := service.OpenImportTarget(cmd.Context(), importTarget, importDSN)
		if err != nil {
			return fmt.Errorf("connecting to %s: %w", importTarget, err)
		}
		defer target.Close()

		im := &service.Importer{
			Source:    service.NewCSVDataSource(dir),
			Target:    target,
			BatchSize: importBatch,
		}
		var bars *barProgress
		if !noProgress {
			bars = newBarProgress(cmd.ErrOrStderr())
			im.Progress = bars
		}

		runs, err := im.Import(cmd.Context(), &src, cfg.DatasetNames(), importPrefix)
		if bars != nil {
			bars.Wait()
		}
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		for _, run := range runs {
			fmt.Fprintf(w, "%s  %-10s -> %-24s %8d rows  %s\n",
				run.ID, run.Dataset, run.Table, run.Rows, run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
		}
		fmt.Fprintf(w, "Imported %d datasets of %s\n", len(runs), sv.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVarP(&importSurvey, "survey", "s", "", "survey id (default: the configured default survey)")
	importCmd.Flags().StringVar(&importTarget, "target", config.SourcePostgres, "target database: postgres or clickhouse")
	importCmd.Flags().StringVar(&importDSN, "dsn", "", "target database DSN")
	importCmd.Flags().StringVar(&importDir, "dir", "", "directory of the CSV extracts (default: the survey's csv dir)")
	importCmd.Flags().StringVar(&importPrefix, "prefix", "", "table name prefix")
	importCmd.Flags().IntVar(&importBatch, "batch", 10000, "rows per COPY or insert batch")
	importCmd.Flags().BoolVar(&noProgress, "no-progress", false, "don't show progress bars")
	_ = importCmd.MarkFlagRequired("dsn")
}
