package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"

	"github.com/colorfulnotion/openfa/resource"
	"github.com/colorfulnotion/openfa/shapecache"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/spf13/cobra"
)

type scanFlags struct {
	cache   string
	workers int
	pattern string
}

func (f *scanFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.cache, "cache", "", "LevelDB cache directory (default from config; none if empty)")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "parallel decoders (default from config)")
	cmd.Flags().StringVar(&f.pattern, "pattern", "*.SH", "file name pattern")
}

func (f *scanFlags) scan(dir string) ([]*shapecache.Summary, shapecache.Stats, error) {
	if dir == "" {
		dir = cfg.Path(cfg.Resources.Dir)
	}
	if dir == "" {
		return nil, shapecache.Stats{}, fmt.Errorf("no directory given and resources.dir is not configured")
	}
	lib, err := resource.NewDirLibrary(dir)
	if err != nil {
		return nil, shapecache.Stats{}, err
	}
	names, err := lib.Find(f.pattern)
	if err != nil {
		return nil, shapecache.Stats{}, err
	}

	cachePath := f.cache
	if cachePath == "" {
		cachePath = cfg.Path(cfg.Cache.Path)
	}
	var cache *shapecache.Cache
	if cachePath != "" {
		if cache, err = shapecache.Open(cachePath); err != nil {
			return nil, shapecache.Stats{}, err
		}
		defer cache.Close()
	}
	workers := f.workers
	if workers <= 0 {
		workers = cfg.Cache.Workers
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return shapecache.Scan(ctx, lib, names, cache, workers)
}

func dirArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func newScanCmd() *cobra.Command {
	var sf scanFlags
	var failedOnly bool
	cmd := &cobra.Command{
		Use:   "scan [DIR]",
		Short: "Decode every shape in a directory and report failures",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sums, stats, err := sf.scan(dirArg(args))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range sums {
				if s.OK() && failedOnly {
					continue
				}
				writeSummary(out, s)
			}
			fmt.Fprintf(out, "%d files, %d failed, %d from cache\n", stats.Files, stats.Failed, stats.Hits)
			return nil
		},
	}
	sf.register(cmd)
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "only list files that failed to decode")
	return cmd
}

func writeSummary(w io.Writer, s *shapecache.Summary) {
	status := "ok"
	if !s.OK() {
		status = "FAIL " + s.Err
	}
	fmt.Fprintf(w, "%-14s %6d bytes %5d records %3d x86 (%d instrs, %d rejected, %d ref mismatches) %s\n",
		s.Name, s.Size, s.Records, s.X86Blocks, s.X86Instructions, s.X86Failures, s.RefMismatches, status)
}

func newStatsCmd() *cobra.Command {
	var sf scanFlags
	var chart string
	cmd := &cobra.Command{
		Use:   "stats [DIR]",
		Short: "Record tag histogram over a directory of shapes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sums, stats, err := sf.scan(dirArg(args))
			if err != nil {
				return err
			}
			totals := shapecache.Totals(sums)
			names := make([]string, 0, len(totals))
			for n := range totals {
				names = append(names, n)
			}
			sort.Slice(names, func(i, j int) bool {
				if totals[names[i]] != totals[names[j]] {
					return totals[names[i]] > totals[names[j]]
				}
				return names[i] < names[j]
			})
			out := cmd.OutOrStdout()
			for _, n := range names {
				fmt.Fprintf(out, "%-20s %8d\n", n, totals[n])
			}
			fmt.Fprintf(out, "%d files, %d failed\n", stats.Files, stats.Failed)
			if chart == "" {
				return nil
			}
			f, err := os.Create(chart)
			if err != nil {
				return err
			}
			defer f.Close()
			return tagChart(names, totals, stats.Files).Render(f)
		},
	}
	sf.register(cmd)
	cmd.Flags().StringVar(&chart, "chart", "", "write an HTML bar chart of the histogram")
	return cmd
}

func tagChart(names []string, totals map[string]int, files int) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "SH record tags",
			Subtitle: fmt.Sprintf("%d files", files),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Rotate: 45}}),
	)
	items := make([]opts.BarData, len(names))
	for i, n := range names {
		items[i] = opts.BarData{Value: totals[n]}
	}
	bar.SetXAxis(names).AddSeries("records", items)
	return bar
}
