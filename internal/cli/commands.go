package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"agriassist-prices/internal/export"
	"agriassist-prices/internal/models"
	"agriassist-prices/internal/query"
	"agriassist-prices/internal/services/refresh"
)

func newRefreshCmd(g *globals) *cobra.Command {
	var (
		force bool
		date  string
	)
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Fetch prices from the external sources if a refresh is due",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := refresh.RunOptions{Force: force}
			if date != "" {
				d, err := time.Parse(models.DateLayout, date)
				if err != nil {
					return fmt.Errorf("--date: %w", err)
				}
				opts.Date = d
			}

			a, err := g.load(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Reconciler.Run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Refresh even when not due")
	cmd.Flags().StringVar(&date, "date", "", "Fetch this date (YYYY-MM-DD) instead of today")
	return cmd
}

func newCleanupCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete partitions older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.load(cmd, false)
			if err != nil {
				return err
			}
			removed, err := a.Reconciler.Cleanup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d date(s)\n", removed)
			return nil
		},
	}
}

func newRebuildMetaCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-meta",
		Short: "Rescan partitions and rewrite meta/index.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.load(cmd, false)
			if err != nil {
				return err
			}
			idx, err := a.Reconciler.RebuildMeta()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), idx)
		},
	}
}

func addQueryFlags(cmd *cobra.Command, p *query.Params) {
	f := cmd.Flags()
	f.StringVar(&p.Date, "date", "", "Date (YYYY-MM-DD, default today)")
	f.StringVar(&p.State, "state", "", "State filter")
	f.StringVar(&p.District, "district", "", "District filter")
	f.StringVar(&p.Market, "market", "", "Market filter")
	f.StringVar(&p.Commodity, "commodity", "", "Commodity filter")
	f.StringVar(&p.Variety, "variety", "", "Variety filter")
	f.StringVarP(&p.Q, "search", "q", "", "Substring search over commodity, market and variety")
	f.StringVar(&p.SortBy, "sort-by", "", "modal_price, date, commodity, market or state")
	f.StringVar(&p.SortDir, "sort-dir", "", "asc or desc")
}

func newQueryCmd(g *globals) *cobra.Command {
	var p query.Params
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query stored prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.load(cmd, false)
			if err != nil {
				return err
			}
			res, err := a.Engine.Query(cmd.Context(), p)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	addQueryFlags(cmd, &p)
	cmd.Flags().IntVar(&p.Limit, "limit", 0, "Page size (default 50, max 1000)")
	cmd.Flags().IntVar(&p.Offset, "offset", 0, "Records to skip")
	return cmd
}

func newExportCmd(g *globals) *cobra.Command {
	var (
		p      query.Params
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export matching prices as csv, json or xlsx",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			a, err := g.load(cmd, false)
			if err != nil {
				return err
			}
			records, err := a.Engine.Resolve(cmd.Context(), p, query.ExportCap)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if out != "" {
				file, err := os.Create(out)
				if err != nil {
					return err
				}
				defer file.Close()
				w = file
			}
			if err := export.Render(w, f, records); err != nil {
				return err
			}
			if out != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d records to %s\n", len(records), out)
			}
			return nil
		},
	}
	addQueryFlags(cmd, &p)
	cmd.Flags().StringVar(&format, "format", "csv", "csv, json or xlsx")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")
	return cmd
}

func newPopularCmd(g *globals) *cobra.Command {
	var (
		state     string
		recompute bool
	)
	cmd := &cobra.Command{
		Use:   "popular",
		Short: "Show the most quoted commodities for a state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if state == "" {
				return fmt.Errorf("--state is required")
			}
			a, err := g.load(cmd, false)
			if err != nil {
				return err
			}
			var pc *models.PopularCommodities
			if recompute {
				pc, err = a.Popular.Refresh(state)
			} else {
				pc, err = a.Popular.Get(state, a.Config.PopularMaxAge)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), pc)
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "State name")
	cmd.Flags().BoolVar(&recompute, "recompute", false, "Recompute instead of reading the stored ranking")
	return cmd
}

func newUsageCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Report partition counts and disk usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.load(cmd, false)
			if err != nil {
				return err
			}
			u, err := a.Partitions.Usage()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), u)
		},
	}
}
