package main

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tinytelemetry/sightline/internal/model"
)

// queryFlags are the composition inputs shared by compose and search.
type queryFlags struct {
	start           string
	end             string
	timestampField  string
	baseQuery       string
	whereClause     string
	patternField    string
	patternRegex    string
	filteredPattern string
}

func (q *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&q.start, "start", "", "range start, absolute or date math (default now-15m)")
	cmd.Flags().StringVar(&q.end, "end", "", "range end, absolute or date math (default now)")
	cmd.Flags().StringVar(&q.timestampField, "timestamp", "", "timestamp field (inferred from the index mapping when empty)")
	cmd.Flags().StringVar(&q.baseQuery, "base", "", "base query prepended to the user query")
	cmd.Flags().StringVar(&q.whereClause, "where", "", "extra where clause")
	cmd.Flags().StringVar(&q.patternField, "pattern-field", "", "field to mine patterns from")
	cmd.Flags().StringVar(&q.patternRegex, "pattern-regex", "", "pattern extraction regex")
	cmd.Flags().StringVar(&q.filteredPattern, "filtered-pattern", "", "restrict results to one pattern")
}

func newComposeCommand(a *app) *cobra.Command {
	var q queryFlags
	var live bool

	cmd := &cobra.Command{
		Use:   "compose <query>",
		Short: "Print the final query the server would run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, c explorerClient) error {
				final, err := c.Compose(ctx, model.ComposeRequest{
					Query:           args[0],
					Start:           q.start,
					End:             q.end,
					TimestampField:  q.timestampField,
					Live:            live,
					BaseQuery:       q.baseQuery,
					WhereClause:     q.whereClause,
					PatternField:    q.patternField,
					PatternRegex:    q.patternRegex,
					FilteredPattern: q.filteredPattern,
				})
				if err != nil {
					return err
				}
				return a.printer().query(final)
			})
		},
	}
	q.register(cmd)
	cmd.Flags().BoolVar(&live, "live", false, "compose for live tail (newest first)")
	return cmd
}

func newSearchCommand(a *app) *cobra.Command {
	var q queryFlags
	var tabID, spanUnit, liveName string
	var liveEvery time.Duration
	var resetFilters bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a search on a tab (a new tab unless --tab is given)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, c explorerClient) error {
				id := tabID
				if id == "" {
					created, err := c.CreateTab(ctx)
					if err != nil {
						return err
					}
					id = created
				}
				out, err := c.Search(ctx, id, model.SearchRequest{
					Query:           args[0],
					Start:           q.start,
					End:             q.end,
					TimestampField:  q.timestampField,
					BaseQuery:       q.baseQuery,
					WhereClause:     q.whereClause,
					PatternField:    q.patternField,
					PatternRegex:    q.patternRegex,
					FilteredPattern: q.filteredPattern,
					ResetFilters:    resetFilters,
					SpanUnit:        spanUnit,
					Live:            liveEvery > 0,
					LiveName:        liveName,
					LiveInterval:    liveEvery,
				})
				if err != nil {
					return err
				}
				return a.printer().outcome(out)
			})
		},
	}
	q.register(cmd)
	cmd.Flags().StringVar(&tabID, "tab", "", "tab to search on")
	cmd.Flags().StringVar(&spanUnit, "span", "", "time-series bucket unit for pattern anomalies")
	cmd.Flags().DurationVar(&liveEvery, "live", 0, "keep the search running as a live tail at this interval")
	cmd.Flags().StringVar(&liveName, "live-name", "", "label for the live tail")
	cmd.Flags().BoolVar(&resetFilters, "reset-filters", false, "replace the tab's base, where, regex and pattern filters with the given values")
	return cmd
}

func newPatternsCommand(a *app) *cobra.Command {
	var tabID string
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Show a tab's pattern table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, c explorerClient) error {
				tbl, err := c.Patterns(ctx, tabID)
				if err != nil {
					return err
				}
				return a.printer().patterns(tbl)
			})
		},
	}
	cmd.Flags().StringVar(&tabID, "tab", "", "tab id")
	cmd.MarkFlagRequired("tab")
	return cmd
}

func newLiveCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "live",
		Short: "Start or stop a tab's live tail",
	}

	var startTab, name string
	var interval time.Duration
	start := &cobra.Command{
		Use:   "start",
		Short: "Start a live tail on the tab's current query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, c explorerClient) error {
				if err := c.StartLive(ctx, startTab, model.LiveRequest{Name: name, Interval: interval}); err != nil {
					return err
				}
				snap, err := c.TabState(ctx, startTab)
				if err != nil {
					return err
				}
				return a.printer().tab(snap)
			})
		},
	}
	start.Flags().StringVar(&startTab, "tab", "", "tab id")
	start.Flags().DurationVar(&interval, "interval", 0, "refresh interval (server default when zero)")
	start.Flags().StringVar(&name, "name", "", "label for the live tail")
	start.MarkFlagRequired("tab")

	var stopTab string
	stop := &cobra.Command{
		Use:   "stop",
		Short: "Stop the tab's live tail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, c explorerClient) error {
				return c.StopLive(ctx, stopTab)
			})
		},
	}
	stop.Flags().StringVar(&stopTab, "tab", "", "tab id")
	stop.MarkFlagRequired("tab")

	cmd.AddCommand(start, stop)
	return cmd
}

func newTabCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tab",
		Short: "Manage search tabs",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Open a tab and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, c explorerClient) error {
				id, err := c.CreateTab(ctx)
				if err != nil {
					return err
				}
				return a.printer().query(id)
			})
		},
	}

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a tab's state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, c explorerClient) error {
				snap, err := c.TabState(ctx, args[0])
				if err != nil {
					return err
				}
				return a.printer().tab(snap)
			})
		},
	}

	closeCmd := &cobra.Command{
		Use:   "close <id>",
		Short: "Close a tab and stop its live tail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, c explorerClient) error {
				return c.CloseTab(ctx, args[0])
			})
		},
	}

	cmd.AddCommand(create, show, closeCmd)
	return cmd
}

func newHistoryCommand(a *app) *cobra.Command {
	var tabID string
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently executed searches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return errors.New("--limit must not be negative")
			}
			return a.withClient(cmd, func(ctx context.Context, c explorerClient) error {
				recs, err := c.History(ctx, strings.TrimSpace(tabID), limit)
				if err != nil {
					return err
				}
				return a.printer().history(recs)
			})
		},
	}
	cmd.Flags().StringVar(&tabID, "tab", "", "only searches from this tab")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum entries")
	return cmd
}
