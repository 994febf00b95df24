package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ent0n29/edvoice/internal/app"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or maintain the local synthesized-audio cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, app.ClientOptions{}, func(ctx context.Context, c *app.Client) error {
			st := c.Cache.Stats(ctx)
			fmt.Printf("items: %d / %d\n", st.TotalItems, st.MaxItems)
			fmt.Printf("size:  %s / %s\n", humanize.IBytes(uint64(st.TotalSize)), humanize.IBytes(uint64(st.MaxSize)))
			return nil
		})
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached clip",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, app.ClientOptions{}, func(ctx context.Context, c *app.Client) error {
			if err := c.Cache.Clear(ctx); err != nil {
				return err
			}
			fmt.Println("cache cleared")
			return nil
		})
	},
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove clips older than CACHE_MAX_AGE",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, app.ClientOptions{SkipPrune: true}, func(ctx context.Context, c *app.Client) error {
			n, err := c.Cache.PruneExpired(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("removed %s expired %s\n", humanize.Comma(int64(n)), plural(n, "entry", "entries"))
			return nil
		})
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd, cachePruneCmd)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
