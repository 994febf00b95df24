package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ent0n29/edvoice/internal/app"
	"github.com/ent0n29/edvoice/internal/protocol"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Inspect or manage the speech bearer token",
}

var tokenInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the local and relay token state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, app.ClientOptions{}, func(ctx context.Context, c *app.Client) error {
			printTokenInfo("local", c.Tokens.Info())
			remote, err := c.Relay.TokenInfo(ctx)
			if err != nil {
				fmt.Printf("relay: unavailable (%v)\n", err)
				return nil
			}
			printTokenInfo("relay", remote)
			return nil
		})
	},
}

var tokenRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Force a token renewal through the relay",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, app.ClientOptions{}, func(ctx context.Context, c *app.Client) error {
			if _, err := c.Tokens.GetToken(ctx, true); err != nil {
				return err
			}
			printTokenInfo("local", c.Tokens.Info())
			return nil
		})
	},
}

var tokenClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget the stored token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, app.ClientOptions{}, func(ctx context.Context, c *app.Client) error {
			if err := c.Tokens.Clear(ctx); err != nil {
				return err
			}
			fmt.Println("token cleared")
			return nil
		})
	},
}

func init() {
	tokenCmd.AddCommand(tokenInfoCmd, tokenRefreshCmd, tokenClearCmd)
}

func printTokenInfo(label string, info protocol.TokenInfo) {
	if !info.HasToken {
		fmt.Printf("%s: no token\n", label)
		return
	}
	state := "valid"
	if !info.Valid {
		state = "needs renewal"
	}
	expires := time.UnixMilli(info.ExpiresAt)
	fmt.Printf("%s: %s, expires %s (%s)\n", label, state, humanize.Time(expires), expires.Format(time.RFC3339))
}
