package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ent0n29/edvoice/internal/app"
	"github.com/ent0n29/edvoice/internal/playback"
)

var sayCmd = &cobra.Command{
	Use:   "say TEXT...",
	Short: "Synthesize text and play it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		return withClient(cmd, app.ClientOptions{}, func(ctx context.Context, c *app.Client) error {
			return speak(ctx, c, uuid.NewString(), text)
		})
	},
}

// speak plays text and blocks until playback ends or ctx is cancelled.
func speak(ctx context.Context, c *app.Client, messageID, text string) error {
	done := make(chan error, 1)
	unsubscribe := c.Playback.Subscribe(func(ev playback.Event) {
		switch ev.State {
		case playback.StateLoading:
			fmt.Fprint(os.Stderr, "synthesizing...")
		case playback.StatePlaying:
			if ev.FromCache {
				fmt.Fprint(os.Stderr, "\r(cached) ")
			}
			fmt.Fprintf(os.Stderr, "\r%s", progressBar(ev.Progress, 30))
		case playback.StateIdle:
			fmt.Fprintln(os.Stderr)
			select {
			case done <- ev.Err:
			default:
			}
		}
	})
	defer unsubscribe()

	if err := c.Playback.Play(ctx, messageID, text); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		c.Playback.Stop()
		return nil
	}
}

func progressBar(fraction float64, width int) string {
	filled := int(fraction * float64(width))
	if filled > width {
		filled = width
	}
	return fmt.Sprintf("[%s%s] %3.0f%%", strings.Repeat("=", filled), strings.Repeat(" ", width-filled), fraction*100)
}
