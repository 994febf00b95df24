package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ent0n29/edvoice/internal/app"
	"github.com/ent0n29/edvoice/internal/chat"
	"github.com/ent0n29/edvoice/internal/playback"
	"github.com/ent0n29/edvoice/internal/synthesis"
)

var muteReplies bool

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the assistant backend; replies are spoken",
	Long: "Type a line to send it. Commands: /rec records one voice message until the next Enter, " +
		"/stop silences the current reply, /quit exits.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, app.ClientOptions{StartMonitor: true}, runChat)
	},
}

func init() {
	chatCmd.Flags().BoolVar(&muteReplies, "mute", false, "print replies without speaking them")
}

func runChat(ctx context.Context, c *app.Client) error {
	conv, err := chat.New(chat.Options{URL: cfg.ChatWSURL, Token: cfg.ChatAuthToken, Logger: logger})
	if err != nil {
		return err
	}
	if err := conv.Connect(ctx); err != nil {
		return err
	}
	runDone := make(chan error, 1)
	go func() { runDone <- conv.Run(ctx) }()
	go speakReplies(ctx, c, conv.Messages())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Fprintln(os.Stderr, "connected; /rec to speak, /quit to exit")
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runDone:
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			switch line {
			case "":
				continue
			case "/quit":
				return nil
			case "/stop":
				c.Playback.Stop()
				continue
			case "/rec":
				text, err := recordVoiceMessage(ctx, c, lines)
				if err != nil {
					fmt.Fprintln(os.Stderr, "voice input failed:", err)
					continue
				}
				if text == "" {
					fmt.Fprintln(os.Stderr, "(nothing recognized)")
					continue
				}
				fmt.Printf("you (voice): %s\n", text)
				line = text
			}
			if _, err := conv.Send(line); err != nil {
				fmt.Fprintln(os.Stderr, "send failed:", err)
			}
		}
	}
}

// recordVoiceMessage records until the next input line and returns the transcript.
func recordVoiceMessage(ctx context.Context, c *app.Client, lines <-chan string) (string, error) {
	c.Playback.Stop()
	mime, err := c.Recognition.Start(ctx)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(os.Stderr, "recording (%s), press Enter to send\n", mime)
	select {
	case <-lines:
	case <-ctx.Done():
		c.Recognition.Cancel()
		return "", ctx.Err()
	}
	return c.Recognition.Stop(ctx)
}

func speakReplies(ctx context.Context, c *app.Client, messages <-chan chat.ConversationMessage) {
	for msg := range messages {
		fmt.Printf("assistant: %s\n", msg.Content)
		text := synthesis.SpeakableText(msg.Content)
		if muteReplies || text == "" {
			continue
		}
		go func(id string) {
			err := c.Playback.Play(ctx, id, text)
			if err != nil && !errors.Is(err, playback.ErrSuperseded) {
				fmt.Fprintln(os.Stderr, "playback failed:", err)
			}
		}(msg.ID)
	}
}
