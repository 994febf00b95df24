package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ent0n29/edvoice/internal/app"
	"github.com/ent0n29/edvoice/internal/audio"
)

var saveWAV string

var transcribeCmd = &cobra.Command{
	Use:   "transcribe [FILE]",
	Short: "Transcribe an audio file, or the microphone until Enter",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, app.ClientOptions{}, func(ctx context.Context, c *app.Client) error {
			var (
				data []byte
				err  error
			)
			if len(args) == 1 {
				data, err = os.ReadFile(args[0])
				if err != nil {
					return fmt.Errorf("read audio file: %w", err)
				}
			} else {
				data, err = recordUntilEnter(ctx, c)
				if err != nil {
					return err
				}
			}
			if saveWAV != "" {
				if err := writeRecognitionWAV(ctx, c, data, saveWAV); err != nil {
					return err
				}
			}
			transcript, err := c.Recognition.Transcribe(ctx, data)
			if err != nil {
				return err
			}
			fmt.Println(transcript)
			return nil
		})
	},
}

func init() {
	transcribeCmd.Flags().StringVar(&saveWAV, "save-wav", "", "also write the 16 kHz mono audio sent for recognition to this WAV file")
}

// recordUntilEnter captures from the microphone and returns the raw container bytes.
func recordUntilEnter(ctx context.Context, c *app.Client) ([]byte, error) {
	mime, err := c.Recognition.Start(ctx)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(os.Stderr, "recording (%s), press Enter to stop\n", mime)
	waitForEnter(ctx)
	return c.Recognition.Finish()
}

func waitForEnter(ctx context.Context) {
	line := make(chan struct{})
	go func() {
		_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
		close(line)
	}()
	select {
	case <-line:
	case <-ctx.Done():
	}
}

func writeRecognitionWAV(ctx context.Context, c *app.Client, data []byte, path string) error {
	pcm, err := audio.ToRecognitionPCM(ctx, c.Decoder, data)
	if err != nil {
		return err
	}
	if err := audio.WriteWAVPCM16LEFile(path, pcm, audio.RecognitionSampleRate); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s\n", path)
	return nil
}
