package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/avaropoint/camlink/internal/client"
	"github.com/avaropoint/camlink/internal/protocol"
)

func captureCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "capture",
		Short: "Capture a full-resolution still",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd.Context(), func(ctx context.Context, c *client.Client) error {
				name, err := c.Capture(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("saved %s\n", name)
				return nil
			})
		},
	}
}

func recordCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Start or stop a video recording",
	}

	var (
		duration time.Duration
		res, fps uint8
		wait     bool
	)
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd.Context(), func(ctx context.Context, c *client.Client) error {
				req := protocol.RecordStartRequest{
					Duration: uint32(duration / time.Second),
					ResIndex: res,
					FPS:      fps,
				}
				if err := c.RecordStart(ctx, req); err != nil {
					return err
				}
				fmt.Println("recording")
				if !wait {
					return nil
				}
				name, err := c.AwaitRecordComplete(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("saved %s\n", name)
				return nil
			})
		},
	}
	startCmd.Flags().DurationVarP(&duration, "duration", "d", 0, "stop after this long (0 records until stopped)")
	startCmd.Flags().Uint8VarP(&res, "res", "r", 4, "record resolution index (0 is 5472x3648, 4 is 1920x1080)")
	startCmd.Flags().Uint8VarP(&fps, "fps", "f", 5, "frames per second (1-30)")
	startCmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait for the recording to finish")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd.Context(), func(ctx context.Context, c *client.Client) error {
				name, err := c.RecordStopAndWait(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("saved %s\n", name)
				return nil
			})
		},
	}

	cmd.AddCommand(startCmd, stopCmd)
	return cmd
}

func previewCmd(g *globals) *cobra.Command {
	var (
		seconds  time.Duration
		out      string
		res, fps uint8
	)

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Stream preview frames into a directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(out, 0o755); err != nil {
				return err
			}

			frames := make(chan []byte, 16)
			var saved, dropped int
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				for jpeg := range frames {
					saved++
					name := filepath.Join(out, fmt.Sprintf("preview_%06d.jpg", saved))
					if err := os.WriteFile(name, jpeg, 0o644); err != nil {
						fmt.Fprintf(os.Stderr, "write %s: %v\n", name, err)
					}
				}
			}()

			ctx := cmd.Context()
			c, err := g.dial(ctx, client.Handlers{
				OnPreviewFrame: func(_ uint32, jpeg []byte) {
					select {
					case frames <- append([]byte(nil), jpeg...):
					default:
						dropped++
					}
				},
			})
			if err != nil {
				close(frames)
				wg.Wait()
				return err
			}

			runErr := func() error {
				if err := c.PreviewStart(ctx, protocol.PreviewStartRequest{ResIndex: res, FPS: fps}); err != nil {
					return err
				}
				t := time.NewTimer(seconds)
				defer t.Stop()
				select {
				case <-t.C:
				case <-ctx.Done():
				}
				stopCtx, cancel := context.WithTimeout(context.Background(), g.timeout)
				defer cancel()
				return c.PreviewStop(stopCtx)
			}()
			c.Close() //nolint:errcheck
			close(frames)
			wg.Wait()

			fmt.Printf("saved %d frames to %s (%d dropped locally)\n", saved, out, dropped)
			return runErr
		},
	}
	cmd.Flags().DurationVarP(&seconds, "seconds", "s", 5*time.Second, "how long to stream")
	cmd.Flags().StringVarP(&out, "out", "o", "preview", "output directory")
	cmd.Flags().Uint8VarP(&res, "res", "r", 2, "preview resolution index (0 is 1920x1080, 2 is 640x480)")
	cmd.Flags().Uint8VarP(&fps, "fps", "f", 10, "frames per second (5-30)")
	return cmd
}
