package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/avaropoint/camlink/internal/client"
	"github.com/avaropoint/camlink/internal/protocol"
)

func statusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the server status flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd.Context(), func(ctx context.Context, c *client.Client) error {
				st, err := c.Status(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("status: %s (0x%02X)\n", st, uint8(st))
				return nil
			})
		},
	}
}

func paramsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "params",
		Short: "Show camera parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd.Context(), func(ctx context.Context, c *client.Client) error {
				p, err := c.Params(ctx)
				if err != nil {
					return err
				}
				auto, err := c.GainAuto(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintf(w, "exposure\t%s %d us\n", mode(p.ExposureMode), p.ExposureUs)
				fmt.Fprintf(w, "gain\t%.2f dB (auto %v)\n", p.Gain, auto)
				fmt.Fprintf(w, "white balance\t%s r=%.2f g=%.2f b=%.2f\n", mode(p.WBMode), p.WBRed, p.WBGreen, p.WBBlue)
				fmt.Fprintf(w, "resolution\t%dx%d\n", p.Width, p.Height)
				return w.Flush()
			})
		},
	}
}

func mode(m uint8) string {
	if m == 0 {
		return "auto"
	}
	return "manual"
}

func resolutionsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "resolutions",
		Short: "List supported resolutions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd.Context(), func(ctx context.Context, c *client.Client) error {
				list, err := c.Resolutions(ctx)
				if err != nil {
					return err
				}
				for _, r := range list {
					fmt.Printf("%dx%d\n", r.Width, r.Height)
				}
				return nil
			})
		},
	}
}

// watchCmd prints status broadcasts and completion notices until
// interrupted. It connects as whatever role the server assigns.
func watchCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print status broadcasts and notices until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			last := protocol.Status(0xFF)
			c, err := client.Dial(ctx, client.Options{
				Addr:           g.addr,
				DialTimeout:    g.timeout,
				RequestTimeout: g.timeout,
				AutoReconnect:  true,
				Handlers: client.Handlers{
					OnStatus: func(st protocol.Status) {
						if st != last {
							fmt.Printf("status: %s\n", st)
							last = st
						}
					},
					OnCaptureComplete: func(name string) { fmt.Printf("captured: %s\n", name) },
					OnRecordComplete:  func(name string) { fmt.Printf("recorded: %s\n", name) },
					OnConnection: func(up bool) {
						if up {
							fmt.Println("connected")
						} else {
							fmt.Println("disconnected")
						}
					},
				},
			})
			if err != nil {
				return err
			}
			defer c.Close() //nolint:errcheck
			<-ctx.Done()
			return nil
		},
	}
}
