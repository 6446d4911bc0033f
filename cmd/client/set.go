package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/avaropoint/camlink/internal/client"
	"github.com/avaropoint/camlink/internal/protocol"
)

func setCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change a camera parameter",
	}
	cmd.AddCommand(
		setExposureCmd(g),
		setGainCmd(g),
		setGainAutoCmd(g),
		setWhiteBalanceCmd(g),
		setResolutionCmd(g),
		setFrameRateCmd(g),
		setPixelFormatCmd(g),
	)
	return cmd
}

// apply runs fn on a fresh connection and reports success.
func (g *globals) apply(cmd *cobra.Command, what string, fn func(ctx context.Context, c *client.Client) error) error {
	return g.run(cmd.Context(), func(ctx context.Context, c *client.Client) error {
		if err := fn(ctx, c); err != nil {
			return err
		}
		fmt.Printf("%s updated\n", what)
		return nil
	})
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1", "auto":
		return true, nil
	case "off", "false", "0", "manual":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func setExposureCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "exposure <auto|microseconds>",
		Short: "Set exposure time, or auto exposure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := protocol.ExposureRequest{Auto: args[0] == "auto"}
			if !req.Auto {
				us, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("exposure: %w", err)
				}
				req.Microseconds = uint32(us)
			}
			return g.apply(cmd, "exposure", func(ctx context.Context, c *client.Client) error {
				return c.SetExposure(ctx, req)
			})
		},
	}
}

func setGainCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   fmt.Sprintf("gain <0-%d>", protocol.GainScale),
		Short: "Set gain on a scale mapped to the camera's range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseUint(args[0], 10, 16)
			if err != nil || v > protocol.GainScale {
				return fmt.Errorf("gain must be 0-%d", protocol.GainScale)
			}
			return g.apply(cmd, "gain", func(ctx context.Context, c *client.Client) error {
				return c.SetGain(ctx, uint16(v))
			})
		},
	}
}

func setGainAutoCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "gain-auto <on|off>",
		Short: "Enable or disable auto gain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			return g.apply(cmd, "auto gain", func(ctx context.Context, c *client.Client) error {
				return c.SetGainAuto(ctx, on)
			})
		},
	}
}

func setWhiteBalanceCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "white-balance <auto | red green blue>",
		Short: "Set white balance ratios, or auto white balance",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 && args[0] == "auto" || len(args) == 3 {
				return nil
			}
			return fmt.Errorf("expected auto or three ratios")
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			req := protocol.WhiteBalanceRequest{Auto: len(args) == 1}
			if !req.Auto {
				var ratios [3]float64
				for i, a := range args {
					v, err := strconv.ParseFloat(a, 64)
					if err != nil || v < 0 {
						return fmt.Errorf("invalid ratio %q", a)
					}
					ratios[i] = v
				}
				req.Red, req.Green, req.Blue = ratios[0], ratios[1], ratios[2]
			}
			return g.apply(cmd, "white balance", func(ctx context.Context, c *client.Client) error {
				return c.SetWhiteBalance(ctx, req)
			})
		},
	}
}

func setResolutionCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "resolution <WIDTHxHEIGHT>",
		Short: "Set the sensor resolution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, hs, ok := strings.Cut(strings.ToLower(args[0]), "x")
			if !ok {
				return fmt.Errorf("resolution must look like 1920x1080")
			}
			w, err1 := strconv.ParseUint(ws, 10, 16)
			h, err2 := strconv.ParseUint(hs, 10, 16)
			if err1 != nil || err2 != nil || w == 0 || h == 0 {
				return fmt.Errorf("invalid resolution %q", args[0])
			}
			return g.apply(cmd, "resolution", func(ctx context.Context, c *client.Client) error {
				return c.SetResolution(ctx, uint16(w), uint16(h))
			})
		},
	}
}

func setFrameRateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "frame-rate <off|fps>",
		Short: "Limit the acquisition frame rate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := protocol.FrameRateRequest{}
			if args[0] != "off" {
				fps, err := strconv.ParseFloat(args[0], 64)
				if err != nil || fps <= 0 {
					return fmt.Errorf("invalid frame rate %q", args[0])
				}
				req = protocol.FrameRateRequest{Enabled: true, FPS: fps}
			}
			return g.apply(cmd, "frame rate", func(ctx context.Context, c *client.Client) error {
				return c.SetFrameRate(ctx, req)
			})
		},
	}
}

func setPixelFormatCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "pixel-format <name|index>",
		Short: "Select the pixel format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := pixelFormatIndex(args[0])
			if err != nil {
				return err
			}
			return g.apply(cmd, "pixel format", func(ctx context.Context, c *client.Client) error {
				return c.SetPixelFormat(ctx, idx)
			})
		},
	}
}

func pixelFormatIndex(s string) (uint8, error) {
	if n, err := strconv.ParseUint(s, 10, 8); err == nil {
		return uint8(n), nil
	}
	var names []string
	for i := uint8(0); ; i++ {
		name, ok := protocol.PixelFormatName(i)
		if !ok {
			break
		}
		if strings.EqualFold(name, s) {
			return i, nil
		}
		names = append(names, name)
	}
	return 0, fmt.Errorf("unknown pixel format %q (one of %s)", s, strings.Join(names, ", "))
}
