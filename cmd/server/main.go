// Command server runs on the camera host. It owns the camera, listens for
// camlink controllers over TCP and serves the admin HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/avaropoint/camlink/internal/config"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "camlink-server",
		Short: "Camera control server",
		Long: `camlink-server exposes a machine-vision camera over the camlink
binary protocol. One controller at a time may capture, record and
stream previews; further connections observe until promoted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "config file path")

	rootCmd.AddCommand(
		serveCmd(&configPath),
		configCmd(&configPath),
		apikeyCmd(&configPath),
		versionCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
