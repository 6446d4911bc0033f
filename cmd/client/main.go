// Command client is the camlink controller CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/avaropoint/camlink/internal/client"
	"github.com/avaropoint/camlink/internal/logging"
)

// globals holds the persistent flags.
type globals struct {
	addr     string
	timeout  time.Duration
	logLevel string
}

// dial connects with the global flags applied.
func (g *globals) dial(ctx context.Context, h client.Handlers) (*client.Client, error) {
	return client.Dial(ctx, client.Options{
		Addr:           g.addr,
		DialTimeout:    g.timeout,
		RequestTimeout: g.timeout,
		Handlers:       h,
	})
}

// run dials, calls fn and closes the connection.
func (g *globals) run(ctx context.Context, fn func(ctx context.Context, c *client.Client) error) error {
	c, err := g.dial(ctx, client.Handlers{})
	if err != nil {
		return err
	}
	defer c.Close() //nolint:errcheck
	return fn(ctx, c)
}

func main() {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:   "camlink",
		Short: "Control a camlink camera server",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Configure(g.logLevel, "text", os.Stderr)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&g.addr, "addr", "a", "127.0.0.1:8899", "server address")
	rootCmd.PersistentFlags().DurationVarP(&g.timeout, "timeout", "t", 5*time.Second, "dial and request timeout")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "log level")

	rootCmd.AddCommand(
		statusCmd(g),
		paramsCmd(g),
		resolutionsCmd(g),
		captureCmd(g),
		recordCmd(g),
		previewCmd(g),
		setCmd(g),
		watchCmd(g),
		versionCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
