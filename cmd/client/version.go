package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avaropoint/camlink/internal/protocol"
	"github.com/avaropoint/camlink/internal/version"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("camlink %s (built %s, protocol %s)\n",
				version.Version, version.BuildTime, protocol.FormatVersion(protocol.Version))
		},
	}
}
