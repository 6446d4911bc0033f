package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/avaropoint/camlink/internal/protocol"
	"github.com/avaropoint/camlink/internal/version"
)

func versionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if short {
				fmt.Println(version.Version)
				return
			}
			fmt.Printf("camlink-server %s\n", version.Version)
			fmt.Printf("  Built:      %s\n", version.BuildTime)
			fmt.Printf("  Protocol:   %s\n", protocol.FormatVersion(protocol.Version))
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
	cmd.Flags().BoolVarP(&short, "short", "s", false, "print only the version number")
	return cmd
}
