package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is stamped by the build.
var Version = "dev"

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the kvsearchd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("kvsearchd %s\n", Version)
	},
}
