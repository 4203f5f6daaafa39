// Package cmd wires the kvsearchd command tree.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kvsearchd",
	Short: "Distributed full-text + vector secondary index node",
	Long: `kvsearchd serves the FT.* query surface of a distributed full-text and
vector secondary index: schema management, boolean + KNN search, aggregate
pipelines and cluster scatter-gather.`,
	SilenceUsage: true,
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}
