package cmd

import (
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Embedding cache commands",
	Long:  `Commands for building and inspecting the reference embedding snapshot.`,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
}
