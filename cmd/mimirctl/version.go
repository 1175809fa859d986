package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/mimir/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the mimirctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mimirctl %s\n", version.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
