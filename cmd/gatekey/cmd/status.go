package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/gatekey/credential"
	"github.com/jmcleod/gatekey/gate"
)

var (
	statusKeyPath string
	statusMaxAge  time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether a valid credential is cached",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := credential.NewStore(statusKeyPath)
		if store.HasValid(statusMaxAge) {
			fmt.Printf("Credential at %s is valid.\n", statusKeyPath)
			return nil
		}
		fmt.Printf("No valid credential at %s.\n", statusKeyPath)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusKeyPath, "key", gate.DefaultKeyPath, "credential file path")
	statusCmd.Flags().DurationVar(&statusMaxAge, "key-max-age", gate.DefaultKeyMaxAge, "credential lifetime")

	rootCmd.AddCommand(statusCmd)
}
