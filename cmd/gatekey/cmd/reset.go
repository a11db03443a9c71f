package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/gatekey/credential"
	"github.com/jmcleod/gatekey/gate"
)

var resetKeyPath string

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the cached credential, forcing a new gate run",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := credential.NewStore(resetKeyPath)
		if err := store.Delete(); err != nil {
			return err
		}
		fmt.Printf("Removed %s.\n", resetKeyPath)
		return nil
	},
}

func init() {
	resetCmd.Flags().StringVar(&resetKeyPath, "key", gate.DefaultKeyPath, "credential file path")

	rootCmd.AddCommand(resetCmd)
}
