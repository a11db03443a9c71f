package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gatekey",
	Short: "gatekey gates an application behind an external task",
	Long: `gatekey blocks an application until the user completes an external task,
then caches a machine-bound, time-limited credential so later runs skip it.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
