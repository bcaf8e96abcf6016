package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "moran",
	Short: "moran - spatial statistics runner",
	Long: `moran runs spatial-statistics analyses (GWR, MGWR, LISA) against a
shapefile by handing a renamed copy of the data to an external R-based
statistical engine and collecting the result shapefile it writes back.

The daemon counterpart (morand) exposes the same pipeline over HTTP; this
CLI runs one analysis synchronously and writes the result next to you.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
