// Package commands defines the forms engine CLI command tree.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "forms-engine-cli",
	Short: "Forms Engine - patient assessment form ingestion",
	Long: `The Forms Engine CLI processes scanned patient assessment forms: it
rasterizes PDFs into page images, recognizes the text with OCR, parses the
labeled fields into a structured record, and stores the result against the
matching patient.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
