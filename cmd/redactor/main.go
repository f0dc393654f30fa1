package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "redactor",
	Short: "PII redaction for complaint spreadsheets",
	Long: `redactor removes personal information (names, phone numbers, emails,
addresses, resident and account numbers) from Korean complaint spreadsheets.
It tries a local language model first and falls back to pattern rewriting
and a statistical recognizer.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
