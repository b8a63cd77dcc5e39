package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "anklavbot",
	Short: "Partnership equity assessment bot",
	Long: `anklavbot collects partner self and peer assessments through a web app,
computes each partner's equity share once a room is complete, and delivers
the results over Discord.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.AddCommand(serveCmd, stuckCmd)
	// bare `anklavbot` serves
	rootCmd.RunE = serveCmd.RunE
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
