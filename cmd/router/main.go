package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "router",
		Short: "Retrieval fleet request router",
		Long:  "Run the retrieval-serving request router via the daemon command",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (JSON or YAML)")
	rootCmd.AddCommand(daemonCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
