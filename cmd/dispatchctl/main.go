// dispatchctl is the operator CLI for a running dispatchd instance.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "dispatchctl",
	Short: "Control a dispatchd job scheduler over its HTTP API",
}

func main() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("DISPATCHD_SERVER", "http://localhost:8080"), "dispatchd base URL")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(workersCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(heartbeatCmd)
	rootCmd.AddCommand(queueCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
