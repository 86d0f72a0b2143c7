// vecsync batch-embeds source items with Bedrock and upserts the vectors
// into an S3 Vectors index.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "vecsync",
	Short:         "Batch embedding and vector upsert for S3 Vectors",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the vecsync version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("vecsync", version)
	},
}

func main() {
	rootCmd.AddCommand(runCmd, serveCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
