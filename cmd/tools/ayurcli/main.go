package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	analysisURL string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "ayurcli",
	Short: "Run the Ayurvedic photo analysis flow from the terminal",
	Long: `ayurcli uploads a photo, requests its Ayurvedic report and chats about it,
using the same services as the web page.

Configuration is read from the environment (and .env): CLOUDINARY_*,
ANALYSIS_BASE_URL, HTTP_TIMEOUT, CHAT_BACKEND and the ARK_* variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&analysisURL, "analysis-url", "", "analysis service base URL (overrides ANALYSIS_BASE_URL)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(formatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
