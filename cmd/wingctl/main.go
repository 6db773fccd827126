package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	credsPath string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "wingctl",
	Short: "Terminal client for the Wingwoman API",
	Long: `wingctl talks to a running Wingwoman API server.

Sign in once with 'wingctl login'; the token is kept in a credentials file
and reused by every other command.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "API base URL (default from credentials, then http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&credsPath, "credentials", defaultCredentialsPath(), "credentials file")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 90*time.Second, "request timeout")

	savedCmd.AddCommand(savedListCmd, savedToggleCmd)
	rootCmd.AddCommand(
		signupCmd,
		loginCmd,
		logoutCmd,
		profileCmd,
		upgradeCmd,
		icebreakersCmd,
		assessCmd,
		analyzeCmd,
		askCmd,
		savedCmd,
	)

	signupCmd.Flags().String("name", "", "display name")
	signupCmd.Flags().String("password", "", "account password")
	loginCmd.Flags().String("password", "", "account password")
	icebreakersCmd.Flags().String("context", "", "what you know about the match")
	assessCmd.Flags().String("platform", "", "dating app the screenshots come from")
	analyzeCmd.Flags().String("answer", "", "your answer to the prompt")
	analyzeCmd.Flags().String("image", "", "screenshot of the prompt (path or URL)")
	savedListCmd.Flags().StringP("query", "q", "", "search text or tone")
	savedListCmd.Flags().String("category", "", "interest category")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
