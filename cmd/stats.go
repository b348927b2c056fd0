// Package cmd contains all the CLI commands for the application,
// built using the Cobra library.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/wata-gh/prdash/internal/domain"
	"github.com/wata-gh/prdash/internal/gateway"
	"github.com/wata-gh/prdash/internal/usecase"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Runs one analysis and prints the result",
	Long: `Aggregates pull request and review activity for the specified users and
organization without starting the web UI, and prints the result as JSON or
a table. The date range defaults to the last 30 days.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		_ = godotenv.Load()
		logger := newLogger(cmd)

		org, _ := cmd.Flags().GetString("org")
		usersStr, _ := cmd.Flags().GetString("users")
		fromStr, _ := cmd.Flags().GetString("from")
		toStr, _ := cmd.Flags().GetString("to")
		output, _ := cmd.Flags().GetString("output")

		token := os.Getenv("GITHUB_TOKEN")
		if token == "" {
			token = os.Getenv("GH_DASH_DEFAULT_TOKEN")
		}
		if token == "" {
			fmt.Fprintln(os.Stderr, "Error: GITHUB_TOKEN environment variable is not set.")
			os.Exit(1)
		}

		// Parse the date range, defaulting to the last 30 days.
		const inputDateLayout = "2006/01/02"
		now := time.Now().UTC()
		from := now.AddDate(0, 0, -30)
		to := now
		if fromStr != "" {
			var err error
			from, err = time.Parse(inputDateLayout, fromStr)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Invalid --from date format. Please use YYYY/MM/DD. Error: %v\n", err)
				os.Exit(1)
			}
		}
		if toStr != "" {
			var err error
			to, err = time.Parse(inputDateLayout, toStr)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Invalid --to date format. Please use YYYY/MM/DD. Error: %v\n", err)
				os.Exit(1)
			}
		}
		window, err := domain.NewDateWindow(from, to)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid date range: %v\n", err)
			os.Exit(1)
		}

		req := domain.AnalysisRequest{
			Token:  token,
			Org:    org,
			Users:  domain.ParseUsernames(usersStr),
			Window: window,
		}

		// Inject dependencies and run the main business logic.
		fetcher, err := gateway.NewGitHubGateway(token, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create GitHub gateway: %v\n", err)
			os.Exit(1)
		}
		analyzer := usecase.NewAnalyzer(fetcher, logger)

		result, err := analyzer.Analyze(ctx, req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to analyze activity: %v\n", err)
			os.Exit(1)
		}

		switch output {
		case "json":
			jsonData, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to marshal results to JSON: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(jsonData))
		case "table":
			if err := printSummaryTable(os.Stdout, result); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
				os.Exit(1)
			}
		default:
			fmt.Fprintf(os.Stderr, "Invalid --output format %q. Must be json or table.\n", output)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringP("org", "o", "", "Target GitHub organization name (required)")
	statsCmd.Flags().StringP("users", "u", "", "Comma-separated GitHub usernames (required)")
	statsCmd.MarkFlagRequired("org")
	statsCmd.MarkFlagRequired("users")
	statsCmd.Flags().String("from", "", "Start date (YYYY/MM/DD, default 30 days ago)")
	statsCmd.Flags().String("to", "", "End date (YYYY/MM/DD, default today)")
	statsCmd.Flags().String("output", "table", "Output format: json or table")
}
