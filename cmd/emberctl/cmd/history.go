package cmd

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	historyLevel   string
	historyMessage string
	historyHours   int
)

// historyResult mirrors the history endpoint's response object.
type historyResult struct {
	Signature       string `json:"signature"`
	LookbackHours   int    `json:"lookback_hours"`
	OccurrenceCount int64  `json:"occurrence_count"`
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query occurrence history for a signature",
	Long: `Query how often a log signature occurred within a lookback window.

A signature is the (level, message) pair of an aggregated log event.
Unknown signatures report zero occurrences.

Examples:
  # Occurrences in the default 48h window
  emberctl history --level ERROR --message "connection refused"

  # Last 6 hours only
  emberctl history --level ERROR --message "connection refused" --hours 6`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historyLevel, "level", "", "signature severity level (required)")
	historyCmd.Flags().StringVar(&historyMessage, "message", "", "signature message text (required)")
	historyCmd.Flags().IntVar(&historyHours, "hours", 0, "lookback window in hours (default: server default)")
	historyCmd.MarkFlagRequired("level")
	historyCmd.MarkFlagRequired("message")
}

func runHistory(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	query := url.Values{}
	query.Set("level", historyLevel)
	query.Set("message", historyMessage)
	if historyHours > 0 {
		query.Set("hours", strconv.Itoa(historyHours))
	}

	var result historyResult
	if err := c.get(context.Background(), "/api/v1/history", query, &result); err != nil {
		return fmt.Errorf("query history: %w", err)
	}

	switch GetOutput() {
	case "json":
		printJSON(result)
	case "plain":
		fmt.Println(result.OccurrenceCount)
	default:
		fmt.Printf("\nSignature:   %s\n", result.Signature)
		fmt.Printf("Lookback:    %dh\n", result.LookbackHours)
		fmt.Printf("Occurrences: %d\n", result.OccurrenceCount)
	}

	return nil
}
