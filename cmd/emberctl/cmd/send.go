package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	sendLevel      string
	sendMessage    string
	sendCount      int64
	sendObservedAt string
	sendContext    string
	sendFile       string
)

// eventInput is the wire shape of one aggregated event.
type eventInput struct {
	ID              string         `json:"id,omitempty"`
	Signature       signatureInput `json:"signature"`
	OccurrenceCount int64          `json:"occurrence_count"`
	ObservedAt      string         `json:"observed_at"`
	SampleContext   string         `json:"sample_context,omitempty"`
}

type signatureInput struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

type ingestRequest struct {
	Events []eventInput `json:"events"`
}

type ingestResult struct {
	Accepted int `json:"accepted"`
	Rejected []struct {
		Index  int    `json:"index"`
		Reason string `json:"reason"`
	} `json:"rejected"`
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send aggregated events to the server",
	Long: `Send one or more aggregated log events for anomaly evaluation.

A single event is built from flags. For a batch, --file takes a JSON
array of events in the ingest wire format:

  [{"signature": {"level": "ERROR", "message": "connection refused"},
    "occurrence_count": 3,
    "observed_at": "2026-08-22T10:00:00Z"}]

Requires a token with the ingest scope.

Examples:
  # One event, observed now
  emberctl send --level ERROR --message "connection refused" --count 3

  # Replay a captured batch
  emberctl send --file events.json`,
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVar(&sendLevel, "level", "", "signature severity level")
	sendCmd.Flags().StringVar(&sendMessage, "message", "", "signature message text")
	sendCmd.Flags().Int64Var(&sendCount, "count", 1, "occurrence count within the aggregation window")
	sendCmd.Flags().StringVar(&sendObservedAt, "observed-at", "", "window timestamp, RFC3339 (default: now)")
	sendCmd.Flags().StringVar(&sendContext, "context", "", "sample log line for alert context")
	sendCmd.Flags().StringVarP(&sendFile, "file", "f", "", "JSON file with an array of events")
}

func runSend(cmd *cobra.Command, args []string) error {
	events, err := buildEvents()
	if err != nil {
		return err
	}

	c, err := newClient()
	if err != nil {
		return err
	}

	var result ingestResult
	if err := c.post(context.Background(), "/api/v1/events", &ingestRequest{Events: events}, &result); err != nil {
		return fmt.Errorf("send events: %w", err)
	}

	if GetOutput() == "json" {
		printJSON(result)
	} else {
		fmt.Printf("Accepted: %d of %d\n", result.Accepted, len(events))
		for _, rej := range result.Rejected {
			fmt.Printf("  rejected [%d]: %s\n", rej.Index, rej.Reason)
		}
	}

	if result.Accepted == 0 && len(result.Rejected) > 0 {
		return fmt.Errorf("all %d events rejected", len(result.Rejected))
	}
	return nil
}

// buildEvents assembles the batch from --file or from the single-event flags.
func buildEvents() ([]eventInput, error) {
	if sendFile != "" {
		data, err := os.ReadFile(sendFile)
		if err != nil {
			return nil, fmt.Errorf("read events file: %w", err)
		}
		var events []eventInput
		if err := json.Unmarshal(data, &events); err != nil {
			return nil, fmt.Errorf("parse events file: %w", err)
		}
		if len(events) == 0 {
			return nil, fmt.Errorf("events file is empty")
		}
		return events, nil
	}

	if sendLevel == "" || sendMessage == "" {
		return nil, fmt.Errorf("--level and --message are required (or use --file)")
	}

	observedAt := sendObservedAt
	if observedAt == "" {
		observedAt = time.Now().UTC().Format(time.RFC3339)
	}

	return []eventInput{{
		Signature:       signatureInput{Level: sendLevel, Message: sendMessage},
		OccurrenceCount: sendCount,
		ObservedAt:      observedAt,
		SampleContext:   sendContext,
	}}, nil
}
