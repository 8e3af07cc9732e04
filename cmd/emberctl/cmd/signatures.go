package cmd

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var (
	sigLevel   string
	sigPage    int
	sigPerPage int

	sigEventsHours   int
	sigEventsPage    int
	sigEventsPerPage int
)

type signatureItem struct {
	Key              string  `json:"key"`
	Level            string  `json:"level"`
	Message          string  `json:"message"`
	TotalOccurrences int64   `json:"total_occurrences"`
	BaselineRate     float64 `json:"baseline_rate"`
	BucketCount      int     `json:"bucket_count"`
	FirstSeenAt      string  `json:"first_seen_at"`
	UpdatedAt        string  `json:"updated_at"`
	LastAlertAt      string  `json:"last_alert_at"`
}

type signatureList struct {
	Items   []signatureItem `json:"items"`
	Total   int64           `json:"total"`
	Page    int             `json:"page"`
	PerPage int             `json:"per_page"`
}

type archivedEvent struct {
	ID              string `json:"id"`
	OccurrenceCount int64  `json:"occurrence_count"`
	ObservedAt      string `json:"observed_at"`
	DecidedAt       string `json:"decided_at"`
	Anomalous       bool   `json:"anomalous"`
	Reason          string `json:"reason"`
	SampleContext   string `json:"sample_context"`
}

type archivedEventList struct {
	SignatureKey string          `json:"signature_key"`
	Items        []archivedEvent `json:"items"`
	Total        int64           `json:"total"`
	HasMore      bool            `json:"has_more"`
	Page         int             `json:"page"`
	PerPage      int             `json:"per_page"`
}

var signaturesCmd = &cobra.Command{
	Use:   "signatures",
	Short: "List tracked signatures",
	Long: `List the signatures the server is tracking, most recently seen first.

Each row shows lifetime occurrence volume and the hourly baseline rate
the spike detector compares new windows against.

Examples:
  # All tracked signatures
  emberctl signatures

  # Only ERROR signatures
  emberctl signatures --level ERROR

  # Archived events behind one signature (needs the event archive)
  emberctl signatures events 6e3a1f… --hours 6`,
	RunE: runSignatures,
}

var signaturesEventsCmd = &cobra.Command{
	Use:   "events <signature-key>",
	Short: "List archived events for a signature",
	Long: `List the individual archived events behind a signature.

Requires the server to run with the event archive enabled.

Example:
  emberctl signatures events 6e3a1f… --hours 6`,
	Args: cobra.ExactArgs(1),
	RunE: runSignatureEvents,
}

func init() {
	rootCmd.AddCommand(signaturesCmd)
	signaturesCmd.AddCommand(signaturesEventsCmd)

	signaturesCmd.Flags().StringVar(&sigLevel, "level", "", "filter by severity level")
	signaturesCmd.Flags().IntVar(&sigPage, "page", 1, "page number")
	signaturesCmd.Flags().IntVar(&sigPerPage, "per-page", 50, "results per page (max 500)")

	signaturesEventsCmd.Flags().IntVar(&sigEventsHours, "hours", 24, "lookback window in hours")
	signaturesEventsCmd.Flags().IntVar(&sigEventsPage, "page", 1, "page number")
	signaturesEventsCmd.Flags().IntVar(&sigEventsPerPage, "per-page", 50, "results per page (max 500)")
}

func runSignatures(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(sigPage))
	query.Set("per_page", strconv.Itoa(sigPerPage))
	if sigLevel != "" {
		query.Set("level", sigLevel)
	}

	var list signatureList
	if err := c.get(context.Background(), "/api/v1/signatures", query, &list); err != nil {
		return fmt.Errorf("list signatures: %w", err)
	}

	if GetOutput() == "json" {
		printJSON(list)
		return nil
	}

	if len(list.Items) == 0 {
		fmt.Println("No signatures found.")
		return nil
	}

	fmt.Printf("\n%-12s  %-8s  %-40s  %10s  %9s  %-19s  %s\n",
		"KEY", "LEVEL", "MESSAGE", "TOTAL", "RATE/H", "LAST SEEN", "LAST ALERT")
	fmt.Println(strings.Repeat("-", 120))

	for _, s := range list.Items {
		fmt.Printf("%-12s  %-8s  %-40s  %10d  %9.2f  %-19s  %s\n",
			truncate(s.Key, 12),
			s.Level,
			truncate(s.Message, 40),
			s.TotalOccurrences,
			s.BaselineRate,
			formatTime(s.UpdatedAt),
			formatTime(s.LastAlertAt),
		)
	}
	fmt.Printf("\nPage %d, showing %d of %d signature(s)\n", list.Page, len(list.Items), list.Total)

	return nil
}

func runSignatureEvents(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	query := url.Values{}
	query.Set("hours", strconv.Itoa(sigEventsHours))
	query.Set("page", strconv.Itoa(sigEventsPage))
	query.Set("per_page", strconv.Itoa(sigEventsPerPage))

	path := "/api/v1/signatures/" + url.PathEscape(args[0]) + "/events"

	var list archivedEventList
	if err := c.get(context.Background(), path, query, &list); err != nil {
		return fmt.Errorf("list signature events: %w", err)
	}

	if GetOutput() == "json" {
		printJSON(list)
		return nil
	}

	if len(list.Items) == 0 {
		fmt.Println("No archived events found.")
		return nil
	}

	fmt.Printf("\nEvents for signature %s:\n\n", list.SignatureKey)
	fmt.Printf("%-19s  %6s  %-9s  %-17s  %s\n",
		"OBSERVED", "COUNT", "ANOMALOUS", "REASON", "SAMPLE")
	fmt.Println(strings.Repeat("-", 100))

	for _, e := range list.Items {
		anomalous := "no"
		if e.Anomalous {
			anomalous = "yes"
		}
		reason := e.Reason
		if reason == "" {
			reason = "-"
		}
		fmt.Printf("%-19s  %6d  %-9s  %-17s  %s\n",
			formatTime(e.ObservedAt),
			e.OccurrenceCount,
			anomalous,
			reason,
			truncate(e.SampleContext, 40),
		)
	}
	fmt.Printf("\nPage %d, showing %d of %d event(s)", list.Page, len(list.Items), list.Total)
	if list.HasMore {
		fmt.Printf(" (more available)")
	}
	fmt.Println()

	return nil
}
