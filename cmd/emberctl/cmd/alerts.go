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
	alertsUndelivered bool
	alertsPage        int
	alertsPerPage     int
)

type alertItem struct {
	SignatureKey    string `json:"signature_key"`
	Level           string `json:"level"`
	Message         string `json:"message"`
	ObservedAt      string `json:"observed_at"`
	OccurrenceCount int64  `json:"occurrence_count"`
	Reason          string `json:"reason"`
	DecidedAt       string `json:"decided_at"`
	PublishedAt     string `json:"published_at"`
	Delivered       bool   `json:"delivered"`
	DeliveredAt     string `json:"delivered_at"`
	Attempts        int    `json:"attempts"`
	LastError       string `json:"last_error"`
}

type alertList struct {
	Items   []alertItem `json:"items"`
	Total   int64       `json:"total"`
	Page    int         `json:"page"`
	PerPage int         `json:"per_page"`
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List published alerts",
	Long: `List alerts the server has published, newest first.

Each alert records the anomalous signature, why it fired, and whether
delivery to the notification sinks succeeded.

Examples:
  # Recent alerts
  emberctl alerts

  # Alerts stuck in delivery
  emberctl alerts --undelivered`,
	RunE: runAlerts,
}

func init() {
	rootCmd.AddCommand(alertsCmd)

	alertsCmd.Flags().BoolVar(&alertsUndelivered, "undelivered", false, "only alerts not yet delivered")
	alertsCmd.Flags().IntVar(&alertsPage, "page", 1, "page number")
	alertsCmd.Flags().IntVar(&alertsPerPage, "per-page", 50, "results per page (max 500)")
}

func runAlerts(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(alertsPage))
	query.Set("per_page", strconv.Itoa(alertsPerPage))
	if alertsUndelivered {
		query.Set("undelivered", "true")
	}

	var list alertList
	if err := c.get(context.Background(), "/api/v1/alerts", query, &list); err != nil {
		return fmt.Errorf("list alerts: %w", err)
	}

	if GetOutput() == "json" {
		printJSON(list)
		return nil
	}

	if len(list.Items) == 0 {
		fmt.Println("No alerts found.")
		return nil
	}

	fmt.Printf("\n%-19s  %-8s  %-35s  %-17s  %6s  %s\n",
		"PUBLISHED", "LEVEL", "MESSAGE", "REASON", "COUNT", "DELIVERED")
	fmt.Println(strings.Repeat("-", 105))

	for _, a := range list.Items {
		delivered := "no"
		if a.Delivered {
			delivered = "yes"
		} else if a.LastError != "" {
			delivered = fmt.Sprintf("no (%d attempts)", a.Attempts)
		}
		fmt.Printf("%-19s  %-8s  %-35s  %-17s  %6d  %s\n",
			formatTime(a.PublishedAt),
			a.Level,
			truncate(a.Message, 35),
			a.Reason,
			a.OccurrenceCount,
			delivered,
		)
	}
	fmt.Printf("\nPage %d, showing %d of %d alert(s)\n", list.Page, len(list.Items), list.Total)

	return nil
}
