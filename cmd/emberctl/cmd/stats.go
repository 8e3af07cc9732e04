package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statsHours int

type queueStats struct {
	Depth        int   `json:"depth"`
	Enqueued     int64 `json:"enqueued"`
	Redelivered  int64 `json:"redelivered"`
	DeadLettered int64 `json:"dead_lettered"`
}

type filterStats struct {
	EventsProcessed int64 `json:"events_processed"`
	Anomalies       int64 `json:"anomalies"`
	Duplicates      int64 `json:"duplicates"`
	Muted           int64 `json:"muted"`
	InvalidEvents   int64 `json:"invalid_events"`
	Conflicts       int64 `json:"conflicts"`
	Retries         int64 `json:"retries"`
	Failures        int64 `json:"failures"`
}

type publisherStats struct {
	Published  int64 `json:"published"`
	Duplicates int64 `json:"duplicates"`
	Failed     int64 `json:"failed"`
	Retries    int64 `json:"retries"`
}

type pipelineStats struct {
	Queue     queueStats     `json:"queue"`
	Filter    filterStats    `json:"filter"`
	Publisher publisherStats `json:"publisher"`
}

type topSignature struct {
	SignatureKey string `json:"signature_key"`
	Level        string `json:"level"`
	Message      string `json:"message"`
	Occurrences  int64  `json:"occurrences"`
	Events       int64  `json:"events"`
	LastSeenAt   string `json:"last_seen_at"`
}

type archiveStats struct {
	EventsArchived    int64            `json:"events_archived"`
	TopSignatures     []topSignature   `json:"top_signatures"`
	AnomaliesByReason map[string]int64 `json:"anomalies_by_reason"`
}

type statsOverview struct {
	WindowHours       int            `json:"window_hours"`
	TrackedSignatures int64          `json:"tracked_signatures"`
	Pipeline          *pipelineStats `json:"pipeline"`
	Archive           *archiveStats  `json:"archive"`
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show pipeline and archive statistics",
	Long: `Show the server's processing counters and, when the event archive
is enabled, volume statistics over a lookback window.

Examples:
  # Default 24h window
  emberctl stats

  # Last hour, as JSON
  emberctl stats --hours 1 -o json`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().IntVar(&statsHours, "hours", 0, "lookback window in hours (default: 24)")
}

func runStats(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	query := url.Values{}
	if statsHours > 0 {
		query.Set("hours", strconv.Itoa(statsHours))
	}

	var overview statsOverview
	if err := c.get(context.Background(), "/api/v1/stats", query, &overview); err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	if GetOutput() == "json" {
		printJSON(overview)
		return nil
	}

	outputStatsTable(&overview)
	return nil
}

func outputStatsTable(o *statsOverview) {
	fmt.Println()
	fmt.Println("Emberwatch Statistics")
	fmt.Println("=====================")
	fmt.Printf("Window: %dh | Tracked signatures: %d\n", o.WindowHours, o.TrackedSignatures)
	fmt.Println()

	if o.Pipeline != nil {
		q, f, p := o.Pipeline.Queue, o.Pipeline.Filter, o.Pipeline.Publisher

		fmt.Println("Queue:")
		fmt.Printf("  Depth:          %d\n", q.Depth)
		fmt.Printf("  Enqueued:       %d\n", q.Enqueued)
		fmt.Printf("  Redelivered:    %d\n", q.Redelivered)
		fmt.Printf("  Dead-lettered:  %d\n", q.DeadLettered)
		fmt.Println()

		fmt.Println("Filter:")
		fmt.Printf("  Processed:      %d\n", f.EventsProcessed)
		fmt.Printf("  Anomalies:      %d\n", f.Anomalies)
		fmt.Printf("  Duplicates:     %d\n", f.Duplicates)
		fmt.Printf("  Muted:          %d\n", f.Muted)
		fmt.Printf("  Invalid:        %d\n", f.InvalidEvents)
		fmt.Printf("  Conflicts:      %d\n", f.Conflicts)
		fmt.Println()

		fmt.Println("Publisher:")
		fmt.Printf("  Published:      %d\n", p.Published)
		fmt.Printf("  Duplicates:     %d\n", p.Duplicates)
		fmt.Printf("  Failed:         %d\n", p.Failed)
		fmt.Printf("  Retries:        %d\n", p.Retries)
		fmt.Println()
	}

	if o.Archive == nil {
		return
	}

	fmt.Printf("Archive (%dh window):\n", o.WindowHours)
	fmt.Printf("  Events archived: %d\n", o.Archive.EventsArchived)
	fmt.Println()

	if len(o.Archive.AnomaliesByReason) > 0 {
		fmt.Println("Anomalies by reason:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "  REASON\tCOUNT\n")
		fmt.Fprintf(w, "  ------\t-----\n")

		reasons := make([]string, 0, len(o.Archive.AnomaliesByReason))
		for r := range o.Archive.AnomaliesByReason {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			fmt.Fprintf(w, "  %s\t%d\n", r, o.Archive.AnomaliesByReason[r])
		}
		w.Flush()
		fmt.Println()
	}

	if len(o.Archive.TopSignatures) > 0 {
		fmt.Println("Top signatures by volume:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "  LEVEL\tMESSAGE\tOCCURRENCES\tEVENTS\n")
		fmt.Fprintf(w, "  -----\t-------\t-----------\t------\n")
		for _, s := range o.Archive.TopSignatures {
			fmt.Fprintf(w, "  %s\t%s\t%d\t%d\n",
				s.Level, truncate(s.Message, 50), s.Occurrences, s.Events)
		}
		w.Flush()
		fmt.Println()
	}
}
