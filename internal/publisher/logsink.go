package publisher

import (
	"context"
	"log"

	"github.com/emberwatch/emberwatch/internal/models"
)

// LogNotifier writes alerts to the process log. Useful in development and as
// a fallback sink when no webhook is configured.
type LogNotifier struct{}

// NewLogNotifier creates a log notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// Name returns "log".
func (n *LogNotifier) Name() string {
	return "log"
}

// Send logs one alert.
func (n *LogNotifier) Send(ctx context.Context, alert *models.PublishedAlert) error {
	log.Printf("[alert] reason=%s level=%s count=%d observed_at=%s signature=%q",
		alert.Reason, alert.Signature.Level, alert.OccurrenceCount,
		alert.ObservedAt.Format("2006-01-02T15:04:05Z"),
		truncate(alert.Signature.Message, 120))
	return nil
}

// Close is a no-op for the log notifier.
func (n *LogNotifier) Close() error {
	return nil
}
