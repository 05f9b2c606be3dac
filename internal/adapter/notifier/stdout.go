package notifier

import (
	"context"
	"fmt"

	"github.com/user/error-pipeline/internal/domain"
)

// StdoutNotifier prints notifications to standard output. Useful for
// local development when no delivery endpoint is configured.
type StdoutNotifier struct{}

func NewStdoutNotifier() *StdoutNotifier {
	return &StdoutNotifier{}
}

func (n *StdoutNotifier) Send(ctx context.Context, summary *domain.GroupSummary) error {
	fmt.Printf(
		"--- ALERT ---\nTenant: %s\nFingerprint: %s\nSeverity: %s\nEvents: %d\nMessage: %s\n-------------\n",
		summary.TenantID,
		summary.Fingerprint,
		summary.Severity,
		summary.EventCount,
		summary.Message,
	)
	return nil
}
