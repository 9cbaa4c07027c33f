package invalidation

import (
	"context"
	"time"

	"encore.dev/cron"
)

// auditRetention is how long audit log rows are kept before pruning.
const auditRetention = 30 * 24 * time.Hour

// Encore cron job for periodic audit log retention, replacing the
// teacher's predictive/scheduled warming cron jobs (daily-warmup,
// hourly-refresh, peak-hours-warmup) with the one recurring job this
// service actually needs.
var _ = cron.NewJob("audit-log-cleanup", cron.JobConfig{
	Title:    "Prune old invalidation audit log rows",
	Schedule: "0 3 * * *", // 3 AM daily
	Endpoint: CleanupAuditLog,
})

//encore:api private
func CleanupAuditLog(ctx context.Context) error {
	if svc == nil {
		return nil
	}
	_, err := svc.auditLogger.Cleanup(ctx, auditRetention)
	return err
}
