package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(dbPoolStats) }

var dbPoolStats = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "db_pool_stats",
		Help: "Current state of the database connection pool.",
	},
	[]string{"state"}, // 'total', 'idle', 'in_use'
)

func SetDBPoolStats(total, idle, inUse int32) {
	dbPoolStats.WithLabelValues("total").Set(float64(total))
	dbPoolStats.WithLabelValues("idle").Set(float64(idle))
	dbPoolStats.WithLabelValues("in_use").Set(float64(inUse))
}

// PoolStatsFunc reports total, idle and in-use connections.
type PoolStatsFunc func() (total, idle, inUse int32)

// PollDBPoolStats samples stats every interval until ctx is done.
func PollDBPoolStats(ctx context.Context, interval time.Duration, stats PoolStatsFunc) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		SetDBPoolStats(stats())
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
