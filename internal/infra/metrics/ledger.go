package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(ledgerEntries, ledgerCredits, membershipGrants) }

var (
	ledgerEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_entries_total",
			Help: "Ledger entries appended by source and direction (credit|debit).",
		},
		[]string{"source", "direction"},
	)

	ledgerCredits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_credits_total",
			Help: "Absolute credits moved by source and direction.",
		},
		[]string{"source", "direction"},
	)

	// result: applied|noop
	membershipGrants = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "membership_grants_total",
			Help: "Membership grant decisions by requested tier and result.",
		},
		[]string{"tier", "result"},
	)
)

func IncLedgerEntry(source string, amount int64) {
	dir := "credit"
	abs := amount
	if amount < 0 {
		dir = "debit"
		abs = -amount
	}
	ledgerEntries.WithLabelValues(norm(source), dir).Inc()
	ledgerCredits.WithLabelValues(norm(source), dir).Add(float64(abs))
}

func IncMembershipGrant(tier string, applied bool) {
	result := "noop"
	if applied {
		result = "applied"
	}
	membershipGrants.WithLabelValues(norm(tier), result).Inc()
}
