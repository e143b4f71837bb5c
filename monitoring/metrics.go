package monitoring

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lotteryDraws = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lottery_draws_total",
			Help: "Lottery draws by result",
		},
		[]string{"result"},
	)

	lotteryEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lottery_entries_total",
			Help: "Lottery registrations decided by outcome",
		},
		[]string{"outcome"},
	)

	drawDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lottery_draw_duration_seconds",
			Help:    "Duration of lottery draws",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	ticketsMinted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickets_minted_total",
			Help: "Tickets minted per zone",
		},
		[]string{"zone"},
	)

	ticketVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_verifications_total",
			Help: "Ticket verifications by outcome",
		},
		[]string{"outcome"},
	)

	ticketPurchases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_purchases_total",
			Help: "Ticket purchases by flow and result",
		},
		[]string{"flow", "result"},
	)

	ledgerBlocks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_blocks_total",
			Help: "Ledger blocks appended by this process",
		},
	)

	ledgerPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_pending_transactions",
			Help: "Signed ledger transactions not yet in a block",
		},
	)

	ledgerHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_chain_height",
			Help: "Number of blocks in the loaded chain",
		},
	)

	ledgerWriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_write_failures_total",
			Help: "Ledger writes that failed and were skipped",
		},
		[]string{"op"},
	)

	ledgerChainValid = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_chain_valid",
			Help: "1 when the last chain verification passed",
		},
	)

	casConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_cas_conflicts_total",
			Help: "Compare-and-swap writes rejected by version",
		},
		[]string{"collection"},
	)

	policyFailOpen = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "policy_fail_open_total",
			Help: "Purchase limit checks allowed because the policy could not be evaluated",
		},
	)

	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_goroutines_total",
			Help: "Current number of active goroutines",
		},
	)
)

func RecordDraw(result string, duration time.Duration) {
	lotteryDraws.WithLabelValues(result).Inc()
	drawDuration.Observe(duration.Seconds())
}

func RecordEntry(outcome string) { lotteryEntries.WithLabelValues(outcome).Inc() }

func RecordMinted(zone string, n int) { ticketsMinted.WithLabelValues(zone).Add(float64(n)) }

func RecordVerification(outcome string) { ticketVerifications.WithLabelValues(outcome).Inc() }

func RecordPurchase(flow, result string) { ticketPurchases.WithLabelValues(flow, result).Inc() }

func RecordBlock(pending int) {
	ledgerBlocks.Inc()
	ledgerPending.Set(float64(pending))
}

func RecordPending(pending int) { ledgerPending.Set(float64(pending)) }

func RecordLedgerFailure(op string) { ledgerWriteFailures.WithLabelValues(op).Inc() }

func RecordChainValid(ok bool) {
	if ok {
		ledgerChainValid.Set(1)
	} else {
		ledgerChainValid.Set(0)
	}
}

func RecordCASConflict(collection string) { casConflicts.WithLabelValues(collection).Inc() }

func RecordPolicyFailOpen() { policyFailOpen.Inc() }

// ChainStats is the view of the ledger the monitor samples.
type ChainStats interface {
	Height() int
	Pending() int
	VerifyChain() (int, bool)
}

// Monitor periodically samples gauges and re-verifies the ledger chain so a
// tampered store shows up on dashboards without waiting for an audit call.
type Monitor struct {
	chain    ChainStats
	interval time.Duration
}

func NewMonitor(chain ChainStats, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{chain: chain, interval: interval}
}

// Run collects until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *Monitor) collect() {
	goroutineCount.Set(float64(runtime.NumGoroutine()))

	if m.chain == nil {
		return
	}
	ledgerHeight.Set(float64(m.chain.Height()))
	ledgerPending.Set(float64(m.chain.Pending()))

	badIndex, ok := m.chain.VerifyChain()
	RecordChainValid(ok)
	if !ok {
		slog.Error("Ledger chain verification failed", "component", "monitor", "block_index", badIndex)
	}
}
