package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"vsdnetwork/docstore"
)

// Ledger collects the operational metrics of the accounting core.
type Ledger struct {
	operations *prometheus.CounterVec
	conflicts  prometheus.Counter
	mintedLite prometheus.Counter
}

var (
	ledgerOnce      sync.Once
	ledgerCollector *Ledger
)

// NewLedger returns the process-wide ledger collector, registering it on the
// default registry on first use.
func NewLedger() *Ledger {
	ledgerOnce.Do(func() {
		ledgerCollector = &Ledger{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledger_operations_total",
				Help: "Count of ledger operations by kind and outcome.",
			}, []string{"op", "outcome"}),
			conflicts: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "ledger_tx_conflicts_total",
				Help: "Number of operations aborted after exhausting optimistic retries.",
			}),
			mintedLite: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "ledger_minted_lite_total",
				Help: "Total VSD Lite minted through rewards and airdrops.",
			}),
		}
		prometheus.MustRegister(
			ledgerCollector.operations,
			ledgerCollector.conflicts,
			ledgerCollector.mintedLite,
		)
	})
	return ledgerCollector
}

// Observe records the outcome of one ledger operation.
func (l *Ledger) Observe(op string, err error) {
	if l == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if errors.Is(err, docstore.ErrConflict) {
			l.conflicts.Inc()
			outcome = "conflict"
		}
	}
	l.operations.WithLabelValues(op, outcome).Inc()
}

// AddMintedLite accounts for freshly minted VSD Lite.
func (l *Ledger) AddMintedLite(amount int64) {
	if l == nil || amount <= 0 {
		return
	}
	l.mintedLite.Add(float64(amount))
}
