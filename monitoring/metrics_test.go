package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fakeChain struct {
	height, pending int
	badIndex        int
	ok              bool
}

func (f fakeChain) Height() int { return f.height }
func (f fakeChain) Pending() int { return f.pending }
func (f fakeChain) VerifyChain() (int, bool) { return f.badIndex, f.ok }

func TestMonitor_CollectsChainGauges(t *testing.T) {
	m := NewMonitor(fakeChain{height: 4, pending: 2, badIndex: -1, ok: true}, time.Minute)

	m.collect()

	assert.Equal(t, float64(4), testutil.ToFloat64(ledgerHeight))
	assert.Equal(t, float64(2), testutil.ToFloat64(ledgerPending))
	assert.Equal(t, float64(1), testutil.ToFloat64(ledgerChainValid))
	assert.Greater(t, testutil.ToFloat64(goroutineCount), float64(0))
}

func TestMonitor_FlagsBrokenChain(t *testing.T) {
	m := NewMonitor(fakeChain{height: 4, badIndex: 2, ok: false}, time.Minute)

	m.collect()

	assert.Equal(t, float64(0), testutil.ToFloat64(ledgerChainValid))
}

func TestMonitor_RunStopsWithContext(t *testing.T) {
	m := NewMonitor(nil, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestRecordCounters(t *testing.T) {
	before := testutil.ToFloat64(casConflicts.WithLabelValues("tickets"))
	RecordCASConflict("tickets")
	assert.Equal(t, before+1, testutil.ToFloat64(casConflicts.WithLabelValues("tickets")))

	RecordMinted("A", 3)
	assert.GreaterOrEqual(t, testutil.ToFloat64(ticketsMinted.WithLabelValues("A")), float64(3))
}
