// Package telemetry provides the prometheus metrics for the submission and
// merge engines. Metrics are registered against an injected Registerer so
// the hosting process decides exposure. A nil *Metrics is valid and counts
// nothing, letting engines run unmetered.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Registry prometheus.Registerer

	ballotsAccepted   prometheus.Counter
	contestsSubmitted prometheus.Counter
	branchRetries     prometheus.Counter
	branchesMerged    prometheus.Counter
	mergesSkipped     prometheus.Counter
	receiptsDegraded  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cvrlog",
			Name:      name,
			Help:      help,
		})
	}
	m := &Metrics{
		Registry:          reg,
		ballotsAccepted:   counter("ballots_accepted_total", "Cast ballots successfully submitted"),
		contestsSubmitted: counter("contests_submitted_total", "Per contest CVR branches pushed"),
		branchRetries:     counter("branch_retries_total", "CVR branch name allocations that had to be retried"),
		branchesMerged:    counter("branches_merged_total", "CVR branches merged into main"),
		mergesSkipped:     counter("merges_skipped_total", "Contest groups left pending to hold the anonymity threshold"),
		receiptsDegraded:  counter("receipts_degraded_total", "Receipts skipped for lack of unmerged CVRs"),
	}
	for _, c := range []prometheus.Collector{
		m.ballotsAccepted, m.contestsSubmitted, m.branchRetries,
		m.branchesMerged, m.mergesSkipped, m.receiptsDegraded,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) BallotAccepted() {
	if m != nil {
		m.ballotsAccepted.Inc()
	}
}

func (m *Metrics) ContestSubmitted() {
	if m != nil {
		m.contestsSubmitted.Inc()
	}
}

func (m *Metrics) BranchRetried() {
	if m != nil {
		m.branchRetries.Inc()
	}
}

func (m *Metrics) BranchMerged() {
	if m != nil {
		m.branchesMerged.Inc()
	}
}

func (m *Metrics) MergeSkipped() {
	if m != nil {
		m.mergesSkipped.Inc()
	}
}

func (m *Metrics) ReceiptDegraded() {
	if m != nil {
		m.receiptsDegraded.Inc()
	}
}
