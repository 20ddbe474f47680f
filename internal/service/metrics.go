package service

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	RequestsCreated      *prometheus.CounterVec
	CycleJoins           *prometheus.CounterVec
	PairsCreated         *prometheus.CounterVec
	PairsExpired         *prometheus.CounterVec
	ProofUploads         *prometheus.CounterVec
	PairConfirmations    *prometheus.CounterVec
	MatchingPassDuration prometheus.Histogram
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		RequestsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "merge_requests_created_total",
				Help: "Total merge requests created.",
			},
			[]string{"direction", "currency"},
		),
		CycleJoins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "merge_cycle_joins_total",
				Help: "Total cycle join attempts.",
			},
			[]string{"result"},
		),
		PairsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "merge_pairs_created_total",
				Help: "Total match pairs created.",
			},
			[]string{"source"},
		),
		PairsExpired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "merge_pairs_expired_total",
				Help: "Total match pairs expired past a deadline.",
			},
			[]string{"party"},
		),
		ProofUploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "merge_proof_uploads_total",
				Help: "Total proof upload attempts.",
			},
			[]string{"status"},
		),
		PairConfirmations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "merge_pair_confirmations_total",
				Help: "Total pair confirmation attempts.",
			},
			[]string{"status"},
		),
		MatchingPassDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "merge_matching_pass_duration_seconds",
				Help:    "Matching pass latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	registry.MustRegister(
		m.RequestsCreated,
		m.CycleJoins,
		m.PairsCreated,
		m.PairsExpired,
		m.ProofUploads,
		m.PairConfirmations,
		m.MatchingPassDuration,
	)
	return m
}
