package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payhub",
		Name:      "reconciliations_total",
		Help:      "Payment notifications by channel and result.",
	}, []string{"channel", "result"})

	settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payhub",
		Name:      "settlements_total",
		Help:      "Settled transactions by kind.",
	}, []string{"kind"})

	invoicesCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payhub",
		Name:      "invoices_created_total",
		Help:      "Created invoices by kind.",
	}, []string{"kind"})

	ledgerEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payhub",
		Name:      "ledger_entries_total",
		Help:      "Observed chain transfers by insert result.",
	}, []string{"result"})

	scannerCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payhub",
		Name:      "scanner_cycles_total",
		Help:      "Wallet history scanner cycles by result.",
	}, []string{"result"})

	droppedEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "payhub",
		Name:      "dropped_settlement_events_total",
		Help:      "Settlement events a slow subscriber missed.",
	})
)
