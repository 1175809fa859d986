package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// searchesTotal counts completed searches by outcome; "ok" or the
	// error kind.
	searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mimir_searches_total",
		Help: "Completed natural-language searches by outcome",
	}, []string{"outcome"})
)
