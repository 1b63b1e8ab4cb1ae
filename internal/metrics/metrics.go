// Package metrics exposes Prometheus collectors for ingestion and answering.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "biblioteca"

var (
	// DocumentsIngested counts ingestion attempts.
	// Labels: result (ok, error)
	DocumentsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Documents processed by the ingestion pipeline by result",
		},
		[]string{"result"},
	)

	// ChunksIndexed counts chunks written to the vector index.
	ChunksIndexed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "chunks_total",
			Help:      "Chunks embedded and written to the vector index",
		},
	)

	// EmbeddingRequests counts embedding calls.
	// Labels: result (ok, retry, error)
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embeddings",
			Name:      "requests_total",
			Help:      "Embedding provider calls by result",
		},
		[]string{"result"},
	)

	// Answers counts answer requests.
	// Labels: mode (library, analysis), result (ok, redirect, error)
	Answers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "answers_total",
			Help:      "Answer requests by mode and result",
		},
		[]string{"mode", "result"},
	)

	// AnswerDuration tracks end-to-end answer latency.
	AnswerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "answer_duration_seconds",
			Help:      "End-to-end answer latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		},
		[]string{"mode"},
	)

	// RetrievalHits tracks how many chunks a search returned.
	RetrievalHits = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "retrieval_hits",
			Help:      "Chunks returned per similarity search",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		},
		[]string{"mode"},
	)

	// SearchFailures counts vector searches that failed and were degraded to no hits.
	SearchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "search_failures_total",
			Help:      "Vector searches that failed and were treated as empty",
		},
	)
)
