// Package metrics exposes Prometheus instrumentation for the evaluation
// pipeline: event ingestion and evaluation counters, violation synthesis
// outcomes, signing failures, immutability rejections and evaluation latency.
package metrics
