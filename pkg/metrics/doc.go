/*
Package metrics exposes Prometheus instrumentation for the engine.

Metrics are package-level collectors registered at init and written from
the coordinator, the sweeps, and the periodic Collector, which samples
task counts by status from the store. Handler serves the standard
Prometheus scrape endpoint.
*/
package metrics
