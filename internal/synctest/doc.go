// Package synctest is a scenario harness for two-node sync conformance
// tests.
//
// Scenarios are YAML files: each declares the events seeded on two nodes,
// the sync direction, and the expected outcome (stats, convergence, parked
// counts, or a failure). The harness runs the real engine over a tracing
// loopback transport, so scenarios exercise the full protocol path
// including wire encoding.
//
// Message traces are compared against golden files with goldie; regenerate
// them with:
//
//	go test ./internal/synctest -update
package synctest
