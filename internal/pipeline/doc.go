// Package pipeline turns recovered messages into assembled frames and
// decides which frames leave the process.
//
// Ownership boundary:
// - message validation policy per ingest path
// - sequence-keyed aggregation with TIME_EPOCH injection
// - size-bucketed downsampling
// - serial and network ingest chains built from the above
package pipeline

// Ingest path labels used in logs and metrics.
const (
	PathSerial  = "serial"
	PathNetwork = "network"
)
