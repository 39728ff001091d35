// Package protocol owns the telemetry wire contract.
//
// Ownership boundary:
// - message tags and the [tag][payload][crc16] message layout
// - synthesized messages (TIME_EPOCH, SOURCE_ID, SEQUENCE)
// - assembled frame scanning and source identity lookup
//
// Byte stuffing lives in protocol/cobs, the checksum in protocol/crc16 and
// stream synchronization in protocol/frame.
package protocol
