// Package exporter persists what a dispatcher subscription reads into Pebble
// and reads it back.
//
// An Exporter is a dispatcher.BlockHandler. Each block becomes one Pebble
// batch holding a record per fragment plus the export cursor, so a crash
// never leaves records without the cursor that covers them. The cursor is
// the dispatcher position after the last exported fragment and never moves
// backward.
//
// Keyspace (byte-wise sortable):
//
//	exp/{name}/r/{seq_be8}  record
//	exp/{name}/c            cursor: position_be8 | seq_be8
//
// Record value: varint headerLen | header | payload | crc32c(header|payload)
// where header is stream_be4 | flags | position_be8.
package exporter
