// Package logbuffer implements the partitioned, lock-free storage underneath
// a Dispatcher.
//
// # Overview
//
// A LogBuffer owns a fixed set of equally sized partitions carved out of one
// contiguous, 8-byte aligned region. Partition ids grow without bound; the
// physical slot is id mod partitionCount. Producers reserve space in the
// active partition by compare-and-set on its tail counter and then write a
// frame in place. Readers never take locks: the frame length word is the
// visibility gate (a length <= 0 means "not committed yet").
//
// Positions pack (partitionId, partitionOffset) into one int64:
//
//	pos := logbuffer.Position(7, 128)
//	_ = logbuffer.PartitionID(pos)     // 7
//	_ = logbuffer.PartitionOffset(pos) // 128
//
// # Frame layout
//
//	0      4      5        6      8          12
//	+------+------+--------+------+----------+---------+
//	|length|flags |version | type | streamId | payload |
//	+------+------+--------+------+----------+---------+
//
// length covers header and payload (unaligned) and is only ever accessed
// atomically. Frames start on FrameAlignment boundaries.
//
// # Write outcomes
//
//	tail := p.TailCounterVolatile()
//	res := appender.Append(p, tail, payload, streamID, 0)
//	switch {
//	case res >= 0:                      // new tail, frame committed
//	case res == ResultRollover:         // padding written, partition full
//	case res == ResultInsufficientSpace: // partition already full
//	case res == ResultContended:        // lost the CAS, re-read and retry
//	}
package logbuffer
