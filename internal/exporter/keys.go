package exporter

import "encoding/binary"

var (
	expPrefix = []byte("exp/")
	recordSeg = []byte("/r/")
	cursorSeg = []byte("/c")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// KeyRecordPrefix is the common prefix of every record key of name.
func KeyRecordPrefix(name string) []byte {
	k := make([]byte, 0, len(name)+16)
	k = append(k, expPrefix...)
	k = append(k, name...)
	k = append(k, recordSeg...)
	return k
}

// KeyRecord builds the record key with a big-endian sequence for ordering.
func KeyRecord(name string, seq uint64) []byte {
	return appendBE8(KeyRecordPrefix(name), seq)
}

// KeyCursor builds the export cursor key of name.
func KeyCursor(name string) []byte {
	k := make([]byte, 0, len(name)+8)
	k = append(k, expPrefix...)
	k = append(k, name...)
	k = append(k, cursorSeg...)
	return k
}

// recordBounds returns [lower, upper) covering all record keys of name.
func recordBounds(name string) ([]byte, []byte) {
	lower := KeyRecord(name, 0)
	upper := append(KeyRecord(name, ^uint64(0)), 0x00)
	return lower, upper
}

func seqFromKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(key)-8:])
}
