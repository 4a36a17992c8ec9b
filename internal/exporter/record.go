package exporter

import (
	"encoding/binary"
	"hash/crc32"
)

const recordHeaderLength = 4 + 1 + 8

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// EncodeRecord encodes varint headerLen | header | payload | crc32c.
func EncodeRecord(header, payload []byte) []byte {
	out := make([]byte, 0, binary.MaxVarintLen64+len(header)+len(payload)+4)
	out = binary.AppendUvarint(out, uint64(len(header)))
	out = append(out, header...)
	out = append(out, payload...)

	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	return binary.BigEndian.AppendUint32(out, crc)
}

// Decoded is a record split into its parts. Both slices are copies.
type Decoded struct {
	Header  []byte
	Payload []byte
}

// DecodeRecord validates the checksum and splits b.
func DecodeRecord(b []byte) (Decoded, bool) {
	if len(b) < 1+4 {
		return Decoded{}, false
	}
	hlen, n := binary.Uvarint(b)
	if n <= 0 {
		return Decoded{}, false
	}
	if uint64(n)+hlen+4 > uint64(len(b)) {
		return Decoded{}, false
	}
	header := b[n : n+int(hlen)]
	payload := b[n+int(hlen) : len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != expect {
		return Decoded{}, false
	}
	return Decoded{Header: append([]byte(nil), header...), Payload: append([]byte(nil), payload...)}, true
}

func encodeFragmentHeader(streamID int32, flags byte, position int64) []byte {
	h := make([]byte, 0, recordHeaderLength)
	h = binary.BigEndian.AppendUint32(h, uint32(streamID))
	h = append(h, flags)
	return binary.BigEndian.AppendUint64(h, uint64(position))
}

func decodeFragmentHeader(h []byte) (streamID int32, flags byte, position int64, ok bool) {
	if len(h) != recordHeaderLength {
		return 0, 0, 0, false
	}
	return int32(binary.BigEndian.Uint32(h[0:4])), h[4], int64(binary.BigEndian.Uint64(h[5:13])), true
}
