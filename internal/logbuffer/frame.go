package logbuffer

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

// Frame header layout. Offsets are relative to the start of a frame.
const (
	lengthFieldOffset   = 0
	flagsFieldOffset    = 4
	versionFieldOffset  = 5
	typeFieldOffset     = 6
	streamIDFieldOffset = 8

	// HeaderLength is the size of a frame header in bytes.
	HeaderLength = 12
	// FrameAlignment is the boundary every frame starts on. Power of two.
	FrameAlignment = 8

	frameVersion byte = 0
)

// Frame types.
const (
	TypeMessage int16 = 0
	TypePadding int16 = 1
)

// FlagFailed marks a fragment that a producer-side retry path re-published
// after a failed attempt.
const FlagFailed byte = 1 << 0

// Align rounds value up to the next multiple of alignment (a power of two).
func Align(value, alignment int) int {
	return (value + alignment - 1) &^ (alignment - 1)
}

// FramedLength is the unaligned length of a frame carrying messageLength bytes.
func FramedLength(messageLength int) int { return messageLength + HeaderLength }

// AlignedLength is the space a frame carrying messageLength bytes occupies.
func AlignedLength(messageLength int) int {
	return Align(messageLength+HeaderLength, FrameAlignment)
}

// LengthOffset returns the offset of the length word of the frame at frameOffset.
func LengthOffset(frameOffset int) int { return frameOffset + lengthFieldOffset }

// FlagsOffset returns the offset of the flags byte.
func FlagsOffset(frameOffset int) int { return frameOffset + flagsFieldOffset }

// VersionOffset returns the offset of the version byte.
func VersionOffset(frameOffset int) int { return frameOffset + versionFieldOffset }

// TypeOffset returns the offset of the type field.
func TypeOffset(frameOffset int) int { return frameOffset + typeFieldOffset }

// StreamIDOffset returns the offset of the stream id field.
func StreamIDOffset(frameOffset int) int { return frameOffset + streamIDFieldOffset }

// MessageOffset returns the offset of the payload.
func MessageOffset(frameOffset int) int { return frameOffset + HeaderLength }

// IsFailed reports whether the FAILED bit is set.
func IsFailed(flags byte) bool { return flags&FlagFailed != 0 }

// EnableFailed returns flags with the FAILED bit set.
func EnableFailed(flags byte) byte { return flags | FlagFailed }

// lengthWord returns the aligned int32 behind the length field. Slicing
// panics when the frame header lies outside buf and does not load memory;
// the word may only be read through sync/atomic.
func lengthWord(buf []byte, frameOffset int) *int32 {
	i := LengthOffset(frameOffset)
	w := buf[i : i+4 : i+4]
	return (*int32)(unsafe.Pointer(&w[0]))
}

// FrameLengthVolatile loads the length word. Any bytes written before the
// matching FramePutLengthOrdered are visible once a positive value is seen.
func FrameLengthVolatile(buf []byte, frameOffset int) int32 {
	return atomic.LoadInt32(lengthWord(buf, frameOffset))
}

// FramePutLengthOrdered stores the length word after all prior writes.
func FramePutLengthOrdered(buf []byte, frameOffset int, length int32) {
	atomic.StoreInt32(lengthWord(buf, frameOffset), length)
}

// FrameType reads the type field.
func FrameType(buf []byte, frameOffset int) int16 {
	i := TypeOffset(frameOffset)
	return int16(binary.LittleEndian.Uint16(buf[i : i+2]))
}

// FrameFlags reads the flags byte.
func FrameFlags(buf []byte, frameOffset int) byte { return buf[FlagsOffset(frameOffset)] }

// FrameStreamID reads the stream id field.
func FrameStreamID(buf []byte, frameOffset int) int32 {
	i := StreamIDOffset(frameOffset)
	return int32(binary.LittleEndian.Uint32(buf[i : i+4]))
}

// putHeader writes every header field except the length word.
func putHeader(buf []byte, frameOffset int, typ int16, streamID int32, flags byte) {
	buf[FlagsOffset(frameOffset)] = flags
	buf[VersionOffset(frameOffset)] = frameVersion
	i := TypeOffset(frameOffset)
	binary.LittleEndian.PutUint16(buf[i:i+2], uint16(typ))
	j := StreamIDOffset(frameOffset)
	binary.LittleEndian.PutUint32(buf[j:j+4], uint32(streamID))
}

// setType overwrites the type field of an uncommitted frame.
func setType(buf []byte, frameOffset int, typ int16) {
	i := TypeOffset(frameOffset)
	binary.LittleEndian.PutUint16(buf[i:i+2], uint16(typ))
}
