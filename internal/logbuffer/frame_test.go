package logbuffer

import (
	"testing"
)

func TestHeaderLayout(t *testing.T) {
	if HeaderLength != 12 {
		t.Fatalf("header length changed: %d", HeaderLength)
	}
	if FrameAlignment&(FrameAlignment-1) != 0 {
		t.Fatalf("alignment must be a power of two")
	}
	offsets := []struct {
		name string
		got  int
		want int
		size int
	}{
		{"length", LengthOffset(0), 0, 4},
		{"flags", FlagsOffset(0), 4, 1},
		{"version", VersionOffset(0), 5, 1},
		{"type", TypeOffset(0), 6, 2},
		{"stream", StreamIDOffset(0), 8, 4},
		{"message", MessageOffset(0), HeaderLength, 0},
	}
	end := 0
	for _, o := range offsets {
		if o.got != o.want {
			t.Fatalf("%s offset: got %d want %d", o.name, o.got, o.want)
		}
		if o.got < end {
			t.Fatalf("%s overlaps previous field", o.name)
		}
		end = o.got + o.size
	}
	if LengthOffset(0)%4 != 0 {
		t.Fatalf("length word must be 4-byte aligned")
	}
}

func TestOffsetsAreRelativeToFrame(t *testing.T) {
	for frame := 0; frame < 256; frame += FrameAlignment {
		if TypeOffset(frame) != frame+6 || StreamIDOffset(frame) != frame+8 ||
			FlagsOffset(frame) != frame+4 || MessageOffset(frame) != frame+HeaderLength {
			t.Fatalf("offsets not relative at frame %d", frame)
		}
	}
}

func TestAlignedLength(t *testing.T) {
	for n := 0; n <= 1024; n++ {
		got := AlignedLength(n)
		if got%FrameAlignment != 0 {
			t.Fatalf("AlignedLength(%d)=%d not aligned", n, got)
		}
		if got < n+HeaderLength || got >= n+HeaderLength+FrameAlignment {
			t.Fatalf("AlignedLength(%d)=%d not minimal", n, got)
		}
	}
	if AlignedLength(4) != 16 {
		t.Fatalf("want 16 for 4-byte message, got %d", AlignedLength(4))
	}
	if FramedLength(4) != 16 || FramedLength(5) != 17 {
		t.Fatalf("framed length must not be aligned")
	}
}

func TestFailedFlag(t *testing.T) {
	for f := 0; f < 256; f++ {
		flags := byte(f)
		set := EnableFailed(flags)
		if !IsFailed(set) {
			t.Fatalf("flag not set for %08b", flags)
		}
		if set&^FlagFailed != flags&^FlagFailed {
			t.Fatalf("other bits changed for %08b", flags)
		}
		if IsFailed(flags) != (flags&FlagFailed != 0) {
			t.Fatalf("IsFailed wrong for %08b", flags)
		}
	}
}

func TestHeaderReadBack(t *testing.T) {
	buf := allocAligned(64)
	putHeader(buf, 16, TypeMessage, -7, FlagFailed)
	FramePutLengthOrdered(buf, 16, 20)
	if FrameLengthVolatile(buf, 16) != 20 {
		t.Fatalf("length")
	}
	if FrameType(buf, 16) != TypeMessage {
		t.Fatalf("type")
	}
	if FrameStreamID(buf, 16) != -7 {
		t.Fatalf("stream id")
	}
	if !IsFailed(FrameFlags(buf, 16)) {
		t.Fatalf("flags")
	}
	setType(buf, 16, TypePadding)
	if FrameType(buf, 16) != TypePadding {
		t.Fatalf("set type")
	}
	for i := 0; i < 16; i++ {
		if buf[i] != 0 {
			t.Fatalf("wrote outside frame at %d", i)
		}
	}
}

func TestLengthWordBoundsChecked(t *testing.T) {
	buf := allocAligned(16)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for header past the end")
		}
	}()
	FrameLengthVolatile(buf, 16)
}
