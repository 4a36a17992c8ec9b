package logbuffer

// ClaimedFragment is a reserved, not yet visible frame. Exactly one of
// Commit, CommitFailed or Abort must be called once the payload is written.
type ClaimedFragment struct {
	buf    []byte
	offset int
	framed int
}

func (c *ClaimedFragment) wrap(buf []byte, offset, framed int) {
	c.buf = buf
	c.offset = offset
	c.framed = framed
}

// Buffer returns a writable view over the claimed payload.
func (c *ClaimedFragment) Buffer() []byte {
	if c.buf == nil {
		return nil
	}
	return c.buf[MessageOffset(c.offset) : c.offset+c.framed : c.offset+c.framed]
}

// Length returns the payload length that was claimed.
func (c *ClaimedFragment) Length() int {
	if c.buf == nil {
		return 0
	}
	return c.framed - HeaderLength
}

// IsOpen reports whether the fragment still waits for Commit or Abort.
func (c *ClaimedFragment) IsOpen() bool { return c.buf != nil }

// Commit makes the fragment visible to readers.
func (c *ClaimedFragment) Commit() {
	if c.buf == nil {
		return
	}
	FramePutLengthOrdered(c.buf, c.offset, int32(c.framed))
	c.reset()
}

// CommitFailed sets the FAILED flag and commits.
func (c *ClaimedFragment) CommitFailed() {
	if c.buf == nil {
		return
	}
	i := FlagsOffset(c.offset)
	c.buf[i] = EnableFailed(c.buf[i])
	c.Commit()
}

// Abort turns the fragment into padding so readers skip it.
func (c *ClaimedFragment) Abort() {
	if c.buf == nil {
		return
	}
	setType(c.buf, c.offset, TypePadding)
	c.Commit()
}

func (c *ClaimedFragment) reset() {
	c.buf = nil
	c.offset = 0
	c.framed = 0
}
