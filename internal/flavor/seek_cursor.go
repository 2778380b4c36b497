package flavor

// Seeker answers positional queries over an immutable ordered view. Each
// method returns the matching record, or ok=false.
type Seeker interface {
	First() (key, value []byte, ok bool)
	Last() (key, value []byte, ok bool)
	SeekGE(target []byte) (key, value []byte, ok bool)
	SeekGT(target []byte) (key, value []byte, ok bool)
	SeekLE(target []byte) (key, value []byte, ok bool)
	SeekLT(target []byte) (key, value []byte, ok bool)
}

// NewSeekCursor adapts a Seeker to a Cursor. Next and Prev are seeks
// relative to the current key.
func NewSeekCursor(s Seeker) Cursor {
	return &seekCursor{s: s}
}

type seekCursor struct {
	s     Seeker
	key   []byte
	value []byte
	valid bool
}

func (c *seekCursor) set(key, value []byte, ok bool) {
	c.key, c.value, c.valid = key, value, ok
}

func (c *seekCursor) Valid() bool   { return c.valid }
func (c *seekCursor) Key() []byte   { return c.key }
func (c *seekCursor) Value() []byte { return c.value }

func (c *seekCursor) First()               { c.set(c.s.First()) }
func (c *seekCursor) Last()                { c.set(c.s.Last()) }
func (c *seekCursor) SeekGE(target []byte) { c.set(c.s.SeekGE(target)) }
func (c *seekCursor) SeekGT(target []byte) { c.set(c.s.SeekGT(target)) }
func (c *seekCursor) SeekLE(target []byte) { c.set(c.s.SeekLE(target)) }
func (c *seekCursor) SeekLT(target []byte) { c.set(c.s.SeekLT(target)) }

func (c *seekCursor) Next() {
	if c.valid {
		c.set(c.s.SeekGT(c.key))
	}
}

func (c *seekCursor) Prev() {
	if c.valid {
		c.set(c.s.SeekLT(c.key))
	}
}

func (c *seekCursor) Err() error   { return nil }
func (c *seekCursor) Close() error { return nil }
