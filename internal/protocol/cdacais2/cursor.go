package cdacais2

import (
	"strconv"
	"strings"
)

// cursor reads fixed width ASCII fields. Reads past the end yield empty
// strings and parse to zero.
type cursor struct {
	b   []byte
	off int
}

func (c *cursor) str(n int) string {
	if c.off+n > len(c.b) {
		c.off = len(c.b)
		return ""
	}
	s := string(c.b[c.off : c.off+n])
	c.off += n
	return s
}

func (c *cursor) int(n int) int {
	v, _ := strconv.Atoi(strings.TrimSpace(c.str(n)))
	return v
}

func (c *cursor) hex(n int) int64 {
	v, _ := strconv.ParseInt(strings.TrimSpace(c.str(n)), 16, 64)
	return v
}

func (c *cursor) float(n int) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(c.str(n)), 64)
	return v
}

func (c *cursor) remaining() int { return len(c.b) - c.off }
