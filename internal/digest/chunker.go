package digest

import (
	"strings"
	"unicode/utf8"

	"tenderwatch/internal/markdown"
)

// piece is one rendered entry.
type piece struct {
	// group is written before text when the group starts or continues in a new chunk.
	group string
	first bool
	// text is the MarkdownV2 rendering with entities.
	text string
	// plain is the same entry as escaped text without entities. It replaces text when the
	// entry does not fit into an empty chunk and may be split at any rune.
	plain string
}

type chunker struct {
	size       int
	header     string
	contHeader string

	chunks  []string
	cur     strings.Builder
	curLen  int
	hasBody bool
}

func newChunker(size int, header, contHeader string) *chunker {
	c := &chunker{size: size, header: header, contHeader: contHeader}
	c.start()
	return c
}

func (c *chunker) start() {
	h := c.header
	if len(c.chunks) > 0 {
		h = c.contHeader
	}

	c.cur.Reset()
	c.cur.WriteString(h)
	c.curLen = utf8.RuneCountInString(h)
	c.hasBody = false
}

func (c *chunker) flush() {
	c.chunks = append(c.chunks, strings.TrimRight(c.cur.String(), "\n"))
	c.start()
}

func (c *chunker) add(p piece) {
	text := p.text
	if p.first {
		text = p.group + text
	}

	if c.fits(text) {
		c.write(text)
		return
	}

	if c.hasBody {
		c.flush()

		if text = p.group + p.text; c.fits(text) {
			c.write(text)
			return
		}
	}

	if c.fits(p.group) {
		c.write(p.group)
	}
	c.split(p.plain)
}

// split writes s across as many chunks as needed. s must not contain entities.
func (c *chunker) split(s string) {
	for s != "" {
		part := markdown.TrimEscaped(s, c.size-c.curLen)
		if part == "" {
			if c.hasBody {
				c.flush()
				continue
			}
			// Not even one escape sequence fits after the header.
			part = markdown.TrimEscaped(s, 2)
		}

		c.write(part)
		s = s[len(part):]

		if s != "" {
			c.flush()
		}
	}
}

func (c *chunker) fits(s string) bool {
	return c.curLen+utf8.RuneCountInString(s) <= c.size
}

func (c *chunker) write(s string) {
	c.cur.WriteString(s)
	c.curLen += utf8.RuneCountInString(s)
	c.hasBody = true
}

func (c *chunker) finish() []string {
	if c.hasBody {
		c.flush()
	}
	return c.chunks
}
