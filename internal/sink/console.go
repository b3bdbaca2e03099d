package sink

import (
	"fmt"
	"io"
	"strings"

	"github.com/earshot-audio/earshot/internal/protocol"
)

// Console renders a live transcript. Partial hypotheses redraw in
// place on the current line; finalized utterances replace them as
// fixed lines. Empty finals (silence) print nothing.
type Console struct {
	w       io.Writer
	lastLen int
}

func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Emit(t protocol.Transcript) error {
	if t.Partial {
		if t.Text == "" && c.lastLen == 0 {
			return nil
		}
		return c.redraw(t.Text)
	}
	if err := c.clear(); err != nil {
		return err
	}
	if t.Text == "" {
		return nil
	}
	_, err := fmt.Fprintln(c.w, t.Text)
	return err
}

// redraw overwrites the current line, padding with spaces when the
// new hypothesis is shorter than the previous one.
func (c *Console) redraw(text string) error {
	pad := ""
	if n := c.lastLen - len(text); n > 0 {
		pad = strings.Repeat(" ", n)
	}
	_, err := fmt.Fprintf(c.w, "\r%s%s", text, pad)
	c.lastLen = len(text)
	return err
}

func (c *Console) clear() error {
	if c.lastLen == 0 {
		return nil
	}
	_, err := fmt.Fprintf(c.w, "\r%s\r", strings.Repeat(" ", c.lastLen))
	c.lastLen = 0
	return err
}

// Close clears any partial hypothesis still on the line.
func (c *Console) Close() error {
	return c.clear()
}
