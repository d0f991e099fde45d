package vterm

import (
	"fmt"
	"strconv"
	"strings"
)

// Snapshot is a point-in-time copy of the visible screen: the active grid,
// cursor, and terminal modes. It is immutable once captured; Render turns it
// back into control bytes.
type Snapshot struct {
	Rows, Cols int
	Cells      [][]Cell
	Cursor     Cursor
	AltScreen  bool
	Title      string
}

// Snapshot copies the current model state. The copy is deep; later writes
// to the model do not affect it.
func (vt *VTerm) Snapshot() *Snapshot {
	src := vt.screen()
	cells := make([][]Cell, vt.rows)
	for r := range cells {
		cells[r] = make([]Cell, vt.cols)
		copy(cells[r], src[r])
	}
	return &Snapshot{
		Rows:      vt.rows,
		Cols:      vt.cols,
		Cells:     cells,
		Cursor:    vt.cur,
		AltScreen: vt.altScreen,
		Title:     vt.title,
	}
}

// Render serializes the snapshot into terminal control bytes. Writing them
// to a terminal (or feeding them into a fresh model of the same size)
// reconstructs the same visible grid, cursor position, and modes.
func (s *Snapshot) Render() []byte {
	var b strings.Builder
	if s.AltScreen {
		b.WriteString("\x1b[?1049h")
	}
	b.WriteString("\x1b[0m\x1b[H\x1b[2J")
	for r := 0; r < s.Rows; r++ {
		row := s.Cells[r]
		last := -1
		for c := s.Cols - 1; c >= 0; c-- {
			if row[c] != (Cell{}) {
				last = c
				break
			}
		}
		if last < 0 {
			continue
		}
		fmt.Fprintf(&b, "\x1b[%d;1H", r+1)
		pen := Cell{}
		c := 0
		for c <= last {
			cell := row[c]
			// untouched cells are skipped rather than printed as
			// spaces so replay reproduces the grid exactly
			if cell == (Cell{}) {
				n := 0
				for c+n <= last && row[c+n] == (Cell{}) {
					n++
				}
				fmt.Fprintf(&b, "\x1b[%dC", n)
				c += n
				continue
			}
			if cell.style() != pen.style() {
				b.WriteString(sgrSequence(cell))
				pen = cell
			}
			rn := cell.Rune
			if rn == 0 {
				rn = ' '
			}
			b.WriteRune(rn)
			c++
		}
	}
	b.WriteString("\x1b[0m")
	if s.Title != "" {
		fmt.Fprintf(&b, "\x1b]2;%s\x07", s.Title)
	}
	if !s.Cursor.Visible {
		b.WriteString("\x1b[?25l")
	}
	fmt.Fprintf(&b, "\x1b[%d;%dH", s.Cursor.Row+1, s.Cursor.Col+1)
	return []byte(b.String())
}

// sgrSequence emits a full attribute reset-and-set for a cell's style.
// Always starting from reset keeps the emission independent of terminal
// state at replay time.
func sgrSequence(c Cell) string {
	codes := []string{"0"}
	if c.Attrs.Bold {
		codes = append(codes, "1")
	}
	if c.Attrs.Italic {
		codes = append(codes, "3")
	}
	if c.Attrs.Underline {
		codes = append(codes, "4")
	}
	if c.Attrs.Reverse {
		codes = append(codes, "7")
	}
	if c.Attrs.Strike {
		codes = append(codes, "9")
	}
	codes = append(codes, colorCodes(c.Fg, 30, 38)...)
	codes = append(codes, colorCodes(c.Bg, 40, 48)...)
	return "\x1b[" + strings.Join(codes, ";") + "m"
}

func colorCodes(col Color, base, ext int) []string {
	switch col.Mode {
	case ColorIndexed:
		switch {
		case col.Index < 8:
			return []string{strconv.Itoa(base + int(col.Index))}
		case col.Index < 16:
			return []string{strconv.Itoa(base + 60 + int(col.Index) - 8)}
		default:
			return []string{strconv.Itoa(ext), "5", strconv.Itoa(int(col.Index))}
		}
	case ColorRGB:
		return []string{
			strconv.Itoa(ext), "2",
			strconv.Itoa(int(col.R)), strconv.Itoa(int(col.G)), strconv.Itoa(int(col.B)),
		}
	}
	return nil
}

// Equal reports whether two snapshots describe the same visible state.
// An untouched cell and an explicitly written default-styled space are
// visually identical and compare equal.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s.Rows != o.Rows || s.Cols != o.Cols ||
		s.Cursor != o.Cursor || s.AltScreen != o.AltScreen || s.Title != o.Title {
		return false
	}
	for r := 0; r < s.Rows; r++ {
		for c := 0; c < s.Cols; c++ {
			a, b := s.Cells[r][c], o.Cells[r][c]
			if a.Rune == 0 {
				a.Rune = ' '
			}
			if b.Rune == 0 {
				b.Rune = ' '
			}
			if a != b {
				return false
			}
		}
	}
	return true
}
