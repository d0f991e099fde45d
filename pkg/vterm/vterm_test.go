package vterm

import (
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	vt := New(24, 80)
	rows, cols := vt.GetSize()
	if rows != 24 || cols != 80 {
		t.Errorf("GetSize() = (%d, %d), want (24, 80)", rows, cols)
	}
}

func TestWrite(t *testing.T) {
	vt := New(24, 80)
	n := vt.Write([]byte("Hello, World!"))
	if n != 13 {
		t.Errorf("Write() = %d, want 13", n)
	}
	if got := vt.GetRowText(0); got != "Hello, World!" {
		t.Errorf("GetRowText(0) = %q, want %q", got, "Hello, World!")
	}
}

func TestGetCursor(t *testing.T) {
	vt := New(24, 80)
	vt.Write([]byte("Hello"))
	row, col := vt.GetCursor()
	if row != 0 || col != 5 {
		t.Errorf("GetCursor() = (%d, %d), want (0, 5)", row, col)
	}
}

func TestCRLF(t *testing.T) {
	vt := New(24, 80)
	vt.Write([]byte("ready\r\n"))
	if got := vt.GetRowText(0); got != "ready" {
		t.Errorf("GetRowText(0) = %q, want %q", got, "ready")
	}
	if got := vt.GetScreenText(); got != "ready" {
		t.Errorf("GetScreenText() = %q, want only %q", got, "ready")
	}
	row, col := vt.GetCursor()
	if row != 1 || col != 0 {
		t.Errorf("GetCursor() = (%d, %d), want (1, 0)", row, col)
	}
}

func TestCursorMovement(t *testing.T) {
	vt := New(24, 80)
	vt.Write([]byte("\x1b[5;10H"))
	row, col := vt.GetCursor()
	if row != 4 || col != 9 {
		t.Errorf("after CUP GetCursor() = (%d, %d), want (4, 9)", row, col)
	}
	vt.Write([]byte("\x1b[2A\x1b[3C"))
	row, col = vt.GetCursor()
	if row != 2 || col != 12 {
		t.Errorf("after CUU/CUF GetCursor() = (%d, %d), want (2, 12)", row, col)
	}
	// clamped at edges
	vt.Write([]byte("\x1b[99A\x1b[99D"))
	row, col = vt.GetCursor()
	if row != 0 || col != 0 {
		t.Errorf("after clamped moves GetCursor() = (%d, %d), want (0, 0)", row, col)
	}
}

func TestSplitEscapeSequence(t *testing.T) {
	vt := New(24, 80)
	// CSI split across Write calls must still parse
	vt.Write([]byte("\x1b["))
	vt.Write([]byte("3;"))
	vt.Write([]byte("7H"))
	row, col := vt.GetCursor()
	if row != 2 || col != 6 {
		t.Errorf("GetCursor() = (%d, %d), want (2, 6)", row, col)
	}
}

func TestSplitUTF8(t *testing.T) {
	vt := New(24, 80)
	full := []byte("héllo")
	vt.Write(full[:2]) // cuts é in half
	vt.Write(full[2:])
	if got := vt.GetRowText(0); got != "héllo" {
		t.Errorf("GetRowText(0) = %q, want %q", got, "héllo")
	}
}

func TestEraseDisplay(t *testing.T) {
	vt := New(4, 10)
	vt.Write([]byte("aaaa\r\nbbbb\r\ncccc"))
	vt.Write([]byte("\x1b[2J"))
	if got := vt.GetScreenText(); got != "" {
		t.Errorf("after ED 2 GetScreenText() = %q, want empty", got)
	}
}

func TestEraseLine(t *testing.T) {
	vt := New(4, 10)
	vt.Write([]byte("abcdef"))
	vt.Write([]byte("\x1b[4G\x1b[K")) // col 3, erase to end
	if got := vt.GetRowText(0); got != "abc" {
		t.Errorf("GetRowText(0) = %q, want %q", got, "abc")
	}
}

func TestSGRAttributes(t *testing.T) {
	vt := New(4, 20)
	vt.Write([]byte("\x1b[1;31mred\x1b[0m plain"))
	cell := vt.GetCell(0, 0)
	if cell.Rune != 'r' || !cell.Attrs.Bold {
		t.Errorf("GetCell(0,0) = %+v, want bold 'r'", cell)
	}
	if cell.Fg != (Color{Mode: ColorIndexed, Index: 1}) {
		t.Errorf("GetCell(0,0).Fg = %+v, want indexed 1", cell.Fg)
	}
	plain := vt.GetCell(0, 4)
	if plain.Attrs.Bold || plain.Fg.Mode != ColorDefault {
		t.Errorf("GetCell(0,4) = %+v, want default style", plain)
	}
}

func TestSGR256AndRGB(t *testing.T) {
	vt := New(2, 20)
	vt.Write([]byte("\x1b[38;5;208mX\x1b[48;2;10;20;30mY"))
	x := vt.GetCell(0, 0)
	if x.Fg != (Color{Mode: ColorIndexed, Index: 208}) {
		t.Errorf("X.Fg = %+v, want indexed 208", x.Fg)
	}
	y := vt.GetCell(0, 1)
	if y.Bg != (Color{Mode: ColorRGB, R: 10, G: 20, B: 30}) {
		t.Errorf("Y.Bg = %+v, want rgb 10/20/30", y.Bg)
	}
}

func TestWraparound(t *testing.T) {
	vt := New(4, 5)
	vt.Write([]byte("abcdefg"))
	if got := vt.GetRowText(0); got != "abcde" {
		t.Errorf("GetRowText(0) = %q, want %q", got, "abcde")
	}
	if got := vt.GetRowText(1); got != "fg" {
		t.Errorf("GetRowText(1) = %q, want %q", got, "fg")
	}
}

func TestScrollAndPushLine(t *testing.T) {
	vt := New(3, 10)
	var pushed []string
	vt.OnPushLine(func(line string) { pushed = append(pushed, line) })

	vt.Write([]byte("one\r\ntwo\r\nthree\r\nfour"))
	if len(pushed) != 1 || pushed[0] != "one" {
		t.Errorf("pushed = %v, want [one]", pushed)
	}
	if got := vt.GetRowText(0); got != "two" {
		t.Errorf("GetRowText(0) = %q, want %q", got, "two")
	}
}

func TestScrollRegion(t *testing.T) {
	vt := New(5, 10)
	vt.Write([]byte("aa\r\nbb\r\ncc\r\ndd\r\nee"))
	// region rows 2-4 (1-based), cursor to region bottom, then LF scrolls
	// only the region
	vt.Write([]byte("\x1b[2;4r\x1b[4;1H\nxx"))
	if got := vt.GetRowText(0); got != "aa" {
		t.Errorf("row 0 = %q, want %q (outside region untouched)", got, "aa")
	}
	if got := vt.GetRowText(1); got != "cc" {
		t.Errorf("row 1 = %q, want %q (scrolled up)", got, "cc")
	}
	if got := vt.GetRowText(3); got != "xx" {
		t.Errorf("row 3 = %q, want %q", got, "xx")
	}
	if got := vt.GetRowText(4); got != "ee" {
		t.Errorf("row 4 = %q, want %q (below region untouched)", got, "ee")
	}
}

func TestAltScreen(t *testing.T) {
	vt := New(4, 10)
	var altChanges []bool
	vt.OnTermProp(func(prop TermProp, val any) {
		if prop == PropAltScreen {
			altChanges = append(altChanges, val.(bool))
		}
	})

	vt.Write([]byte("main"))
	vt.Write([]byte("\x1b[?1049h\x1b[H"))
	if !vt.AltScreen() {
		t.Fatal("expected alternate screen active")
	}
	vt.Write([]byte("alt"))
	if got := vt.GetRowText(0); got != "alt" {
		t.Errorf("alt row 0 = %q, want %q", got, "alt")
	}
	vt.Write([]byte("\x1b[?1049l"))
	if vt.AltScreen() {
		t.Fatal("expected primary screen active")
	}
	if got := vt.GetRowText(0); got != "main" {
		t.Errorf("restored row 0 = %q, want %q", got, "main")
	}
	if len(altChanges) != 2 || !altChanges[0] || altChanges[1] {
		t.Errorf("altChanges = %v, want [true false]", altChanges)
	}
}

func TestCursorVisibility(t *testing.T) {
	vt := New(4, 10)
	vt.Write([]byte("\x1b[?25l"))
	if vt.Snapshot().Cursor.Visible {
		t.Error("cursor should be hidden")
	}
	vt.Write([]byte("\x1b[?25h"))
	if !vt.Snapshot().Cursor.Visible {
		t.Error("cursor should be visible")
	}
}

func TestTitle(t *testing.T) {
	vt := New(4, 10)
	var title string
	vt.OnTermProp(func(prop TermProp, val any) {
		if prop == PropTitle {
			title = val.(string)
		}
	})
	vt.Write([]byte("\x1b]2;hello world\x07"))
	if vt.GetTitle() != "hello world" || title != "hello world" {
		t.Errorf("title = %q / callback %q, want %q", vt.GetTitle(), title, "hello world")
	}
	// ST terminator form
	vt.Write([]byte("\x1b]0;other\x1b\\"))
	if vt.GetTitle() != "other" {
		t.Errorf("title = %q, want %q", vt.GetTitle(), "other")
	}
}

func TestSetSize(t *testing.T) {
	vt := New(24, 80)
	vt.Write([]byte("keep me"))
	vt.SetSize(40, 120)
	rows, cols := vt.GetSize()
	if rows != 40 || cols != 120 {
		t.Errorf("GetSize() after resize = (%d, %d), want (40, 120)", rows, cols)
	}
	if got := vt.GetRowText(0); got != "keep me" {
		t.Errorf("GetRowText(0) after resize = %q, want %q", got, "keep me")
	}
}

func TestInsertDeleteLines(t *testing.T) {
	vt := New(4, 10)
	vt.Write([]byte("aa\r\nbb\r\ncc\r\ndd"))
	vt.Write([]byte("\x1b[2;1H\x1b[1L")) // insert a line at row 1
	if got := vt.GetRowText(1); got != "" {
		t.Errorf("row 1 = %q, want empty", got)
	}
	if got := vt.GetRowText(2); got != "bb" {
		t.Errorf("row 2 = %q, want %q", got, "bb")
	}
	vt.Write([]byte("\x1b[1M")) // delete it again
	if got := vt.GetRowText(1); got != "bb" {
		t.Errorf("row 1 = %q, want %q", got, "bb")
	}
}

func TestDeleteChars(t *testing.T) {
	vt := New(2, 10)
	vt.Write([]byte("abcdef\x1b[1;2H\x1b[2P"))
	if got := vt.GetRowText(0); got != "adef" {
		t.Errorf("row 0 = %q, want %q", got, "adef")
	}
}

func TestLongOutputScrolls(t *testing.T) {
	vt := New(5, 20)
	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, "line")
	}
	vt.Write([]byte(strings.Join(lines, "\r\n")))
	row, _ := vt.GetCursor()
	if row != 4 {
		t.Errorf("cursor row = %d, want pinned to bottom (4)", row)
	}
}
