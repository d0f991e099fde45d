// Package vterm implements an in-memory terminal emulator. It consumes the
// byte stream produced by a process on a PTY, maintains a model of the
// visible screen (grid, cursor, modes), and can serialize that model back
// into control sequences that reproduce the same visual state elsewhere.
//
// The parser is an explicit state machine (ground, escape, CSI, OSC) rather
// than string scanning, so it stays correct when sequences arrive split
// across Write calls. It knows nothing about processes or files.
package vterm

import (
	"strings"
	"unicode/utf8"
)

// ColorMode selects how a Color is encoded.
type ColorMode uint8

const (
	ColorDefault ColorMode = iota
	ColorIndexed
	ColorRGB
)

// Color is a cell foreground or background color.
type Color struct {
	Mode    ColorMode
	Index   uint8
	R, G, B uint8
}

// Attrs holds per-cell text attributes.
type Attrs struct {
	Bold      bool
	Italic    bool
	Underline bool
	Reverse   bool
	Strike    bool
}

// Cell is one character cell. A zero Cell is a blank untouched cell;
// Rune 0 renders as a space.
type Cell struct {
	Rune  rune
	Fg    Color
	Bg    Color
	Attrs Attrs
}

// style returns the cell with its rune cleared, for attribute comparison.
func (c Cell) style() Cell {
	c.Rune = 0
	return c
}

// Cursor is the cursor position (0-based) and visibility.
type Cursor struct {
	Row     int
	Col     int
	Visible bool
}

// TermProp identifies a terminal property reported via OnTermProp.
type TermProp int

const (
	PropTitle TermProp = iota
	PropAltScreen
)

type parseState uint8

const (
	stGround parseState = iota
	stEscape
	stCSI
	stOSC
	stOSCEsc // saw ESC inside OSC, expecting '\' (ST)
	stCharset
)

// VTerm is the terminal model. Not safe for concurrent use; callers
// serialize access (the session manager feeds it from a single loop).
type VTerm struct {
	rows, cols int

	main      [][]Cell
	alt       [][]Cell
	altScreen bool

	cur      Cursor
	saved    Cursor
	pen      Cell // current SGR state; Rune unused
	top, bot int  // scroll region, inclusive rows
	wrapNext bool
	title    string

	state    parseState
	private  byte
	params   []int
	curParam int
	hasDigit bool
	osc      []byte
	partial  []byte // incomplete UTF-8 tail between Write calls

	onPushLine func(string)
	onTermProp func(TermProp, any)
}

// New creates a terminal model with the given size.
func New(rows, cols int) *VTerm {
	if rows <= 0 {
		rows = 24
	}
	if cols <= 0 {
		cols = 80
	}
	vt := &VTerm{rows: rows, cols: cols}
	vt.main = newGrid(rows, cols)
	vt.alt = newGrid(rows, cols)
	vt.cur = Cursor{Visible: true}
	vt.bot = rows - 1
	return vt
}

func newGrid(rows, cols int) [][]Cell {
	g := make([][]Cell, rows)
	for i := range g {
		g[i] = make([]Cell, cols)
	}
	return g
}

// OnPushLine registers a callback invoked with the text of each line that
// scrolls off the top of the primary screen.
func (vt *VTerm) OnPushLine(fn func(line string)) { vt.onPushLine = fn }

// OnTermProp registers a callback for terminal property changes
// (title, alternate screen).
func (vt *VTerm) OnTermProp(fn func(prop TermProp, val any)) { vt.onTermProp = fn }

// GetSize returns the model dimensions.
func (vt *VTerm) GetSize() (rows, cols int) { return vt.rows, vt.cols }

// GetCursor returns the cursor position (0-based).
func (vt *VTerm) GetCursor() (row, col int) { return vt.cur.Row, vt.cur.Col }

// GetTitle returns the window title set via OSC 0/2.
func (vt *VTerm) GetTitle() string { return vt.title }

// AltScreen reports whether the alternate screen is active.
func (vt *VTerm) AltScreen() bool { return vt.altScreen }

func (vt *VTerm) screen() [][]Cell {
	if vt.altScreen {
		return vt.alt
	}
	return vt.main
}

// GetRowText returns the text of one row, right-trimmed.
func (vt *VTerm) GetRowText(row int) string {
	if row < 0 || row >= vt.rows {
		return ""
	}
	var b strings.Builder
	for _, c := range vt.screen()[row] {
		r := c.Rune
		if r == 0 {
			r = ' '
		}
		b.WriteRune(r)
	}
	return strings.TrimRight(b.String(), " ")
}

// GetScreenText returns the whole screen as text, rows joined by newlines
// and right-trimmed.
func (vt *VTerm) GetScreenText() string {
	lines := make([]string, vt.rows)
	for i := range lines {
		lines[i] = vt.GetRowText(i)
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// GetCell returns the cell at the given position.
func (vt *VTerm) GetCell(row, col int) Cell {
	if row < 0 || row >= vt.rows || col < 0 || col >= vt.cols {
		return Cell{}
	}
	return vt.screen()[row][col]
}

// SetSize resizes the model, preserving the overlapping region.
func (vt *VTerm) SetSize(rows, cols int) {
	if rows <= 0 || cols <= 0 || (rows == vt.rows && cols == vt.cols) {
		return
	}
	resize := func(g [][]Cell) [][]Cell {
		ng := newGrid(rows, cols)
		for r := 0; r < rows && r < len(g); r++ {
			copy(ng[r], g[r])
		}
		return ng
	}
	vt.main = resize(vt.main)
	vt.alt = resize(vt.alt)
	vt.rows, vt.cols = rows, cols
	vt.top, vt.bot = 0, rows-1
	vt.clampCursor()
	vt.wrapNext = false
}

func (vt *VTerm) clampCursor() {
	vt.cur.Row = clamp(vt.cur.Row, 0, vt.rows-1)
	vt.cur.Col = clamp(vt.cur.Col, 0, vt.cols-1)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Write feeds process output bytes into the model. It always consumes the
// whole slice; incomplete UTF-8 sequences are buffered for the next call.
func (vt *VTerm) Write(p []byte) int {
	data := p
	if len(vt.partial) > 0 {
		data = append(vt.partial, p...)
		vt.partial = nil
	}
	i := 0
	for i < len(data) {
		b := data[i]
		switch vt.state {
		case stGround:
			switch {
			case b == 0x1b:
				vt.state = stEscape
				i++
			case b < 0x20 || b == 0x7f:
				vt.control(b)
				i++
			case b < utf8.RuneSelf:
				vt.put(rune(b))
				i++
			default:
				if !utf8.FullRune(data[i:]) {
					vt.partial = append([]byte(nil), data[i:]...)
					return len(p)
				}
				r, size := utf8.DecodeRune(data[i:])
				vt.put(r)
				i += size
			}
		case stEscape:
			vt.escape(b)
			i++
		case stCSI:
			vt.csi(b)
			i++
		case stOSC:
			if b == 0x07 {
				vt.oscDispatch()
				vt.state = stGround
			} else if b == 0x1b {
				vt.state = stOSCEsc
			} else {
				vt.osc = append(vt.osc, b)
			}
			i++
		case stOSCEsc:
			if b == '\\' {
				vt.oscDispatch()
			}
			vt.state = stGround
			i++
		case stCharset:
			// SCS designator byte, ignored
			vt.state = stGround
			i++
		}
	}
	return len(p)
}

func (vt *VTerm) control(b byte) {
	switch b {
	case '\n', 0x0b, 0x0c:
		vt.linefeed()
	case '\r':
		vt.cur.Col = 0
		vt.wrapNext = false
	case '\b':
		if vt.cur.Col > 0 {
			vt.cur.Col--
		}
		vt.wrapNext = false
	case '\t':
		vt.cur.Col = clamp((vt.cur.Col/8+1)*8, 0, vt.cols-1)
		vt.wrapNext = false
	}
}

func (vt *VTerm) escape(b byte) {
	vt.state = stGround
	switch b {
	case '[':
		vt.state = stCSI
		vt.params = vt.params[:0]
		vt.curParam = 0
		vt.hasDigit = false
		vt.private = 0
	case ']':
		vt.state = stOSC
		vt.osc = vt.osc[:0]
	case '(', ')', '*', '+':
		vt.state = stCharset
	case '7':
		vt.saved = vt.cur
	case '8':
		vt.cur = vt.saved
		vt.clampCursor()
		vt.wrapNext = false
	case 'D':
		vt.linefeed()
	case 'E':
		vt.cur.Col = 0
		vt.linefeed()
	case 'M':
		vt.reverseIndex()
	case 'c':
		vt.reset()
	}
}

func (vt *VTerm) reset() {
	vt.main = newGrid(vt.rows, vt.cols)
	vt.alt = newGrid(vt.rows, vt.cols)
	vt.cur = Cursor{Visible: true}
	vt.saved = Cursor{}
	vt.pen = Cell{}
	vt.top, vt.bot = 0, vt.rows-1
	vt.wrapNext = false
	vt.setAltScreen(false)
}

func (vt *VTerm) csi(b byte) {
	switch {
	case b >= '0' && b <= '9':
		vt.curParam = vt.curParam*10 + int(b-'0')
		vt.hasDigit = true
	case b == ';':
		vt.params = append(vt.params, vt.curParam)
		vt.curParam = 0
		vt.hasDigit = false
	case b == '?' || b == '>' || b == '<' || b == '=':
		vt.private = b
	case b >= 0x40 && b <= 0x7e:
		if vt.hasDigit || len(vt.params) > 0 {
			vt.params = append(vt.params, vt.curParam)
		}
		vt.state = stGround
		vt.csiDispatch(b)
	default:
		// intermediate bytes (space, !, " ...) — sequences using them
		// are not modeled; swallow until the final byte
	}
}

// param returns the i-th CSI parameter, or def when absent or zero.
func (vt *VTerm) param(i, def int) int {
	if i >= len(vt.params) || vt.params[i] == 0 {
		return def
	}
	return vt.params[i]
}

func (vt *VTerm) csiDispatch(final byte) {
	switch final {
	case 'A':
		vt.moveCursor(vt.cur.Row-vt.param(0, 1), vt.cur.Col)
	case 'B', 'e':
		vt.moveCursor(vt.cur.Row+vt.param(0, 1), vt.cur.Col)
	case 'C', 'a':
		vt.moveCursor(vt.cur.Row, vt.cur.Col+vt.param(0, 1))
	case 'D':
		vt.moveCursor(vt.cur.Row, vt.cur.Col-vt.param(0, 1))
	case 'E':
		vt.moveCursor(vt.cur.Row+vt.param(0, 1), 0)
	case 'F':
		vt.moveCursor(vt.cur.Row-vt.param(0, 1), 0)
	case 'G', '`':
		vt.moveCursor(vt.cur.Row, vt.param(0, 1)-1)
	case 'H', 'f':
		vt.moveCursor(vt.param(0, 1)-1, vt.param(1, 1)-1)
	case 'd':
		vt.moveCursor(vt.param(0, 1)-1, vt.cur.Col)
	case 'J':
		vt.eraseDisplay(vt.param(0, 0))
	case 'K':
		vt.eraseLine(vt.param(0, 0))
	case 'L':
		vt.insertLines(vt.param(0, 1))
	case 'M':
		vt.deleteLines(vt.param(0, 1))
	case '@':
		vt.insertChars(vt.param(0, 1))
	case 'P':
		vt.deleteChars(vt.param(0, 1))
	case 'X':
		vt.eraseChars(vt.param(0, 1))
	case 'S':
		vt.scrollUp(vt.param(0, 1))
	case 'T':
		vt.scrollDown(vt.param(0, 1))
	case 'r':
		vt.setScrollRegion(vt.param(0, 1)-1, vt.param(1, vt.rows)-1)
	case 'm':
		vt.sgr()
	case 'h':
		vt.setMode(true)
	case 'l':
		vt.setMode(false)
	case 's':
		vt.saved = vt.cur
	case 'u':
		vt.cur = vt.saved
		vt.clampCursor()
		vt.wrapNext = false
	}
}

// moveCursor positions the cursor with clamping. Explicit movement always
// cancels a pending wrap.
func (vt *VTerm) moveCursor(row, col int) {
	vt.cur.Row = clamp(row, 0, vt.rows-1)
	vt.cur.Col = clamp(col, 0, vt.cols-1)
	vt.wrapNext = false
}

func (vt *VTerm) put(r rune) {
	if vt.wrapNext {
		vt.wrapNext = false
		vt.cur.Col = 0
		vt.linefeed()
	}
	cell := vt.pen
	cell.Rune = r
	vt.screen()[vt.cur.Row][vt.cur.Col] = cell
	if vt.cur.Col == vt.cols-1 {
		vt.wrapNext = true
	} else {
		vt.cur.Col++
	}
}

func (vt *VTerm) linefeed() {
	vt.wrapNext = false
	if vt.cur.Row == vt.bot {
		vt.scrollUp(1)
	} else if vt.cur.Row < vt.rows-1 {
		vt.cur.Row++
	}
}

func (vt *VTerm) reverseIndex() {
	vt.wrapNext = false
	if vt.cur.Row == vt.top {
		vt.scrollDown(1)
	} else if vt.cur.Row > 0 {
		vt.cur.Row--
	}
}

// scrollUp shifts the scroll region up by n, dropping the top lines.
// Lines scrolled off the top of the primary screen feed the push-line
// callback (scrollback).
func (vt *VTerm) scrollUp(n int) {
	if n <= 0 {
		return
	}
	if n > vt.bot-vt.top+1 {
		n = vt.bot - vt.top + 1
	}
	g := vt.screen()
	if !vt.altScreen && vt.top == 0 && vt.onPushLine != nil {
		for i := 0; i < n; i++ {
			vt.onPushLine(vt.GetRowText(i))
		}
	}
	for r := vt.top; r <= vt.bot-n; r++ {
		g[r] = g[r+n]
	}
	for r := vt.bot - n + 1; r <= vt.bot; r++ {
		g[r] = make([]Cell, vt.cols)
	}
}

func (vt *VTerm) scrollDown(n int) {
	if n <= 0 {
		return
	}
	if n > vt.bot-vt.top+1 {
		n = vt.bot - vt.top + 1
	}
	g := vt.screen()
	for r := vt.bot; r >= vt.top+n; r-- {
		g[r] = g[r-n]
	}
	for r := vt.top; r < vt.top+n; r++ {
		g[r] = make([]Cell, vt.cols)
	}
}

func (vt *VTerm) setScrollRegion(top, bot int) {
	top = clamp(top, 0, vt.rows-1)
	bot = clamp(bot, 0, vt.rows-1)
	if top >= bot {
		top, bot = 0, vt.rows-1
	}
	vt.top, vt.bot = top, bot
	vt.moveCursor(0, 0)
}

func (vt *VTerm) eraseDisplay(mode int) {
	g := vt.screen()
	switch mode {
	case 0:
		vt.eraseLine(0)
		for r := vt.cur.Row + 1; r < vt.rows; r++ {
			g[r] = make([]Cell, vt.cols)
		}
	case 1:
		vt.eraseLine(1)
		for r := 0; r < vt.cur.Row; r++ {
			g[r] = make([]Cell, vt.cols)
		}
	case 2, 3:
		for r := 0; r < vt.rows; r++ {
			g[r] = make([]Cell, vt.cols)
		}
	}
}

func (vt *VTerm) eraseLine(mode int) {
	row := vt.screen()[vt.cur.Row]
	switch mode {
	case 0:
		for c := vt.cur.Col; c < vt.cols; c++ {
			row[c] = Cell{}
		}
	case 1:
		for c := 0; c <= vt.cur.Col; c++ {
			row[c] = Cell{}
		}
	case 2:
		for c := 0; c < vt.cols; c++ {
			row[c] = Cell{}
		}
	}
}

func (vt *VTerm) insertLines(n int) {
	if vt.cur.Row < vt.top || vt.cur.Row > vt.bot {
		return
	}
	savedTop := vt.top
	vt.top = vt.cur.Row
	vt.scrollDown(n)
	vt.top = savedTop
}

func (vt *VTerm) deleteLines(n int) {
	if vt.cur.Row < vt.top || vt.cur.Row > vt.bot {
		return
	}
	savedTop := vt.top
	vt.top = vt.cur.Row
	// deletion inside the region must not feed scrollback
	push := vt.onPushLine
	vt.onPushLine = nil
	vt.scrollUp(n)
	vt.onPushLine = push
	vt.top = savedTop
}

func (vt *VTerm) insertChars(n int) {
	row := vt.screen()[vt.cur.Row]
	for c := vt.cols - 1; c >= vt.cur.Col+n; c-- {
		row[c] = row[c-n]
	}
	for c := vt.cur.Col; c < vt.cur.Col+n && c < vt.cols; c++ {
		row[c] = Cell{}
	}
}

func (vt *VTerm) deleteChars(n int) {
	row := vt.screen()[vt.cur.Row]
	for c := vt.cur.Col; c < vt.cols; c++ {
		if c+n < vt.cols {
			row[c] = row[c+n]
		} else {
			row[c] = Cell{}
		}
	}
}

func (vt *VTerm) eraseChars(n int) {
	row := vt.screen()[vt.cur.Row]
	for c := vt.cur.Col; c < vt.cur.Col+n && c < vt.cols; c++ {
		row[c] = Cell{}
	}
}

func (vt *VTerm) setMode(on bool) {
	if vt.private != '?' {
		return
	}
	for _, p := range vt.params {
		switch p {
		case 25:
			vt.cur.Visible = on
		case 47, 1047:
			vt.setAltScreen(on)
		case 1049:
			if on {
				vt.saved = vt.cur
				vt.setAltScreen(true)
				vt.alt = newGrid(vt.rows, vt.cols)
			} else {
				vt.setAltScreen(false)
				vt.cur = vt.saved
				vt.clampCursor()
			}
		}
	}
}

func (vt *VTerm) setAltScreen(on bool) {
	if vt.altScreen == on {
		return
	}
	vt.altScreen = on
	vt.wrapNext = false
	if vt.onTermProp != nil {
		vt.onTermProp(PropAltScreen, on)
	}
}

func (vt *VTerm) sgr() {
	if len(vt.params) == 0 {
		vt.pen = Cell{}
		return
	}
	for i := 0; i < len(vt.params); i++ {
		switch p := vt.params[i]; {
		case p == 0:
			vt.pen = Cell{}
		case p == 1:
			vt.pen.Attrs.Bold = true
		case p == 3:
			vt.pen.Attrs.Italic = true
		case p == 4:
			vt.pen.Attrs.Underline = true
		case p == 7:
			vt.pen.Attrs.Reverse = true
		case p == 9:
			vt.pen.Attrs.Strike = true
		case p == 22:
			vt.pen.Attrs.Bold = false
		case p == 23:
			vt.pen.Attrs.Italic = false
		case p == 24:
			vt.pen.Attrs.Underline = false
		case p == 27:
			vt.pen.Attrs.Reverse = false
		case p == 29:
			vt.pen.Attrs.Strike = false
		case p >= 30 && p <= 37:
			vt.pen.Fg = Color{Mode: ColorIndexed, Index: uint8(p - 30)}
		case p == 38:
			i += vt.extendedColor(&vt.pen.Fg, i)
		case p == 39:
			vt.pen.Fg = Color{}
		case p >= 40 && p <= 47:
			vt.pen.Bg = Color{Mode: ColorIndexed, Index: uint8(p - 40)}
		case p == 48:
			i += vt.extendedColor(&vt.pen.Bg, i)
		case p == 49:
			vt.pen.Bg = Color{}
		case p >= 90 && p <= 97:
			vt.pen.Fg = Color{Mode: ColorIndexed, Index: uint8(p - 90 + 8)}
		case p >= 100 && p <= 107:
			vt.pen.Bg = Color{Mode: ColorIndexed, Index: uint8(p - 100 + 8)}
		}
	}
}

// extendedColor parses 38;5;n / 38;2;r;g;b starting at params[i] and
// returns how many extra parameters were consumed.
func (vt *VTerm) extendedColor(dst *Color, i int) int {
	if i+1 >= len(vt.params) {
		return 0
	}
	switch vt.params[i+1] {
	case 5:
		if i+2 < len(vt.params) {
			*dst = Color{Mode: ColorIndexed, Index: uint8(vt.params[i+2])}
			return 2
		}
	case 2:
		if i+4 < len(vt.params) {
			*dst = Color{
				Mode: ColorRGB,
				R:    uint8(vt.params[i+2]),
				G:    uint8(vt.params[i+3]),
				B:    uint8(vt.params[i+4]),
			}
			return 4
		}
	}
	return 0
}

func (vt *VTerm) oscDispatch() {
	s := string(vt.osc)
	if title, ok := strings.CutPrefix(s, "0;"); ok {
		vt.setTitle(title)
	} else if title, ok := strings.CutPrefix(s, "2;"); ok {
		vt.setTitle(title)
	}
}

func (vt *VTerm) setTitle(title string) {
	vt.title = title
	if vt.onTermProp != nil {
		vt.onTermProp(PropTitle, title)
	}
}
