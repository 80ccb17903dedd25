package display

import (
	"os"
)

type glyph struct {
	unicode string
	ascii   string
	style   Style
}

var glyphs = map[string]glyph{
	"success": {"✓", "[OK]", StyleSuccess},
	"error":   {"✗", "[ERR]", StyleError},
	"warning": {"⚠", "[!]", StyleWarning},
	"info":    {"ℹ", "[i]", StyleInfo},
	"hint":    {"→", "->", StyleInfo},
	"full":    {"●", "F", StyleFull},
	"incr":    {"◐", "I", StyleIncremental},
}

// IconSystem renders status glyphs, falling back to ASCII where the locale
// cannot show Unicode.
type IconSystem struct {
	unicode bool
}

func NewIconSystem() *IconSystem {
	return &IconSystem{unicode: localeSupportsUnicode()}
}

func localeSupportsUnicode() bool {
	switch {
	case os.Getenv("FORCE_UNICODE") != "":
		return true
	case os.Getenv("NO_UNICODE") != "":
		return false
	case os.Getenv("LANG") == "C", os.Getenv("LC_ALL") == "C":
		return false
	}
	term := os.Getenv("TERM")
	return term != "dumb" && term != "vt100"
}

// SetUnicodeSupport overrides detection.
func (is *IconSystem) SetUnicodeSupport(enabled bool) {
	is.unicode = enabled
}

// Render returns the glyph text, or "?" for unknown names.
func (is *IconSystem) Render(name string) string {
	g, ok := glyphs[name]
	if !ok {
		return "?"
	}
	if is.unicode {
		return g.unicode
	}
	return g.ascii
}

// Painted renders the glyph in its own style.
func (is *IconSystem) Painted(name string, colors *Colors) string {
	return colors.Paint(glyphs[name].style, is.Render(name))
}
