package display

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Palette assigns terminal attributes to output styles.
type Palette map[Style][]color.Attribute

var palettes = map[string]Palette{
	"default": {
		StyleHeading:     {color.FgBlue, color.Bold},
		StyleSuccess:     {color.FgGreen},
		StyleWarning:     {color.FgYellow},
		StyleError:       {color.FgRed},
		StyleInfo:        {color.FgCyan},
		StyleLabel:       {color.Faint},
		StyleFull:        {color.FgBlue},
		StyleIncremental: {color.FgMagenta},
	},
	"dark": {
		StyleHeading:     {color.FgHiBlue, color.Bold},
		StyleSuccess:     {color.FgHiGreen},
		StyleWarning:     {color.FgHiYellow},
		StyleError:       {color.FgHiRed},
		StyleInfo:        {color.FgHiCyan},
		StyleLabel:       {color.FgWhite},
		StyleFull:        {color.FgHiBlue},
		StyleIncremental: {color.FgHiMagenta},
	},
	"light": {
		StyleHeading:     {color.FgBlue, color.Bold},
		StyleSuccess:     {color.FgGreen},
		StyleWarning:     {color.FgRed},
		StyleError:       {color.FgRed, color.Bold},
		StyleInfo:        {color.FgBlue},
		StyleLabel:       {color.FgBlack},
		StyleFull:        {color.FgBlue},
		StyleIncremental: {color.FgMagenta},
	},
}

// PaletteByName returns the named palette, or the default one.
func PaletteByName(name string) Palette {
	if p, ok := palettes[name]; ok {
		return p
	}
	return palettes["default"]
}

// Colors paints text for one writer. A zero or nil Colors paints nothing.
type Colors struct {
	enabled bool
	styles  map[Style]*color.Color
}

// NewColors builds the painter for w. Colors stay off when w is not a
// terminal, when NO_COLOR is set, or when enabled is false.
func NewColors(palette Palette, w io.Writer, enabled bool) *Colors {
	c := &Colors{
		enabled: enabled && terminalSupportsColor(w),
		styles:  make(map[Style]*color.Color, len(palette)),
	}
	for style, attrs := range palette {
		painter := color.New(attrs...)
		// fatih/color decides globally from os.Stdout; we decide per writer.
		if c.enabled {
			painter.EnableColor()
		} else {
			painter.DisableColor()
		}
		c.styles[style] = painter
	}
	return c
}

func terminalSupportsColor(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return false
	}
	if _, noColor := os.LookupEnv("NO_COLOR"); noColor || os.Getenv("TERM") == "dumb" {
		return false
	}
	return termenv.NewOutput(f).Profile != termenv.Ascii
}

// Enabled reports whether escape codes are written.
func (c *Colors) Enabled() bool {
	return c != nil && c.enabled
}

// Paint wraps text in the attributes for style.
func (c *Colors) Paint(style Style, text string) string {
	if !c.Enabled() {
		return text
	}
	if painter, ok := c.styles[style]; ok {
		return painter.Sprint(text)
	}
	return text
}

// Paintf formats then paints.
func (c *Colors) Paintf(style Style, format string, args ...interface{}) string {
	return c.Paint(style, fmt.Sprintf(format, args...))
}
