// Package display renders operation results and prompts for the CLI.
package display

// OutputFormat selects how results are written.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
	FormatYAML OutputFormat = "yaml"
)

// ParseFormat accepts text, table, json and yaml. Unknown values fall back to text.
func ParseFormat(s string) OutputFormat {
	switch OutputFormat(s) {
	case FormatJSON, FormatYAML:
		return OutputFormat(s)
	default:
		return FormatText
	}
}

// Style names the role a piece of output plays. Palettes map roles to colors.
type Style int

const (
	StylePlain Style = iota
	StyleHeading
	StyleSuccess
	StyleWarning
	StyleError
	StyleInfo
	StyleLabel
	StyleFull
	StyleIncremental
)
