package display

import (
	"io"
	"os"
)

// DisplayConfig controls how the CLI writes output and reads answers.
type DisplayConfig struct {
	Format       OutputFormat
	ColorEnabled bool
	// Palette names a color palette: default, dark or light.
	Palette      string
	ShowProgress bool
	QuietMode    bool
	// AssumeYes answers every confirmation with yes.
	AssumeYes bool

	Writer io.Writer
	Input  io.Reader
}

// DefaultDisplayConfig writes colored text to stdout and reads stdin.
func DefaultDisplayConfig() *DisplayConfig {
	return &DisplayConfig{
		Format:       FormatText,
		ColorEnabled: true,
		Palette:      "default",
		ShowProgress: true,
		Writer:       os.Stdout,
		Input:        os.Stdin,
	}
}

// SetDefaults fills zero fields.
func (dc *DisplayConfig) SetDefaults() {
	if dc.Format == "" {
		dc.Format = FormatText
	}
	if dc.Palette == "" {
		dc.Palette = "default"
	}
	if dc.Writer == nil {
		dc.Writer = os.Stdout
	}
	if dc.Input == nil {
		dc.Input = os.Stdin
	}
}

// IsProgressEnabled reports whether spinners should animate. Structured
// output never animates so it stays machine readable.
func (dc *DisplayConfig) IsProgressEnabled() bool {
	return dc.ShowProgress && !dc.QuietMode && dc.Format == FormatText
}
