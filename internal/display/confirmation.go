package display

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	appErrors "dataguard/internal/errors"
)

// ConfirmationDialog asks a yes/no question before a destructive operation.
type ConfirmationDialog struct {
	Title         string
	Message       string
	Warning       string
	Details       []string
	IsDestructive bool
	DefaultYes    bool

	colors *Colors
	icons  *IconSystem
	writer io.Writer
	reader *bufio.Reader
}

// NewConfirmationDialog creates a dialog reading answers from r.
func NewConfirmationDialog(colors *Colors, icons *IconSystem, w io.Writer, r io.Reader) *ConfirmationDialog {
	return &ConfirmationDialog{colors: colors, icons: icons, writer: w, reader: bufio.NewReader(r)}
}

func (cd *ConfirmationDialog) SetTitle(title string) *ConfirmationDialog {
	cd.Title = title
	return cd
}

func (cd *ConfirmationDialog) SetMessage(message string) *ConfirmationDialog {
	cd.Message = message
	return cd
}

func (cd *ConfirmationDialog) SetWarning(message string) *ConfirmationDialog {
	cd.Warning = message
	return cd
}

func (cd *ConfirmationDialog) SetDestructive(destructive bool) *ConfirmationDialog {
	cd.IsDestructive = destructive
	return cd
}

// AddDetails adds lines shown when the user answers "d".
func (cd *ConfirmationDialog) AddDetails(details ...string) *ConfirmationDialog {
	cd.Details = append(cd.Details, details...)
	return cd
}

// Show renders the dialog and waits for an answer. End of input counts as
// "no". A cancelled ctx returns an interruption error.
func (cd *ConfirmationDialog) Show(ctx context.Context) (bool, error) {
	cd.render()
	for {
		cd.renderPrompt()
		input, err := cd.readLine(ctx)
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(cd.writer)
				return false, nil
			}
			return false, err
		}

		switch strings.ToLower(input) {
		case "":
			return cd.DefaultYes, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		case "d", "details":
			if len(cd.Details) > 0 {
				cd.showDetails()
				continue
			}
		}
		fmt.Fprintln(cd.writer, cd.colors.Paint(StyleError, cd.icons.Render("error")+" Invalid input. Please answer y or n."))
	}
}

func (cd *ConfirmationDialog) readLine(ctx context.Context) (string, error) {
	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := cd.reader.ReadString('\n')
		if err == io.EOF && line != "" {
			err = nil
		}
		ch <- answer{strings.TrimSpace(line), err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cd.writer)
		return "", appErrors.NewAppError(appErrors.ErrorTypeInterruption, "operation cancelled by user", ctx.Err())
	case a := <-ch:
		return a.line, a.err
	}
}

func (cd *ConfirmationDialog) render() {
	fmt.Fprintln(cd.writer)
	if cd.Title != "" {
		fmt.Fprintln(cd.writer, cd.colors.Paint(StyleHeading, cd.icons.Render("info")+" "+cd.Title))
		fmt.Fprintln(cd.writer, strings.Repeat("-", len(cd.Title)+2))
	}
	if cd.IsDestructive {
		fmt.Fprintln(cd.writer, cd.colors.Paint(StyleError, cd.icons.Render("warning")+" DESTRUCTIVE OPERATION"))
	}
	if cd.Warning != "" {
		fmt.Fprintln(cd.writer, cd.colors.Paint(StyleWarning, cd.Warning))
	}
	if cd.Message != "" {
		fmt.Fprintln(cd.writer, cd.Message)
	}
}

func (cd *ConfirmationDialog) renderPrompt() {
	keys := "y/N"
	if cd.DefaultYes {
		keys = "Y/n"
	}
	if len(cd.Details) > 0 {
		keys += "/d"
	}
	fmt.Fprint(cd.writer, cd.colors.Paintf(StyleHeading, "Continue? [%s]: ", keys))
}

func (cd *ConfirmationDialog) showDetails() {
	fmt.Fprintln(cd.writer, strings.Repeat("-", 30))
	for i, d := range cd.Details {
		fmt.Fprintf(cd.writer, "%d. %s\n", i+1, d)
	}
	fmt.Fprintln(cd.writer, strings.Repeat("-", 30))
}
