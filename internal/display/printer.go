package display

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"dataguard/internal/backup"
	"dataguard/internal/migration"
	"dataguard/internal/restore"
	"dataguard/internal/retention"
	"dataguard/internal/service"
	"dataguard/internal/snapshot"
)

// Printer writes service results and status messages in the configured format.
type Printer struct {
	config *DisplayConfig
	colors *Colors
	icons  *IconSystem
	w      io.Writer
}

// NewPrinter creates a printer. A nil config uses the defaults.
func NewPrinter(config *DisplayConfig) *Printer {
	if config == nil {
		config = DefaultDisplayConfig()
	}
	config.SetDefaults()
	enabled := config.ColorEnabled && config.Format == FormatText
	return &Printer{
		config: config,
		colors: NewColors(PaletteByName(config.Palette), config.Writer, enabled),
		icons:  NewIconSystem(),
		w:      config.Writer,
	}
}

// Config returns the printer configuration.
func (p *Printer) Config() *DisplayConfig {
	return p.config
}

// Icons exposes the icon system so callers can force ASCII output.
func (p *Printer) Icons() *IconSystem {
	return p.icons
}

func (p *Printer) Success(message string) { p.status("success", message, StyleSuccess) }
func (p *Printer) Warning(message string) { p.status("warning", message, StyleWarning) }
func (p *Printer) Error(message string)   { p.status("error", message, StyleError) }
func (p *Printer) Info(message string)    { p.status("info", message, StyleInfo) }

func (p *Printer) status(icon, message string, style Style) {
	if p.config.Format != FormatText {
		return
	}
	if p.config.QuietMode && icon != "error" {
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.icons.Painted(icon, p.colors), p.colors.Paint(style, message))
}

// StartSpinner starts a spinner when progress output is enabled. The returned
// spinner is safe to Stop either way.
func (p *Printer) StartSpinner(message string) *Spinner {
	s := NewSpinner(p.w, p.colors, p.icons.unicode, message)
	if p.config.IsProgressEnabled() && p.colors.Enabled() {
		s.Start()
	}
	return s
}

// Confirm asks before a destructive operation. AssumeYes skips the prompt.
func (p *Printer) Confirm(ctx context.Context, build func(*ConfirmationDialog)) (bool, error) {
	if p.config.AssumeYes {
		return true, nil
	}
	dialog := NewConfirmationDialog(p.colors, p.icons, p.w, p.config.Input)
	build(dialog)
	return dialog.Show(ctx)
}

// PrintResult renders res. Structured formats emit the whole result; text
// renders the message, a view of the details, and troubleshooting hints.
func (p *Printer) PrintResult(res service.Result) error {
	switch p.config.Format {
	case FormatJSON:
		return p.writeJSON(res)
	case FormatYAML:
		return p.writeYAML(res)
	}

	if res.Success {
		if !p.config.QuietMode {
			fmt.Fprintf(p.w, "%s %s\n", p.icons.Painted("success", p.colors), p.colors.Paint(StyleSuccess, res.Message))
		}
	} else {
		fmt.Fprintf(p.w, "%s %s\n", p.icons.Painted("error", p.colors), p.colors.Paint(StyleError, res.Message))
	}

	if res.Details != nil && !p.config.QuietMode {
		p.printDetails(res.Details)
	}

	if len(res.Hints) > 0 {
		fmt.Fprintln(p.w)
		fmt.Fprintln(p.w, p.colors.Paint(StyleWarning, "Troubleshooting:"))
		for _, h := range res.Hints {
			fmt.Fprintf(p.w, "  %s %s\n", p.icons.Render("hint"), h)
		}
	}
	return nil
}

func (p *Printer) writeJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error formatting JSON: %w", err)
	}
	_, err = fmt.Fprintln(p.w, string(data))
	return err
}

// writeYAML goes through JSON so field names match the json tags.
func (p *Printer) writeYAML(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("error formatting YAML: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("error formatting YAML: %w", err)
	}
	out, err := yaml.Marshal(generic)
	if err != nil {
		return fmt.Errorf("error formatting YAML: %w", err)
	}
	_, err = p.w.Write(out)
	return err
}

func (p *Printer) printDetails(details interface{}) {
	if isNilPointer(details) {
		return
	}
	switch d := details.(type) {
	case []*backup.BackupRecord:
		p.backupTable(d)
	case *backup.BackupRecord:
		p.backupRecord(d)
	case *backup.VerifyResult:
		p.verifyResult(d)
	case *restore.Result:
		p.restoreResult(d)
	case *retention.PolicyReport:
		if d.Backup != nil {
			p.backupRecord(d.Backup)
		}
		p.keyValues([][2]string{{"Removed backups", strconv.Itoa(d.RemovedBackups)}})
	case *retention.ArchiveReport:
		p.keyValues([][2]string{
			{"Archived", strconv.Itoa(d.Archived)},
			{"Cleaned", strconv.Itoa(d.Cleaned)},
		})
	case []*migration.MigrationRecord:
		p.migrationTable(d)
	case *migration.MigrationRecord:
		p.migrationRecord(d)
	case map[string]interface{}:
		p.genericMap(d, "  ")
	default:
		p.writeYAML(d)
	}
}

// newTable draws box lines where the locale can show them.
func (p *Printer) newTable(headers ...string) *Table {
	t := NewTable(p.colors, headers...)
	if p.icons.unicode {
		t.SetBorder(LineBorderStyle)
	}
	return t
}

func (p *Printer) backupTable(recs []*backup.BackupRecord) {
	if len(recs) == 0 {
		return
	}
	t := p.newTable("ID", "TYPE", "CREATED", "RECORDS", "SIZE", "COMPRESSION", "ENCRYPTED", "BASE")
	t.SetColumnAlignment(3, AlignRight).SetColumnAlignment(4, AlignRight)
	for _, r := range recs {
		t.AddRow(r.BackupID, string(r.BackupType), r.CreatedAt.Format(time.RFC3339),
			strconv.Itoa(r.TotalRecords), formatBytes(r.FileSize), r.Compression,
			strconv.FormatBool(r.Encrypted), r.PreviousBackupID)
	}
	t.RenderTo(p.w)
}

func typeGlyph(t snapshot.BackupType) string {
	if t == snapshot.TypeIncremental {
		return "incr"
	}
	return "full"
}

func (p *Printer) backupRecord(r *backup.BackupRecord) {
	pairs := [][2]string{
		{"Backup ID", r.BackupID},
		{"Type", p.icons.Painted(typeGlyph(r.BackupType), p.colors) + " " + string(r.BackupType)},
		{"Location", r.StorageLocation},
		{"Size", formatBytes(r.FileSize)},
		{"Records", fmt.Sprintf("%d in %d collections", r.TotalRecords, r.TableCount)},
		{"Checksum", r.Checksum},
	}
	if r.PreviousBackupID != "" {
		pairs = append(pairs, [2]string{"Based on", r.PreviousBackupID})
	}
	p.keyValues(pairs)
	p.counts("Per collection", r.RecordCounts)
}

func (p *Printer) verifyResult(v *backup.VerifyResult) {
	mark := func(ok bool) string {
		if ok {
			return p.icons.Painted("success", p.colors)
		}
		return p.icons.Painted("error", p.colors)
	}
	fmt.Fprintf(p.w, "  %s record checksum\n", mark(v.ChecksumMatch))
	fmt.Fprintf(p.w, "  %s payload checksum\n", mark(v.PayloadChecksumMatch))
	fmt.Fprintf(p.w, "  %s content checksum\n", mark(v.ContentChecksumMatch))
	for _, c := range v.MissingCollections {
		fmt.Fprintf(p.w, "  %s missing collection %s\n", p.icons.Painted("warning", p.colors), c)
	}
	for _, issue := range v.Issues {
		fmt.Fprintf(p.w, "  %s %s\n", p.icons.Painted("warning", p.colors), issue)
	}
}

func (p *Printer) restoreResult(r *restore.Result) {
	p.keyValues([][2]string{
		{"Restore ID", r.RestoreID},
		{"Backup", fmt.Sprintf("%s (%s)", r.BackupID, r.BackupType)},
		{"Duration", r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()},
	})
	p.counts("Applied", r.Applied)
	p.counts("Pruned", r.Pruned)
	if len(r.Failures) > 0 {
		t := p.newTable("COLLECTION", "INDEX", "KEY", "REASON")
		for _, f := range r.Failures {
			t.AddRow(f.Collection, strconv.Itoa(f.Index), f.Key, f.Reason)
		}
		t.RenderTo(p.w)
	}
}

func (p *Printer) migrationTable(recs []*migration.MigrationRecord) {
	if len(recs) == 0 {
		return
	}
	t := p.newTable("ID", "STATUS", "EXECUTED", "STEPS", "BACKUP", "DESCRIPTION")
	for _, r := range recs {
		t.AddRow(r.MigrationID, string(r.Status), r.ExecutedAt.Format(time.RFC3339),
			fmt.Sprintf("%d/%d", r.StepsCompleted, r.StepsTotal), r.BackupID, r.Description)
	}
	t.RenderTo(p.w)
}

func (p *Printer) migrationRecord(r *migration.MigrationRecord) {
	pairs := [][2]string{
		{"Migration ID", r.MigrationID},
		{"Status", string(r.Status)},
		{"Steps", fmt.Sprintf("%d/%d", r.StepsCompleted, r.StepsTotal)},
	}
	if r.BackupID != "" {
		pairs = append(pairs, [2]string{"Pre-migration backup", r.BackupID})
	}
	if r.ErrorMessage != "" {
		pairs = append(pairs, [2]string{"Error", r.ErrorMessage})
	}
	p.keyValues(pairs)
}

func (p *Printer) genericMap(m map[string]interface{}, indent string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := m[k].(type) {
		case map[string]interface{}:
			fmt.Fprintf(p.w, "%s%s:\n", indent, k)
			p.genericMap(v, indent+"  ")
		case map[string]string:
			fmt.Fprintf(p.w, "%s%s:\n", indent, k)
			nested := make(map[string]interface{}, len(v))
			for nk, nv := range v {
				nested[nk] = nv
			}
			p.genericMap(nested, indent+"  ")
		case *backup.BackupRecord, *restore.Result, *migration.MigrationRecord:
			fmt.Fprintf(p.w, "%s%s:\n", indent, k)
			p.printDetails(v)
		case time.Time:
			fmt.Fprintf(p.w, "%s%s: %s\n", indent, k, v.Format(time.RFC3339))
		default:
			fmt.Fprintf(p.w, "%s%s: %v\n", indent, k, v)
		}
	}
}

func (p *Printer) keyValues(pairs [][2]string) {
	width := 0
	for _, kv := range pairs {
		if len(kv[0]) > width {
			width = len(kv[0])
		}
	}
	for _, kv := range pairs {
		label := p.colors.Paintf(StyleLabel, "%-*s", width, kv[0])
		fmt.Fprintf(p.w, "  %s  %s\n", label, kv[1])
	}
}

func (p *Printer) counts(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", n, counts[n]))
	}
	fmt.Fprintf(p.w, "  %s: %s\n", title, strings.Join(parts, ", "))
}

func isNilPointer(v interface{}) bool {
	rv := reflect.ValueOf(v)
	return !rv.IsValid() || (rv.Kind() == reflect.Ptr && rv.IsNil())
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
