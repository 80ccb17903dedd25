package store

import (
	"fmt"
	"strings"
)

// Dialect captures the SQL differences between supported databases. Only
// identifiers that passed collections.ValidIdentifier ever reach Quote.
type Dialect interface {
	Name() string
	// DriverName is the database/sql driver to open.
	DriverName() string
	// GooseDialect is the goose dialect for catalog migrations.
	GooseDialect() string
	Quote(ident string) string
	Placeholder(n int) string
	// UpsertSQL renders a parameterized insert-or-replace keyed on pk.
	UpsertSQL(table, pk string, columns []string) string
}

// DialectFor returns the dialect for a configured driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "mysql", "mariadb":
		return mysqlDialect{}, nil
	case "postgres", "postgresql", "pgx":
		return postgresDialect{}, nil
	case "sqlite", "sqlite3":
		return sqliteDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string         { return "mysql" }
func (mysqlDialect) DriverName() string   { return "mysql" }
func (mysqlDialect) GooseDialect() string { return "mysql" }
func (mysqlDialect) Quote(ident string) string {
	return "`" + ident + "`"
}
func (mysqlDialect) Placeholder(int) string { return "?" }

func (d mysqlDialect) UpsertSQL(table, pk string, columns []string) string {
	var b strings.Builder
	writeInsert(&b, d, table, columns)
	b.WriteString(" ON DUPLICATE KEY UPDATE ")

	updates := make([]string, 0, len(columns))
	for _, col := range columns {
		if col == pk {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", d.Quote(col), d.Quote(col)))
	}
	if len(updates) == 0 {
		updates = append(updates, fmt.Sprintf("%s = %s", d.Quote(pk), d.Quote(pk)))
	}
	b.WriteString(strings.Join(updates, ", "))
	return b.String()
}

type postgresDialect struct{}

func (postgresDialect) Name() string         { return "postgres" }
func (postgresDialect) DriverName() string   { return "pgx" }
func (postgresDialect) GooseDialect() string { return "postgres" }
func (postgresDialect) Quote(ident string) string {
	return `"` + ident + `"`
}
func (postgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (d postgresDialect) UpsertSQL(table, pk string, columns []string) string {
	return conflictUpsert(d, table, pk, columns)
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string         { return "sqlite" }
func (sqliteDialect) DriverName() string   { return "sqlite" }
func (sqliteDialect) GooseDialect() string { return "sqlite3" }
func (sqliteDialect) Quote(ident string) string {
	return `"` + ident + `"`
}
func (sqliteDialect) Placeholder(int) string { return "?" }

func (d sqliteDialect) UpsertSQL(table, pk string, columns []string) string {
	return conflictUpsert(d, table, pk, columns)
}

func conflictUpsert(d Dialect, table, pk string, columns []string) string {
	var b strings.Builder
	writeInsert(&b, d, table, columns)
	fmt.Fprintf(&b, " ON CONFLICT (%s) DO ", d.Quote(pk))

	updates := make([]string, 0, len(columns))
	for _, col := range columns {
		if col == pk {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", d.Quote(col), d.Quote(col)))
	}
	if len(updates) == 0 {
		b.WriteString("NOTHING")
		return b.String()
	}
	b.WriteString("UPDATE SET ")
	b.WriteString(strings.Join(updates, ", "))
	return b.String()
}

func writeInsert(b *strings.Builder, d Dialect, table string, columns []string) {
	quoted := make([]string, len(columns))
	params := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = d.Quote(col)
		params[i] = d.Placeholder(i + 1)
	}
	fmt.Fprintf(b, "INSERT INTO %s (%s) VALUES (%s)",
		d.Quote(table), strings.Join(quoted, ", "), strings.Join(params, ", "))
}

// whereClause renders p starting at placeholder index start and returns the
// SQL fragment (without WHERE) and its arguments.
func whereClause(d Dialect, p Predicate, start int) (string, []any) {
	if len(p) == 0 {
		return "", nil
	}
	parts := make([]string, len(p))
	args := make([]any, len(p))
	for i, c := range p {
		parts[i] = fmt.Sprintf("%s %s %s", d.Quote(c.Column), c.Op, d.Placeholder(start+i))
		args[i] = toSQLValue(c.Value, false)
	}
	return strings.Join(parts, " AND "), args
}
