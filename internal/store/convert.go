package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	json "github.com/goccy/go-json"

	"dataguard/internal/snapshot"
)

// columnKind is what a scanned column holds, judged from its declared type.
// It matters when a driver hands back raw bytes: the MySQL text protocol
// does so for numbers, and every driver does so for binary columns.
type columnKind int

const (
	kindOther columnKind = iota
	kindInteger
	kindFloat
	kindBinary
)

func kindOf(databaseType string) columnKind {
	name := strings.TrimPrefix(strings.ToUpper(databaseType), "UNSIGNED ")
	switch name {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT", "INT2", "INT4", "INT8", "YEAR":
		return kindInteger
	case "FLOAT", "DOUBLE", "REAL", "FLOAT4", "FLOAT8", "DOUBLE PRECISION":
		return kindFloat
	case "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB", "BINARY", "VARBINARY", "BYTEA":
		return kindBinary
	}
	return kindOther
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	kinds := make([]columnKind, len(columns))
	if types, err := rows.ColumnTypes(); err == nil {
		for i, ct := range types {
			kinds[i] = kindOf(ct.DatabaseTypeName())
		}
	}

	records := []Record{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		record := make(Record, len(columns))
		for i, col := range columns {
			record[col] = fromSQLValue(values[i], kinds[i])
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// fromSQLValue normalizes driver values so they survive the snapshot
// encoding unchanged. Bytes that are not text become snapshot.Binary.
func fromSQLValue(v any, kind columnKind) any {
	switch t := v.(type) {
	case []byte:
		return fromBytes(t, kind)
	case time.Time:
		return t.UTC()
	default:
		return v
	}
}

func fromBytes(b []byte, kind columnKind) any {
	switch kind {
	case kindBinary:
		return snapshot.Binary(append([]byte(nil), b...))
	case kindInteger:
		if i, err := strconv.ParseInt(string(b), 10, 64); err == nil {
			return i
		}
		if u, err := strconv.ParseUint(string(b), 10, 64); err == nil {
			return u
		}
	case kindFloat:
		if f, err := strconv.ParseFloat(string(b), 64); err == nil {
			return f
		}
	}
	if !utf8.Valid(b) {
		return snapshot.Binary(append([]byte(nil), b...))
	}
	return string(b)
}

// toSQLValue converts decoded snapshot values into driver arguments. Strings
// are parsed as times only for time columns; nested documents are stored as
// JSON text.
func toSQLValue(v any, timeColumn bool) any {
	if data, ok := snapshot.AsBinary(v); ok {
		return data
	}
	switch t := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(t.String(), 10, 64); err == nil {
			return i
		}
		if u, err := strconv.ParseUint(t.String(), 10, 64); err == nil {
			return u
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case string:
		if timeColumn {
			if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
				return parsed.UTC()
			}
		}
		return t
	case time.Time:
		return t.UTC()
	case map[string]any, []any:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	default:
		return v
	}
}
