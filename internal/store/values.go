package store

import (
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

// Drivers hand back the same column as different Go types (MySQL and SQLite
// booleans are integers, SQLite times may be text). These accessors read
// catalog rows regardless of which store produced them.

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// StringField returns r[col] as a string; NULL and missing read as "".
func StringField(r Record, col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// IntField returns r[col] as an int64; NULL and missing read as 0.
func IntField(r Record, col string) (int64, error) {
	switch v := r[col].(type) {
	case nil:
		return 0, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint64:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		return strconv.ParseInt(v, 10, 64)
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	default:
		return 0, fmt.Errorf("column %s: cannot read %T as integer", col, v)
	}
}

// BoolField returns r[col] as a bool.
func BoolField(r Record, col string) (bool, error) {
	switch v := r[col].(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		return strconv.ParseBool(v)
	default:
		n, err := IntField(r, col)
		if err != nil {
			return false, err
		}
		return n != 0, nil
	}
}

// TimeField returns r[col] as a UTC time. ok is false for NULL or missing.
func TimeField(r Record, col string) (t time.Time, ok bool, err error) {
	switch v := r[col].(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		return v.UTC(), true, nil
	case *time.Time:
		if v == nil {
			return time.Time{}, false, nil
		}
		return v.UTC(), true, nil
	case []byte:
		return parseTime(col, string(v))
	case string:
		return parseTime(col, v)
	default:
		return time.Time{}, false, fmt.Errorf("column %s: cannot read %T as time", col, v)
	}
}

func parseTime(col, s string) (time.Time, bool, error) {
	if s == "" {
		return time.Time{}, false, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("column %s: unrecognized time %q", col, s)
}

// NullString maps "" to NULL for optional text columns.
func NullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// NullTime maps nil to NULL for optional time columns.
func NullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
