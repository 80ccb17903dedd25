package snapshot

import (
	"encoding/base64"

	json "github.com/goccy/go-json"
)

// binaryKey tags a base64 document holding raw column bytes.
const binaryKey = "$binary"

// Binary is a column value that must keep its exact bytes. JSON strings
// cannot carry invalid UTF-8, so it encodes as {"$binary": "<base64>"} and
// Decode turns that document back into a Binary. Both forms fingerprint the
// same way.
type Binary []byte

// MarshalJSON encodes b as a tagged base64 document.
func (b Binary) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{binaryKey: base64.StdEncoding.EncodeToString(b)})
}

// AsBinary returns the bytes carried by v when v is a Binary or its decoded
// document form.
func AsBinary(v any) ([]byte, bool) {
	switch t := v.(type) {
	case Binary:
		return []byte(t), true
	case map[string]any:
		if len(t) != 1 {
			return nil, false
		}
		s, ok := t[binaryKey].(string)
		if !ok {
			return nil, false
		}
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, false
		}
		return data, true
	default:
		return nil, false
	}
}

// reviveBinary replaces decoded binary documents with Binary values.
func reviveBinary(s *Snapshot) {
	for _, records := range s.Collections {
		for _, r := range records {
			for col, v := range r {
				if data, ok := AsBinary(v); ok {
					r[col] = Binary(data)
				}
			}
		}
	}
}
