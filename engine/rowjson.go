package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gateql/gateql/httperror"
	"github.com/gateql/gateql/metadata"
	"github.com/gateql/gateql/query"
)

// rowJSON shapes one returned row into a JSON object with the labels in
// projection order. Mutations go through here; reads shape in the
// database instead.
func rowJSON(returning []query.LabelledColumn, row map[string]any) (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range returning {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, _ := json.Marshal(col.Label)
		buf.Write(name)
		buf.WriteByte(':')
		enc, err := encodeValue(col.Type, row[col.Label])
		if err != nil {
			return nil, httperror.Unexpected(fmt.Errorf("shaping %q: %w", col.Label, err))
		}
		buf.Write(enc)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// encodeValue renders one driver value as JSON text for its declared
// type. Drivers disagree on the Go type a column scans into, so each
// case accepts the shapes the four of them produce.
func encodeValue(t metadata.SQLType, v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	switch t {
	case metadata.TypeBool:
		switch b := v.(type) {
		case bool:
			return json.Marshal(b)
		case int64:
			return json.Marshal(b != 0)
		case float64:
			return json.Marshal(b != 0)
		case string:
			return json.Marshal(b == "1" || strings.EqualFold(b, "true"))
		}
	case metadata.TypeBytes:
		if s, ok := v.(string); ok {
			return json.Marshal([]byte(s))
		}
		if b, ok := v.([]byte); ok {
			return json.Marshal(b)
		}
	case metadata.TypeJSON:
		if s, ok := v.(string); ok {
			if json.Valid([]byte(s)) {
				return []byte(s), nil
			}
			return json.Marshal(s)
		}
	case metadata.TypeDateTime:
		if ts, ok := v.(time.Time); ok {
			return json.Marshal(ts)
		}
	case metadata.TypeDecimal, metadata.TypeInt, metadata.TypeFloat:
		// Text-protocol drivers hand numerics back as strings; keep them
		// numbers in the document.
		if s, ok := v.(string); ok && isJSONNumber(s) {
			return []byte(s), nil
		}
	}
	return json.Marshal(v)
}

// isJSONNumber reports whether s is a bare JSON number token.
func isJSONNumber(s string) bool {
	if s == "" {
		return false
	}
	var n json.Number
	dec := json.NewDecoder(strings.NewReader(s))
	if err := dec.Decode(&n); err != nil {
		return false
	}
	return dec.InputOffset() == int64(len(s))
}
