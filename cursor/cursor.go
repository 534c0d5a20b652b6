// Package cursor implements the opaque continuation tokens paginated
// reads hand back to clients. A token is base64(JSON) over the list of
// ordering positions of the last row served: the effective order-by
// columns first, then whatever key columns the ordering was extended
// with. Tokens are opaque to clients but not secret; decoding validates
// shape here and the engine re-validates values against entity metadata.
package cursor

import (
	"encoding/base64"
	"encoding/json"

	"github.com/gateql/gateql/httperror"
)

// Direction is the sort direction of one cursor position. The wire values
// are 0 and 1 so tokens stay compatible across versions.
type Direction int

const (
	Ascending  Direction = 0
	Descending Direction = 1
)

// Element is one ordering position of a continuation token. Column names
// are backing database names, not API field names, so a token survives
// field-mapping changes that keep the underlying columns.
type Element struct {
	TableSchema string    `json:"TableSchema"`
	TableName   string    `json:"TableName"`
	ColumnName  string    `json:"ColumnName"`
	Value       any       `json:"Value"`
	Direction   Direction `json:"Direction"`
}

// Encode serializes elements into an opaque token.
func Encode(elements []Element) (string, error) {
	data, err := json.Marshal(elements)
	if err != nil {
		return "", httperror.Unexpected(err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Decode parses an opaque token back into its elements. Anything that is
// not base64 over a non-empty JSON element list is a bad request: tokens
// only ever come from Encode, so a malformed one was corrupted or forged.
func Decode(token string) ([]Element, error) {
	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, httperror.BadRequest("$after cursor is not valid base64")
	}
	var elements []Element
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, httperror.BadRequest("$after cursor payload is malformed")
	}
	if len(elements) == 0 {
		return nil, httperror.BadRequest("$after cursor is empty")
	}
	for _, e := range elements {
		if e.ColumnName == "" || e.TableName == "" {
			return nil, httperror.BadRequest("$after cursor payload is malformed")
		}
		if e.Direction != Ascending && e.Direction != Descending {
			return nil, httperror.BadRequest("$after cursor payload is malformed")
		}
	}
	return elements, nil
}

// Validate checks that decoded elements continue the ordering of the
// current request: same columns, same directions, same sequence. A token
// from a differently ordered query would page incoherently, so the
// mismatch is reported back to the caller.
func Validate(elements, expected []Element) error {
	if len(elements) != len(expected) {
		return httperror.BadRequest("$after cursor does not match the requested ordering")
	}
	for i, e := range elements {
		want := expected[i]
		if e.TableSchema != want.TableSchema || e.TableName != want.TableName ||
			e.ColumnName != want.ColumnName || e.Direction != want.Direction {
			return httperror.BadRequest("$after cursor does not match the requested ordering")
		}
	}
	return nil
}
