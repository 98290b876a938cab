package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var emptyObject = []byte("{}")

// Fields is a JSON object held in compact encoded form. Keeping the encoding
// instead of a map preserves key order, so the bytes a citizen signed are the
// bytes sent to signature verification.
type Fields []byte

// NewFields validates raw as a JSON object and compacts it. Empty input and
// JSON null yield empty fields.
func NewFields(raw []byte) (Fields, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if !gjson.ValidBytes(trimmed) {
		return nil, errors.New("form data is not valid JSON")
	}
	if !gjson.ParseBytes(trimmed).IsObject() {
		return nil, errors.New("form data must be a JSON object")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, fmt.Errorf("compact form data: %w", err)
	}
	return Fields(buf.Bytes()), nil
}

// MustFields is NewFields for literals; it panics on invalid input.
func MustFields(raw string) Fields {
	f, err := NewFields([]byte(raw))
	if err != nil {
		panic(err)
	}
	return f
}

func (f Fields) IsEmpty() bool {
	return len(f) == 0 || bytes.Equal(f, emptyObject)
}

// Bytes returns the compact encoding, "{}" when empty.
func (f Fields) Bytes() []byte {
	if len(f) == 0 {
		return append([]byte(nil), emptyObject...)
	}
	return append([]byte(nil), f...)
}

func (f Fields) String() string {
	return string(f.Bytes())
}

// Get looks up a gjson path such as "applicant.name".
func (f Fields) Get(path string) gjson.Result {
	return gjson.GetBytes(f.Bytes(), path)
}

func (f Fields) Equal(other Fields) bool {
	return bytes.Equal(f.Bytes(), other.Bytes())
}

func (f Fields) MarshalJSON() ([]byte, error) {
	return f.Bytes(), nil
}

func (f *Fields) UnmarshalJSON(data []byte) error {
	v, err := NewFields(data)
	if err != nil {
		return err
	}
	*f = v
	return nil
}
