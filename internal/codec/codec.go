// Package codec is the typed serialization boundary for durable state.
//
// Everything written to the key-value store passes through Marshal, which
// normalizes arbitrary-precision numbers to decimal strings before encoding.
// Everything read back passes through Unmarshal, which decodes numbers as
// json.Number so large integers inside opaque artifacts never lose precision.
//
// Persisted documents carry a schema_version; readers call CheckVersion so a
// document written in a different shape is detected rather than misread.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// ErrSchemaVersion is returned when a persisted document has an unexpected version.
var ErrSchemaVersion = errors.New("schema version mismatch")

// Marshal normalizes v and encodes it as compact JSON.
// HTML escaping is disabled so stored text round-trips byte for byte.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(Normalize(v)); err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Unmarshal decodes data into v using json.Number for untyped numbers.
func Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

// CheckVersion returns ErrSchemaVersion unless got == want.
func CheckVersion(got, want int) error {
	if got != want {
		return fmt.Errorf("%w: got %d, want %d", ErrSchemaVersion, got, want)
	}
	return nil
}

// TextKey returns the NFC form of s, so visually identical content produced
// by different sources compares equal in dedupe keys.
func TextKey(s string) string {
	return norm.NFC.String(s)
}
