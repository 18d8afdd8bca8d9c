package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"unicode/utf8"
)

// jsonDecoder parses a single JSON object. Numbers stay json.Number so that
// integer fields are checked without float rounding. Payloads that are not
// valid UTF-8 are refused instead of having bad bytes replaced with U+FFFD.
type jsonDecoder struct{}

func (jsonDecoder) decode(payload []byte) (map[string]interface{}, error) {
	if !utf8.Valid(payload) {
		return nil, errors.New("payload is not valid UTF-8")
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON value")
	}
	obj, ok := doc.(map[string]interface{})
	if !ok {
		return nil, errors.New("payload is not a JSON object")
	}
	return obj, nil
}
